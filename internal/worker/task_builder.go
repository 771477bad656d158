package worker

import (
	"errors"
	"strconv"
	"strings"

	"rollcall/internal/models"
)

var (
	ErrMissingStudentID = errors.New("student id is required")
	ErrInvalidTimestamp = errors.New("event timestamp must be positive")
)

// BuildTask converts a record event into a sync task. The id depends only on
// the event, so building the same event twice yields the same id.
func BuildTask(ev models.RecordEvent) (models.SyncTask, error) {
	studentID := strings.TrimSpace(ev.StudentID)
	if studentID == "" {
		return models.SyncTask{}, ErrMissingStudentID
	}
	if ev.Timestamp <= 0 {
		return models.SyncTask{}, ErrInvalidTimestamp
	}

	id := models.RecordID(studentID, ev.Timestamp)
	if ev.Kind == models.RecordUpdated {
		id += models.UpdateSuffix
	}

	return models.SyncTask{
		ID: id,
		Data: models.Fields{
			{Key: models.FieldStudentID, Value: studentID},
			{Key: models.FieldName, Value: ev.Name},
			{Key: models.FieldEmail, Value: ev.Email},
			{Key: models.FieldStatus, Value: ev.Status},
			{Key: models.FieldTimestamp, Value: strconv.FormatInt(ev.Timestamp, 10)},
		},
		Timestamp: ev.Timestamp,
	}, nil
}
