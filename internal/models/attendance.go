package models

import (
	"strconv"
	"time"
)

// RecordEventKind describes what happened to an attendance record.
type RecordEventKind string

const (
	RecordCreated RecordEventKind = "created"
	RecordUpdated RecordEventKind = "updated"
	RecordDeleted RecordEventKind = "deleted"
)

// RecordEvent is a record-changed event produced by the check-in UI.
type RecordEvent struct {
	Kind      RecordEventKind `json:"kind"`
	StudentID string          `json:"studentId"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"`
}

// RecordID identifies the attendance record the event refers to.
func (e RecordEvent) RecordID() string {
	return RecordID(e.StudentID, e.Timestamp)
}

// Time returns the event timestamp as time.Time.
func (e RecordEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// RecordID builds the stable identifier of a record from its subject and event time.
func RecordID(studentID string, timestampMs int64) string {
	return studentID + "-" + strconv.FormatInt(timestampMs, 10)
}
