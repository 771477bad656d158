package worker

import (
	"context"
	"strings"

	"rollcall/internal/models"
	"rollcall/internal/queue"

	"github.com/rs/zerolog"
)

// Intake turns record events into queued tasks. Deleted records are
// tombstoned; later create or update events for them are dropped.
type Intake struct {
	store  *queue.Store
	logger *zerolog.Logger
}

func NewIntake(store *queue.Store, logger *zerolog.Logger) *Intake {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "intake").Logger()
	return &Intake{store: store, logger: &l}
}

// Record queues a task for ev. queued is false when the record was deleted
// earlier.
func (i *Intake) Record(ctx context.Context, ev models.RecordEvent) (task models.SyncTask, queued bool, err error) {
	ev.StudentID = strings.TrimSpace(ev.StudentID)
	if ev.Kind == models.RecordDeleted {
		if ev.StudentID == "" {
			return models.SyncTask{}, false, ErrMissingStudentID
		}
		return models.SyncTask{}, false, i.Delete(ctx, ev.RecordID())
	}

	task, err = BuildTask(ev)
	if err != nil {
		return models.SyncTask{}, false, err
	}

	studentID, _ := task.Data.Get(models.FieldStudentID)
	recordID := models.RecordID(studentID, task.Timestamp)
	if i.store.IsTombstoned(recordID) {
		i.logger.Debug().Str("record_id", recordID).Msg("skipping event for deleted record")
		return task, false, nil
	}

	if err := i.store.Append(ctx, task); err != nil {
		return task, false, err
	}
	i.logger.Debug().Str("task_id", task.ID).Int("pending", i.store.Len()).Msg("task queued")
	return task, true, nil
}

// Delete tombstones a record by id.
func (i *Intake) Delete(ctx context.Context, recordID string) error {
	if recordID == "" {
		return ErrMissingStudentID
	}
	if err := i.store.Tombstone(ctx, recordID); err != nil {
		return err
	}
	i.logger.Info().Str("record_id", recordID).Msg("record tombstoned")
	return nil
}
