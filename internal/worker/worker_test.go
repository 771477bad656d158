package worker

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/models"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
	"rollcall/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTask(t *testing.T) {
	ev := models.RecordEvent{
		Kind:      models.RecordCreated,
		StudentID: "S42",
		Name:      "Grace Hopper",
		Email:     "grace@example.com",
		Status:    models.StatusLate,
		Timestamp: 1700000000000,
	}

	t.Run("Created", func(t *testing.T) {
		task, err := BuildTask(ev)
		require.NoError(t, err)
		assert.Equal(t, "S42-1700000000000", task.ID)
		assert.Equal(t, int64(1700000000000), task.Timestamp)
		assert.Equal(t, []string{"studentId", "name", "email", "status", "timestamp"}, task.Data.Keys())
		v, _ := task.Data.Get(models.FieldTimestamp)
		assert.Equal(t, "1700000000000", v)
	})

	t.Run("SameEventSameID", func(t *testing.T) {
		a, _ := BuildTask(ev)
		b, _ := BuildTask(ev)
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, a.Data, b.Data)
	})

	t.Run("UpdateSuffix", func(t *testing.T) {
		upd := ev
		upd.Kind = models.RecordUpdated
		task, err := BuildTask(upd)
		require.NoError(t, err)
		assert.Equal(t, "S42-1700000000000-update", task.ID)
	})

	t.Run("MissingStudentID", func(t *testing.T) {
		bad := ev
		bad.StudentID = "  "
		_, err := BuildTask(bad)
		assert.ErrorIs(t, err, ErrMissingStudentID)
	})

	t.Run("InvalidTimestamp", func(t *testing.T) {
		bad := ev
		bad.Timestamp = 0
		_, err := BuildTask(bad)
		assert.ErrorIs(t, err, ErrInvalidTimestamp)
	})

	t.Run("HistoricalDate", func(t *testing.T) {
		hist := ev
		hist.Timestamp = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
		task, err := BuildTask(hist)
		require.NoError(t, err)
		date, _ := remote.FormValues(task, time.UTC).Get(models.FieldCustomDate)
		assert.Equal(t, "01/01/2030", date)
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	t.Run("DefaultBounds", func(t *testing.T) {
		policy := RetryPolicy{}
		for i := 0; i < 1000; i++ {
			d := policy.NextDelay()
			if d < 2000*time.Millisecond || d >= 22000*time.Millisecond {
				t.Fatalf("delay %s outside [2s, 22s)", d)
			}
		}
	})

	t.Run("Extremes", func(t *testing.T) {
		low := RetryPolicy{Rand: func() float64 { return 0 }}
		assert.Equal(t, 2000*time.Millisecond, low.NextDelay())

		high := RetryPolicy{Rand: func() float64 { return 0.9999999999 }}
		assert.Less(t, high.NextDelay(), 22000*time.Millisecond)

		mid := RetryPolicy{Rand: func() float64 { return 0.5 }}
		assert.Equal(t, 12000*time.Millisecond, mid.NextDelay())
	})

	t.Run("CustomWindow", func(t *testing.T) {
		policy := RetryPolicy{MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
		for i := 0; i < 100; i++ {
			d := policy.NextDelay()
			assert.GreaterOrEqual(t, d, 10*time.Millisecond)
			assert.Less(t, d, 20*time.Millisecond)
		}
	})

	t.Run("DegenerateWindow", func(t *testing.T) {
		policy := RetryPolicy{MinDelay: time.Second, MaxDelay: time.Second}
		assert.Equal(t, time.Second, policy.NextDelay())
	})
}

func newIntake(t *testing.T) (*Intake, *queue.Store) {
	t.Helper()
	store := queue.NewStore(repository.NewMemoryQueueRepository(), nil)
	require.NoError(t, store.Load(context.Background()))
	return NewIntake(store, nil), store
}

func TestIntake_Record(t *testing.T) {
	ctx := context.Background()
	intake, store := newIntake(t)

	ev := models.RecordEvent{Kind: models.RecordCreated, StudentID: "A1", Status: "P", Timestamp: 100}
	task, queued, err := intake.Record(ctx, ev)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, "A1-100", task.ID)

	// duplicate submissions are still queued
	_, queued, err = intake.Record(ctx, ev)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, 2, store.Len())

	_, _, err = intake.Record(ctx, models.RecordEvent{StudentID: "", Timestamp: 1})
	assert.ErrorIs(t, err, ErrMissingStudentID)
}

func TestIntake_TombstonedRecordsAreDropped(t *testing.T) {
	ctx := context.Background()
	intake, store := newIntake(t)

	require.NoError(t, intake.Delete(ctx, "A1-100"))
	assert.True(t, store.IsTombstoned("A1-100"))

	_, queued, err := intake.Record(ctx, models.RecordEvent{Kind: models.RecordUpdated, StudentID: "A1", Timestamp: 100})
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, 0, store.Len())

	// other records unaffected
	_, queued, err = intake.Record(ctx, models.RecordEvent{StudentID: "A1", Timestamp: 200})
	require.NoError(t, err)
	assert.True(t, queued)

	assert.ErrorIs(t, intake.Delete(ctx, ""), ErrMissingStudentID)
}

func TestIntake_DeleteMatchesTrimmedStudentID(t *testing.T) {
	ctx := context.Background()
	intake, store := newIntake(t)

	_, _, err := intake.Record(ctx, models.RecordEvent{Kind: models.RecordDeleted, StudentID: " B2 ", Timestamp: 5})
	require.NoError(t, err)
	assert.True(t, store.IsTombstoned("B2-5"))
	assert.False(t, store.IsTombstoned(" B2 -5"))

	_, queued, err := intake.Record(ctx, models.RecordEvent{Kind: models.RecordCreated, StudentID: "B2", Status: "P", Timestamp: 5})
	require.NoError(t, err)
	assert.False(t, queued)

	_, queued, err = intake.Record(ctx, models.RecordEvent{Kind: models.RecordUpdated, StudentID: "  B2", Status: "L", Timestamp: 5})
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, 0, store.Len())

	_, _, err = intake.Record(ctx, models.RecordEvent{Kind: models.RecordDeleted, StudentID: "   ", Timestamp: 5})
	assert.ErrorIs(t, err, ErrMissingStudentID)
}
