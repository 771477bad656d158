package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rollcall/internal/models"
)

// AppendTask inserts the task at the tail of the queue.
func (db *DB) AppendTask(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task.Data)
	if err != nil {
		return fmt.Errorf("encode task data: %w", err)
	}

	query := `INSERT INTO sync_queue (task_id, data, event_ts, created_at) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, task.ID, string(data), task.Timestamp, time.Now()); err != nil {
		return fmt.Errorf("failed to append sync task: %w", err)
	}
	return nil
}

// LoadQueue returns pending tasks in insertion order.
func (db *DB) LoadQueue(ctx context.Context) ([]models.SyncTask, error) {
	query := `SELECT task_id, data, event_ts FROM sync_queue ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var (
			t   models.SyncTask
			raw string
		)
		if err := rows.Scan(&t.ID, &raw, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &t.Data); err != nil {
			return nil, fmt.Errorf("decode sync task %s: %w", t.ID, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync queue: %w", err)
	}
	return tasks, nil
}

// DeleteTask removes the oldest entry with the given id. Later duplicates stay.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	query := `DELETE FROM sync_queue WHERE seq = (
                SELECT seq FROM sync_queue WHERE task_id = ? ORDER BY seq ASC LIMIT 1
              )`
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete sync task: %w", err)
	}
	return nil
}

// AddTombstone records a locally deleted record id. Repeated calls are no-ops.
func (db *DB) AddTombstone(ctx context.Context, recordID string) error {
	query := `INSERT OR IGNORE INTO tombstones (record_id, created_at) VALUES (?, ?)`
	if _, err := db.ExecContext(ctx, query, recordID, time.Now()); err != nil {
		return fmt.Errorf("failed to add tombstone: %w", err)
	}
	return nil
}

func (db *DB) LoadTombstones(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT record_id FROM tombstones ORDER BY created_at ASC, record_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
