package repository

import (
	"context"
	"sync"

	"rollcall/internal/models"
)

// MemoryQueueRepository is a non-durable repository used by tests and the
// memory storage driver.
type MemoryQueueRepository struct {
	mu         sync.Mutex
	tasks      []models.SyncTask
	tombstones []string
	seen       map[string]struct{}
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{seen: make(map[string]struct{})}
}

func (r *MemoryQueueRepository) LoadQueue(ctx context.Context) ([]models.SyncTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SyncTask, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

func (r *MemoryQueueRepository) AppendTask(ctx context.Context, task models.SyncTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task.Clone())
	return nil
}

func (r *MemoryQueueRepository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tasks {
		if t.ID == id {
			r.tasks = append(r.tasks[:i:i], r.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *MemoryQueueRepository) AddTombstone(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[recordID]; ok {
		return nil
	}
	r.seen[recordID] = struct{}{}
	r.tombstones = append(r.tombstones, recordID)
	return nil
}

func (r *MemoryQueueRepository) LoadTombstones(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tombstones...), nil
}
