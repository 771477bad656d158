package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rollcall/internal/domain"
	"rollcall/internal/metrics"
	"rollcall/internal/models"

	"github.com/rs/zerolog"
)

// ErrEmptyID is returned when appending a task without an identifier.
var ErrEmptyID = errors.New("task id is empty")

// Store is the ordered list of pending sync tasks. The in-memory copy is
// canonical for the running process; every mutation is written through to
// the repository.
type Store struct {
	repo   domain.QueueRepository
	logger *zerolog.Logger

	mu         sync.Mutex
	tasks      []models.SyncTask
	tombstones map[string]struct{}
	notify     chan struct{}
}

func NewStore(repo domain.QueueRepository, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		repo:       repo,
		logger:     logger,
		tombstones: make(map[string]struct{}),
		notify:     make(chan struct{}, 1),
	}
}

// Load reads the persisted queue and tombstones. Called once at startup.
func (s *Store) Load(ctx context.Context) error {
	tasks, err := s.repo.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	stones, err := s.repo.LoadTombstones(ctx)
	if err != nil {
		return fmt.Errorf("load tombstones: %w", err)
	}

	s.mu.Lock()
	s.tasks = tasks
	s.tombstones = make(map[string]struct{}, len(stones))
	for _, id := range stones {
		s.tombstones[id] = struct{}{}
	}
	n := len(s.tasks)
	s.mu.Unlock()

	metrics.SetPending(n)
	s.logger.Info().Int("pending", n).Int("tombstones", len(stones)).Msg("queue loaded")
	if n > 0 {
		s.signal()
	}
	return nil
}

// Append persists the task and adds it to the tail. Duplicates by id are kept.
func (s *Store) Append(ctx context.Context, task models.SyncTask) error {
	if task.ID == "" {
		return ErrEmptyID
	}
	task = task.Clone()

	s.mu.Lock()
	if err := s.repo.AppendTask(ctx, task); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	s.tasks = append(s.tasks, task)
	n := len(s.tasks)
	s.mu.Unlock()

	metrics.SetPending(n)
	s.signal()
	return nil
}

// RemoveByID drops the first entry with the given id. The in-memory removal
// always happens; a persistence failure is returned for logging.
func (s *Store) RemoveByID(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	idx := -1
	for i, t := range s.tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.tasks = append(s.tasks[:idx:idx], s.tasks[idx+1:]...)
	n := len(s.tasks)
	err := s.repo.DeleteTask(ctx, id)
	s.mu.Unlock()

	metrics.SetPending(n)
	if err != nil {
		return true, fmt.Errorf("delete task %s: %w", id, err)
	}
	return true, nil
}

// Head returns the oldest task.
func (s *Store) Head() (models.SyncTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return models.SyncTask{}, false
	}
	return s.tasks[0].Clone(), true
}

// List returns a copy of the queue in FIFO order.
func (s *Store) List() []models.SyncTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncTask, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Notify fires after each append. It holds at most one pending signal.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

func (s *Store) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Tombstone marks a record as deleted locally.
func (s *Store) Tombstone(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tombstones[recordID]; ok {
		return nil
	}
	if err := s.repo.AddTombstone(ctx, recordID); err != nil {
		return fmt.Errorf("persist tombstone %s: %w", recordID, err)
	}
	s.tombstones[recordID] = struct{}{}
	return nil
}

func (s *Store) IsTombstoned(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tombstones[recordID]
	return ok
}

func (s *Store) Tombstones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		out = append(out, id)
	}
	return out
}
