package network

import (
	"context"
	"sync"
	"time"

	"rollcall/internal/metrics"

	"github.com/rs/zerolog"
)

// Checker reports whether the remote side is currently reachable.
type Checker interface {
	Reachable(ctx context.Context) bool
}

// Monitor holds the process-wide online flag and fans transitions out to
// subscribers. Each subscriber channel keeps only the latest value.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
	logger *zerolog.Logger
}

func NewMonitor(initial bool, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	metrics.SetOnline(initial)
	return &Monitor{
		online: initial,
		subs:   make(map[int]chan bool),
		logger: logger,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and reports whether it flipped. Subscribers are
// only notified on a flip.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	metrics.SetOnline(online)
	m.logger.Info().Bool("online", online).Msg("network state changed")

	for _, ch := range m.subs {
		// Replace a stale undelivered value with the newest one.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// Subscribe returns a channel of transitions and a cancel func.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Watch polls checker every interval and feeds the result into Set until ctx
// is done.
func (m *Monitor) Watch(ctx context.Context, checker Checker, interval time.Duration) {
	if checker == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		m.Set(checker.Reachable(checkCtx))
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
