package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/domain"
	"rollcall/internal/events"
	"rollcall/internal/metrics"
	"rollcall/internal/models"
	"rollcall/internal/network"
	"rollcall/internal/queue"
	"rollcall/internal/remote"

	"github.com/rs/zerolog"
)

// DispatcherConfig holds tunables of the dispatch loop.
type DispatcherConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

// Dispatcher drains the queue head-first, one task at a time.
type Dispatcher struct {
	store   *queue.Store
	sender  domain.Sender
	monitor *network.Monitor
	retry   RetryPolicy
	timeout time.Duration
	events  domain.EventPublisher
	logger  *zerolog.Logger

	mu        sync.Mutex
	state     models.DispatcherState
	isSyncing bool
	lastError string
	endpoint  string

	wake    chan struct{}
	retryCh chan struct{}
}

// NewDispatcher builds a dispatcher with sane defaults.
func NewDispatcher(store *queue.Store, sender domain.Sender, monitor *network.Monitor, cfg DispatcherConfig, logger *zerolog.Logger) *Dispatcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = models.DefaultRequestTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "dispatcher").Logger()

	return &Dispatcher{
		store:    store,
		sender:   sender,
		monitor:  monitor,
		retry:    cfg.Retry,
		timeout:  cfg.RequestTimeout,
		logger:   &l,
		state:    models.StateIdle,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		wake:     make(chan struct{}, 1),
		retryCh:  make(chan struct{}, 1),
	}
}

// SetPublisher registers an event bus for delivery outcomes. Call before Start.
func (d *Dispatcher) SetPublisher(p domain.EventPublisher) {
	d.events = p
}

// Start runs the dispatch loop until ctx is done. A task in flight when ctx
// ends stays queued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("dispatcher started")
	defer d.logger.Info().Msg("dispatcher stopped")

	onlineCh, unsubscribe := d.monitor.Subscribe()
	defer unsubscribe()

	for {
		if ctx.Err() != nil {
			return
		}

		task, ok := d.next()
		if !ok {
			d.setState(models.StateIdle, false)
			if !d.waitForWork(ctx, onlineCh) {
				return
			}
			continue
		}

		d.setState(models.StateSending, true)
		err := d.attempt(ctx, task)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// drop a retry requested during this send
			d.drainRetry()
			continue
		}

		d.setState(models.StateBackoff, true)
		if !d.backoff(ctx, onlineCh) {
			return
		}
	}
}

// next returns the head task when a send is allowed.
func (d *Dispatcher) next() (models.SyncTask, bool) {
	if !d.monitor.Online() {
		return models.SyncTask{}, false
	}
	if !config.EndpointConfigured(d.Endpoint()) {
		return models.SyncTask{}, false
	}
	return d.store.Head()
}

func (d *Dispatcher) waitForWork(ctx context.Context, onlineCh <-chan bool) bool {
	select {
	case <-ctx.Done():
		return false
	case <-d.store.Notify():
	case <-onlineCh:
	case <-d.wake:
	}
	return true
}

func (d *Dispatcher) attempt(ctx context.Context, task models.SyncTask) error {
	endpoint := d.Endpoint()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	err := d.sender.Send(callCtx, endpoint, task)
	took := time.Since(started)

	if ctx.Err() != nil {
		// Shutdown: the outcome is unknown, keep the task.
		d.logger.Info().Str("task_id", task.ID).Msg("delivery abandoned on shutdown")
		return ctx.Err()
	}

	if err != nil {
		de := remote.AsDeliveryError(err)
		if de.Kind == remote.KindTimeout && de.Timeout == 0 {
			bounded := *de
			bounded.Timeout = d.timeout
			de = &bounded
		}
		kind := de.Kind
		msg := de.Error()
		metrics.ObserveAttempt(string(kind), took)
		d.setLastError(msg)

		pending := d.store.Len()
		d.logger.Warn().
			Err(err).
			Str("cause", de.Cause()).
			Str("task_id", task.ID).
			Str("kind", string(kind)).
			Int("pending", pending).
			Dur("took", took).
			Msg("delivery failed")

		d.publish(events.EventSyncFailed, task, pending, msg)
		return err
	}

	metrics.ObserveAttempt("success", took)
	if _, rerr := d.store.RemoveByID(ctx, task.ID); rerr != nil {
		d.logger.Error().Err(rerr).Str("task_id", task.ID).Msg("failed to persist task removal")
	}
	d.setLastError("")

	pending := d.store.Len()
	d.logger.Debug().Str("task_id", task.ID).Int("pending", pending).Dur("took", took).Msg("task delivered")

	d.publish(events.EventSyncSucceeded, task, pending, "")
	return nil
}

// backoff waits a jittered delay. An online transition or RetryNow cuts it
// short; new appends do not. Returns false when ctx is done.
func (d *Dispatcher) backoff(ctx context.Context, onlineCh <-chan bool) bool {
	delay := d.retry.NextDelay()
	metrics.ObserveBackoff(delay)
	d.logger.Debug().Dur("delay", delay).Msg("backing off")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	defer d.drainRetry()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case online := <-onlineCh:
			if online {
				d.logger.Debug().Msg("backoff preempted by online transition")
				return true
			}
		case <-d.retryCh:
			d.logger.Debug().Msg("backoff preempted by manual retry")
			return true
		}
	}
}

func (d *Dispatcher) drainRetry() {
	select {
	case <-d.retryCh:
	default:
	}
}

// RetryNow cuts a running backoff short, or wakes an idle dispatcher. A
// request made while sending applies to the backoff that follows a failure.
func (d *Dispatcher) RetryNow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case models.StateBackoff, models.StateSending:
		signal(d.retryCh)
	default:
		signal(d.wake)
	}
}

// SetEndpoint replaces the remote endpoint; it is read again before every attempt.
func (d *Dispatcher) SetEndpoint(endpoint string) {
	d.mu.Lock()
	d.endpoint = strings.TrimSpace(endpoint)
	d.mu.Unlock()
	d.logger.Info().Bool("configured", config.EndpointConfigured(endpoint)).Msg("endpoint updated")
	signal(d.wake)
}

func (d *Dispatcher) Endpoint() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoint
}

// Status returns a snapshot for the UI.
func (d *Dispatcher) Status() models.SyncStatus {
	d.mu.Lock()
	st := models.SyncStatus{
		State:              d.state,
		IsSyncing:          d.isSyncing,
		LastError:          d.lastError,
		EndpointConfigured: config.EndpointConfigured(d.endpoint),
	}
	d.mu.Unlock()

	st.Pending = d.store.Len()
	st.Online = d.monitor.Online()
	return st
}

func (d *Dispatcher) setState(state models.DispatcherState, syncing bool) {
	d.mu.Lock()
	d.state = state
	d.isSyncing = syncing
	d.mu.Unlock()
}

func (d *Dispatcher) setLastError(msg string) {
	d.mu.Lock()
	d.lastError = msg
	d.mu.Unlock()
}

func (d *Dispatcher) publish(eventType string, task models.SyncTask, pending int, lastError string) {
	if d.events == nil {
		return
	}
	studentID, _ := task.Data.Get(models.FieldStudentID)
	payload := events.SyncEventPayload{
		TaskID:    task.ID,
		StudentID: studentID,
		Pending:   pending,
		LastError: lastError,
		At:        time.Now(),
	}
	if err := d.events.PublishJSON(eventType, payload); err != nil {
		d.logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
