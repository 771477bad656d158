package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/internal/events"
	"rollcall/internal/models"
	"rollcall/internal/network"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
	"rollcall/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "http://sheets.test/exec"

// fakeSender records calls and answers with respond (nil means success).
type fakeSender struct {
	mu      sync.Mutex
	calls   []string
	respond func(call int, task models.SyncTask) error
	hold    time.Duration
	block   bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, endpoint string, task models.SyncTask) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, task.ID)
	call := len(f.calls)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.respond != nil {
		return f.respond(call, task)
	}
	return nil
}

func (f *fakeSender) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	d       *Dispatcher
	store   *queue.Store
	monitor *network.Monitor
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func startDispatcher(t *testing.T, sender *fakeSender, online bool, endpoint string, retry RetryPolicy, tasks ...models.SyncTask) *harness {
	t.Helper()
	h := newHarness(t, sender, online, endpoint, retry, tasks...)
	h.run()
	return h
}

// newHarness builds a dispatcher without starting it.
func newHarness(t *testing.T, sender *fakeSender, online bool, endpoint string, retry RetryPolicy, tasks ...models.SyncTask) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := queue.NewStore(repository.NewMemoryQueueRepository(), nil)
	require.NoError(t, store.Load(ctx))
	for _, task := range tasks {
		require.NoError(t, store.Append(ctx, task))
	}

	monitor := network.NewMonitor(online, nil)
	d := NewDispatcher(store, sender, monitor, DispatcherConfig{Endpoint: endpoint, RequestTimeout: time.Second, Retry: retry}, nil)

	h := &harness{d: d, store: store, monitor: monitor, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) run() {
	h.started.Store(true)
	go func() {
		h.d.Start(h.ctx)
		close(h.done)
	}()
}

func (h *harness) stop() {
	h.cancel()
	if h.started.Load() {
		<-h.done
	}
}

func task(id string) models.SyncTask {
	return models.SyncTask{
		ID:        id,
		Data:      models.Fields{{Key: models.FieldStudentID, Value: id}, {Key: models.FieldTimestamp, Value: "1700000000000"}},
		Timestamp: 1700000000000,
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

var longBackoff = RetryPolicy{MinDelay: time.Hour, MaxDelay: 2 * time.Hour}

func TestDispatcher_DrainsInFIFOOrder(t *testing.T) {
	sender := &fakeSender{}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"), task("b"), task("c"))

	waitFor(t, "queue drained", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, []string{"a", "b", "c"}, sender.Calls())

	waitFor(t, "idle", func() bool { return h.d.Status().State == models.StateIdle })
	st := h.d.Status()
	assert.False(t, st.IsSyncing)
	assert.Empty(t, st.LastError)
	assert.Equal(t, models.IndicatorIdle, st.Indicator())
}

func TestDispatcher_AtMostOneInFlight(t *testing.T) {
	sender := &fakeSender{hold: 5 * time.Millisecond}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.store.Append(context.Background(), task(string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	waitFor(t, "queue drained", func() bool { return h.store.Len() == 0 })
	assert.Len(t, sender.Calls(), 10)
	assert.Equal(t, int32(1), sender.maxInFlight.Load())
}

func TestDispatcher_FailureKeepsHeadAndBacksOff(t *testing.T) {
	sender := &fakeSender{respond: func(call int, _ models.SyncTask) error {
		if call == 1 {
			return &remote.DeliveryError{Kind: remote.KindHTTPStatus, StatusCode: 503, Snippet: "busy"}
		}
		return nil
	}}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"))

	waitFor(t, "backoff", func() bool { return h.d.Status().State == models.StateBackoff })
	st := h.d.Status()
	assert.True(t, st.IsSyncing)
	assert.Equal(t, "server returned HTTP 503: busy", st.LastError)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, models.IndicatorError, st.Indicator())

	// new work does not cut the backoff short
	require.NoError(t, h.store.Append(context.Background(), task("b")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a"}, sender.Calls())

	h.d.RetryNow()
	waitFor(t, "queue drained", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, []string{"a", "a", "b"}, sender.Calls())
	assert.Empty(t, h.d.Status().LastError)
}

func TestDispatcher_RetryNowDuringSendSkipsBackoff(t *testing.T) {
	sender := &fakeSender{hold: 100 * time.Millisecond, respond: func(call int, _ models.SyncTask) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"))

	waitFor(t, "sending", func() bool { return h.d.Status().State == models.StateSending })
	h.d.RetryNow()

	waitFor(t, "retried without waiting out the backoff", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, []string{"a", "a"}, sender.Calls())
}

func TestDispatcher_RetryNowDuringSuccessfulSendIsNotCarriedOver(t *testing.T) {
	sender := &fakeSender{hold: 100 * time.Millisecond, respond: func(call int, _ models.SyncTask) error {
		if call == 2 {
			return errors.New("connection reset")
		}
		return nil
	}}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"), task("b"))

	waitFor(t, "sending", func() bool { return h.d.Status().State == models.StateSending })
	h.d.RetryNow()

	waitFor(t, "backoff after second task", func() bool { return h.d.Status().State == models.StateBackoff })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, sender.Calls())
	assert.Equal(t, 1, h.store.Len())
}

// stuckAlertSender models a Telegram API that never answers.
type stuckAlertSender struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *stuckAlertSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.calls.Add(1)
	<-s.release
	return tgbotapi.Message{}, nil
}

func TestDispatcher_HungAlertDoesNotStallRetries(t *testing.T) {
	sender := &fakeSender{respond: func(call int, _ models.SyncTask) error {
		if call == 1 {
			return &remote.DeliveryError{Kind: remote.KindHTTPStatus, StatusCode: 500, Snippet: "oops"}
		}
		return nil
	}}
	h := newHarness(t, sender, true, testEndpoint, longBackoff, task("a"))

	bot := &stuckAlertSender{release: make(chan struct{})}
	defer close(bot.release)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	defer stopAlerts()
	alerter := notify.NewAlerter(bot, []int64{1}, 1, "rollcall", nil)
	go alerter.Start(alertCtx)

	bus := events.NewEventBus()
	alerter.Subscribe(bus)
	h.d.SetPublisher(bus)
	h.run()

	waitFor(t, "backoff", func() bool { return h.d.Status().State == models.StateBackoff })
	waitFor(t, "alert attempted", func() bool { return bot.calls.Load() == 1 })

	h.d.RetryNow()
	waitFor(t, "queue drained", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, []string{"a", "a"}, sender.Calls())
	waitFor(t, "idle", func() bool { return h.d.Status().State == models.StateIdle })
}

func TestDispatcher_OnlineTransitionPreemptsBackoff(t *testing.T) {
	sender := &fakeSender{respond: func(call int, _ models.SyncTask) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"))

	waitFor(t, "backoff", func() bool { return h.d.Status().State == models.StateBackoff })

	// going offline keeps waiting
	h.monitor.Set(false)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, models.StateBackoff, h.d.Status().State)
	assert.Equal(t, models.IndicatorOffline, h.d.Status().Indicator())

	h.monitor.Set(true)
	waitFor(t, "retry after online", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, []string{"a", "a"}, sender.Calls())
}

func TestDispatcher_OfflinePausesSending(t *testing.T) {
	sender := &fakeSender{}
	h := startDispatcher(t, sender, false, testEndpoint, longBackoff)

	require.NoError(t, h.store.Append(context.Background(), task("a")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.Calls())
	st := h.d.Status()
	assert.Equal(t, models.StateIdle, st.State)
	assert.Equal(t, models.IndicatorOffline, st.Indicator())

	h.monitor.Set(true)
	waitFor(t, "drained after reconnect", func() bool { return h.store.Len() == 0 })
}

func TestDispatcher_RequiresHTTPEndpoint(t *testing.T) {
	sender := &fakeSender{}
	h := startDispatcher(t, sender, true, "", longBackoff, task("a"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.Calls())
	assert.False(t, h.d.Status().EndpointConfigured)

	h.d.SetEndpoint("ftp://example.com")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.Calls())

	h.d.SetEndpoint(testEndpoint)
	waitFor(t, "drained after endpoint set", func() bool { return h.store.Len() == 0 })
	assert.Equal(t, testEndpoint, h.d.Endpoint())
	assert.True(t, h.d.Status().EndpointConfigured)
}

func TestDispatcher_RetryNowWhileIdleIsHarmless(t *testing.T) {
	sender := &fakeSender{}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff)

	h.d.RetryNow()
	h.d.RetryNow()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sender.Calls())

	require.NoError(t, h.store.Append(context.Background(), task("a")))
	waitFor(t, "drained", func() bool { return h.store.Len() == 0 })
}

func TestDispatcher_ShutdownKeepsInFlightTask(t *testing.T) {
	sender := &fakeSender{block: true}
	h := startDispatcher(t, sender, true, testEndpoint, longBackoff, task("a"))

	waitFor(t, "sending", func() bool { return len(sender.Calls()) == 1 })
	h.stop()

	assert.Equal(t, 1, h.store.Len())
	head, ok := h.store.Head()
	require.True(t, ok)
	assert.Equal(t, "a", head.ID)
}

func TestDispatcher_RequestTimeout(t *testing.T) {
	sender := &fakeSender{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := queue.NewStore(repository.NewMemoryQueueRepository(), nil)
	require.NoError(t, store.Append(ctx, task("a")))
	monitor := network.NewMonitor(true, nil)
	d := NewDispatcher(store, sender, monitor, DispatcherConfig{Endpoint: testEndpoint, RequestTimeout: 20 * time.Millisecond, Retry: longBackoff}, nil)

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	waitFor(t, "timeout failure", func() bool { return d.Status().State == models.StateBackoff })
	assert.Equal(t, "server did not respond within 20ms (likely busy), will retry", d.Status().LastError)
	assert.Equal(t, 1, store.Len())

	cancel()
	<-done
}

// Endpoint answers 500 first, then success. Queue length goes 1, 1, 0 and
// the last error goes unset, set, unset.
func TestDispatcher_EndToEndRetryAfterServerError(t *testing.T) {
	var hits atomic.Int32
	var form sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		for k := range r.PostForm {
			form.Store(k, r.PostForm.Get(k))
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "Internal Server Error")
			return
		}
		_, _ = io.WriteString(w, `{"result":"success"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := queue.NewStore(repository.NewMemoryQueueRepository(), nil)
	require.NoError(t, store.Load(ctx))
	monitor := network.NewMonitor(true, nil)
	d := NewDispatcher(store, remote.NewClient(time.Second, time.UTC), monitor, DispatcherConfig{
		Endpoint: srv.URL,
		Retry:    RetryPolicy{MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	}, nil)

	type snapshot struct {
		pending   int
		lastError string
	}
	var mu sync.Mutex
	var seen []snapshot
	record := func(*events.Event) error {
		st := d.Status()
		mu.Lock()
		seen = append(seen, snapshot{pending: st.Pending, lastError: st.LastError})
		mu.Unlock()
		return nil
	}
	bus := events.NewEventBus()
	bus.Subscribe(events.EventSyncFailed, record)
	bus.Subscribe(events.EventSyncSucceeded, record)
	d.SetPublisher(bus)

	require.NoError(t, store.Append(ctx, models.SyncTask{
		ID: "A1-1700000000000",
		Data: models.Fields{
			{Key: models.FieldStudentID, Value: "A1"},
			{Key: models.FieldStatus, Value: "P"},
			{Key: models.FieldTimestamp, Value: "1700000000000"},
		},
		Timestamp: 1700000000000,
	}))
	initial := d.Status()
	assert.Equal(t, 1, initial.Pending)
	assert.Empty(t, initial.LastError)

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	waitFor(t, "two outcomes", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[0].pending)
	assert.Contains(t, seen[0].lastError, "HTTP 500")
	assert.Equal(t, 0, seen[1].pending)
	assert.Empty(t, seen[1].lastError)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 0, store.Len())

	date, _ := form.Load("customDate")
	assert.Equal(t, "14/11/2023", date)
	sid, _ := form.Load("studentId")
	assert.Equal(t, "A1", sid)
}
