package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
	sent atomic.Int32
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	m.sent.Add(1)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func textContains(chatID int64, part string) interface{} {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == chatID && strings.Contains(msg.Text, part)
	})
}

func startAlerter(t *testing.T, a *Alerter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForCalls(t *testing.T, bot *mockTelegramSender, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return bot.sent.Load() == int32(n)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAlerter_ThresholdAndRecovery(t *testing.T) {
	bot := new(mockTelegramSender)
	a := NewAlerter(bot, []int64{10, 20}, 3, "rollcall", nil)
	startAlerter(t, a)
	failure := events.SyncEventPayload{TaskID: "A1-1", Pending: 4, LastError: "server returned HTTP 500"}

	t.Run("BelowThreshold", func(t *testing.T) {
		a.Failed(failure)
		a.Failed(failure)
		bot.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("AlertOnce", func(t *testing.T) {
		bot.On("Send", textContains(10, "3 consecutive sync failures")).Return(tgbotapi.Message{}, nil).Once()
		bot.On("Send", textContains(20, "HTTP 500")).Return(tgbotapi.Message{}, nil).Once()
		a.Failed(failure)
		a.Failed(failure)
		waitForCalls(t, bot, 2)
		bot.AssertExpectations(t)
	})

	t.Run("Recovery", func(t *testing.T) {
		bot.On("Send", textContains(10, "recovered")).Return(tgbotapi.Message{}, nil).Once()
		bot.On("Send", textContains(20, "recovered")).Return(tgbotapi.Message{}, nil).Once()
		a.Succeeded(events.SyncEventPayload{Pending: 0})
		waitForCalls(t, bot, 4)

		// plain success without a prior alert is silent
		a.Succeeded(events.SyncEventPayload{})
		time.Sleep(20 * time.Millisecond)
		bot.AssertNumberOfCalls(t, "Send", 4)
	})
}

func TestAlerter_SendErrorIsLogged(t *testing.T) {
	bot := new(mockTelegramSender)
	bot.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("forbidden"))
	a := NewAlerter(bot, []int64{1}, 1, "rollcall", nil)
	startAlerter(t, a)

	assert.NotPanics(t, func() { a.Failed(events.SyncEventPayload{}) })
	waitForCalls(t, bot, 1)
}

func TestAlerter_Subscribe(t *testing.T) {
	bot := new(mockTelegramSender)
	bot.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil)
	a := NewAlerter(bot, []int64{7}, 1, "rollcall", nil)
	startAlerter(t, a)

	bus := events.NewEventBus()
	a.Subscribe(bus)

	require.NoError(t, bus.PublishJSON(events.EventSyncFailed, events.SyncEventPayload{LastError: "timeout"}))
	require.NoError(t, bus.PublishJSON(events.EventSyncSucceeded, events.SyncEventPayload{}))
	waitForCalls(t, bot, 2)

	err := bus.Publish(&events.Event{Type: events.EventSyncFailed, Payload: []byte("nope")})
	assert.Error(t, err)
}

// hangingSender never answers until released.
type hangingSender struct {
	calls   atomic.Int32
	release chan struct{}
}

func (h *hangingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	h.calls.Add(1)
	<-h.release
	return tgbotapi.Message{}, nil
}

func TestAlerter_HungTelegramDoesNotBlockPublisher(t *testing.T) {
	bot := &hangingSender{release: make(chan struct{})}
	defer close(bot.release)

	a := NewAlerter(bot, []int64{1, 2}, 1, "rollcall", nil)
	a.sendTimeout = 20 * time.Millisecond
	startAlerter(t, a)

	bus := events.NewEventBus()
	a.Subscribe(bus)

	published := make(chan error, 1)
	go func() {
		published <- bus.PublishJSON(events.EventSyncFailed, events.SyncEventPayload{LastError: "boom"})
	}()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on telegram send")
	}

	// each chat gets its own bounded attempt
	assert.Eventually(t, func() bool { return bot.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestAlerter_FullQueueDropsMessages(t *testing.T) {
	a := NewAlerter(new(mockTelegramSender), []int64{1}, 1, "rollcall", nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < outboxSize+5; i++ {
			a.enqueue(fmt.Sprintf("msg %d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked")
	}
	assert.Len(t, a.outbox, outboxSize)
}
