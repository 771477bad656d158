package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	outboxSize         = 16
	defaultSendTimeout = 10 * time.Second
)

// Alerter tells operators in Telegram when delivery keeps failing and when
// it recovers. Messages are queued and sent by Start, so event handlers
// never wait on Telegram.
type Alerter struct {
	bot         domain.TelegramSender
	chatIDs     []int64
	threshold   int
	app         string
	sendTimeout time.Duration
	logger      *zerolog.Logger
	outbox      chan string

	mu          sync.Mutex
	consecutive int
	alerted     bool
}

func NewAlerter(bot domain.TelegramSender, chatIDs []int64, threshold int, app string, logger *zerolog.Logger) *Alerter {
	if threshold <= 0 {
		threshold = 5
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram_alerter").Logger()
	return &Alerter{
		bot:         bot,
		chatIDs:     chatIDs,
		threshold:   threshold,
		app:         app,
		sendTimeout: defaultSendTimeout,
		logger:      &l,
		outbox:      make(chan string, outboxSize),
	}
}

// Start sends queued messages until ctx is done.
func (a *Alerter) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.outbox:
			a.broadcast(ctx, text)
		}
	}
}

// Subscribe attaches the alerter to delivery outcome events.
func (a *Alerter) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncFailed, func(event *events.Event) error {
		var p events.SyncEventPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		a.Failed(p)
		return nil
	})
	bus.Subscribe(events.EventSyncSucceeded, func(event *events.Event) error {
		var p events.SyncEventPayload
		if err := event.Decode(&p); err != nil {
			return err
		}
		a.Succeeded(p)
		return nil
	})
}

// Failed counts a failure and alerts once when the threshold is reached.
func (a *Alerter) Failed(p events.SyncEventPayload) {
	a.mu.Lock()
	a.consecutive++
	fire := !a.alerted && a.consecutive >= a.threshold
	if fire {
		a.alerted = true
	}
	n := a.consecutive
	a.mu.Unlock()

	if fire {
		a.enqueue(fmt.Sprintf("⚠️ %s: %d consecutive sync failures, %d record(s) pending.\nLast error: %s",
			a.app, n, p.Pending, p.LastError))
	}
}

// Succeeded resets the counter and sends a recovery note after an alert.
func (a *Alerter) Succeeded(p events.SyncEventPayload) {
	a.mu.Lock()
	recovered := a.alerted
	a.consecutive = 0
	a.alerted = false
	a.mu.Unlock()

	if recovered {
		a.enqueue(fmt.Sprintf("✅ %s: sync recovered, %d record(s) pending.", a.app, p.Pending))
	}
}

func (a *Alerter) enqueue(text string) {
	select {
	case a.outbox <- text:
	default:
		a.logger.Warn().Msg("telegram alert queue full, dropping message")
	}
}

func (a *Alerter) broadcast(ctx context.Context, text string) {
	for _, chatID := range a.chatIDs {
		if err := a.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
			a.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send telegram alert")
		}
	}
}

// send bounds one Send call; a hung call is left behind after the timeout.
func (a *Alerter) send(ctx context.Context, msg tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(msg)
		done <- err
	}()

	timer := time.NewTimer(a.sendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("telegram send timed out after %s", a.sendTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
