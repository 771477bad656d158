package domain

import (
	"context"

	"rollcall/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueRepository persists the pending task list and the tombstone set.
// It is read once at startup and written on every mutation.
type QueueRepository interface {
	LoadQueue(ctx context.Context) ([]models.SyncTask, error)
	LoadTombstones(ctx context.Context) ([]string, error)
	AppendTask(ctx context.Context, task models.SyncTask) error
	DeleteTask(ctx context.Context, id string) error
	AddTombstone(ctx context.Context, recordID string) error
}

// Sender delivers one task to the remote endpoint. A nil error means the
// endpoint confirmed the record.
type Sender interface {
	Send(ctx context.Context, endpoint string, task models.SyncTask) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
