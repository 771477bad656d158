package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rollcall/internal/config"
	"rollcall/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisQueueRepository keeps the queue as a redis list of JSON-encoded
// tasks (head at index 0) and tombstones as a set.
type RedisQueueRepository struct {
	client       *redis.Client
	queueKey     string
	tombstoneKey string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisQueueRepository(client *redis.Client, prefix string) *RedisQueueRepository {
	if prefix == "" {
		prefix = "rollcall"
	}
	return &RedisQueueRepository{
		client:       client,
		queueKey:     prefix + ":sync_queue",
		tombstoneKey: prefix + ":tombstones",
	}
}

var errNilClient = errors.New("redis client is nil")

func (r *RedisQueueRepository) LoadQueue(ctx context.Context) ([]models.SyncTask, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	raw, err := r.client.LRange(ctx, r.queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue from redis: %w", err)
	}

	tasks := make([]models.SyncTask, 0, len(raw))
	for _, item := range raw {
		var task models.SyncTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *RedisQueueRepository) AppendTask(ctx context.Context, task models.SyncTask) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := r.client.RPush(ctx, r.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to append task in redis: %w", err)
	}
	return nil
}

// DeleteTask removes the first list element whose id matches.
func (r *RedisQueueRepository) DeleteTask(ctx context.Context, id string) error {
	if r.client == nil {
		return errNilClient
	}
	raw, err := r.client.LRange(ctx, r.queueKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read queue from redis: %w", err)
	}

	for _, item := range raw {
		var task models.SyncTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			continue
		}
		if task.ID != id {
			continue
		}
		// LREM with count 1 scans from the head, so the first match goes.
		if err := r.client.LRem(ctx, r.queueKey, 1, item).Err(); err != nil {
			return fmt.Errorf("failed to delete task from redis: %w", err)
		}
		return nil
	}
	return nil
}

func (r *RedisQueueRepository) AddTombstone(ctx context.Context, recordID string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.SAdd(ctx, r.tombstoneKey, recordID).Err(); err != nil {
		return fmt.Errorf("failed to add tombstone in redis: %w", err)
	}
	return nil
}

func (r *RedisQueueRepository) LoadTombstones(ctx context.Context) ([]string, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	ids, err := r.client.SMembers(ctx, r.tombstoneKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tombstones from redis: %w", err)
	}
	return ids, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
