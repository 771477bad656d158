package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/domain"
	"rollcall/internal/repository"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect the pending check-in queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openRepository opens the durable store named in the config. The memory
// driver has nothing to inspect outside the running daemon.
func openRepository(ctx context.Context) (*config.Config, domain.QueueRepository, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			_ = repository.Close(client)
			return nil, nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return cfg, repository.NewRedisQueueRepository(client, cfg.Redis.KeyPrefix), func() { _ = repository.Close(client) }, nil

	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Database.Path, nil)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		return cfg, db, func() { _ = db.Close() }, nil

	default:
		return nil, nil, nil, errors.New("storage driver has no persistent queue to inspect")
	}
}
