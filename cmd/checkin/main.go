package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/domain"
	"rollcall/internal/events"
	"rollcall/internal/export"
	"rollcall/internal/google"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/network"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/remote"
	"rollcall/internal/repository"
	"rollcall/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, logger, closer, err := loadConfigAndLogger(configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	startMetrics(ctx, cfg, &logger)

	repo, cleanup, err := initRepository(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer cleanup()

	store := queue.NewStore(repo, &logger)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	logger.Info().Int("pending", store.Len()).Msg("queue restored")

	sender, err := initSender(ctx, cfg, loc, &logger)
	if err != nil {
		return err
	}

	monitor := network.NewMonitor(cfg.Sync.InitiallyOnline(), &logger)
	dispatcher := worker.NewDispatcher(store, sender, monitor, worker.DispatcherConfig{
		Endpoint:       cfg.Sync.EndpointURL,
		RequestTimeout: cfg.Sync.RequestTimeout,
		Retry:          worker.RetryPolicy{MinDelay: cfg.Sync.BackoffMin, MaxDelay: cfg.Sync.BackoffMax},
	}, &logger)

	if cfg.Sync.ConnCheckEnabled {
		checker := network.DialChecker{Endpoint: dispatcher.Endpoint, Timeout: 5 * time.Second}
		go monitor.Watch(ctx, checker, cfg.Sync.ConnCheckInterval)
	}

	eventBus := events.NewEventBus()
	dispatcher.SetPublisher(eventBus)

	intake := worker.NewIntake(store, &logger)

	if err := initAlerts(ctx, cfg, eventBus, &logger); err != nil {
		return err
	}

	startConfigWatcher(ctx, configPath, cfg.Sync.EndpointURL, dispatcher, &logger)

	go dispatcher.Start(ctx)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, api.Deps{
			Checkins: intake,
			Sync:     dispatcher,
			Queue:    store,
			Network:  monitor,
		}, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Str("mode", cfg.Sync.Mode).
		Str("storage", cfg.Storage.Driver).
		Bool("endpoint_configured", config.EndpointConfigured(dispatcher.Endpoint())).
		Msg("check-in sync started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	reportUnsynced(cfg, store, loc, &logger)
	return nil
}

func loadConfigAndLogger(configPath string) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "checkin-main").Logger()

	return cfg, logger, closer, nil
}

func initRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.QueueRepository, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			_ = repository.Close(client)
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		return repository.NewRedisQueueRepository(client, cfg.Redis.KeyPrefix), func() { _ = repository.Close(client) }, nil

	case config.DriverMemory:
		logger.Warn().Msg("memory storage selected, pending check-ins are lost on exit")
		return repository.NewMemoryQueueRepository(), func() {}, nil

	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		if cfg.Backup.Enabled {
			backupService := database.NewBackupService(db, cfg.Backup, logger)
			go backupService.Start(ctx)
		}
		return db, func() { _ = db.Close() }, nil
	}
}

func initSender(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zerolog.Logger) (domain.Sender, error) {
	if cfg.Sync.Mode != config.ModeSheets {
		return remote.NewClient(cfg.Sync.RequestTimeout, loc), nil
	}

	sender, err := google.NewSheetsSender(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.SheetName, cfg.Sync.RequestTimeout, loc)
	if err != nil {
		return nil, fmt.Errorf("init google sheets: %w", err)
	}
	if email, err := google.ServiceAccountEmail(cfg.Google.GoogleCredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("share the attendance spreadsheet with this account")
	}
	if config.EndpointConfigured(cfg.Sync.EndpointURL) {
		if err := sender.TestConnection(ctx, cfg.Sync.EndpointURL); err != nil {
			logger.Warn().Err(err).Msg("spreadsheet is not reachable yet, tasks stay queued")
		}
	}
	return sender, nil
}

func initAlerts(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) error {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AlertChatIDs) == 0 {
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		logger.Error().Err(err).Msg("create telegram bot")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug

	alerter := notify.NewAlerter(botAPI, cfg.Telegram.AlertChatIDs, cfg.Telegram.AlertThreshold, cfg.App.Name, logger)
	alerter.Subscribe(bus)
	go alerter.Start(ctx)
	logger.Info().Str("bot", botAPI.Self.UserName).Int("chats", len(cfg.Telegram.AlertChatIDs)).Msg("telegram alerts enabled")
	return nil
}

func startConfigWatcher(ctx context.Context, configPath, fileEndpoint string, dispatcher *worker.Dispatcher, logger *zerolog.Logger) {
	watcher, err := config.NewWatcher(configPath, endpointReloader(fileEndpoint, dispatcher), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
		return
	}
	go watcher.Run(ctx)
}

type endpointSetter interface {
	SetEndpoint(endpoint string)
}

// endpointReloader applies the file's endpoint only when the file value
// changed; an endpoint set over the API is kept across other edits.
// Reloads arrive from a single watcher goroutine.
func endpointReloader(initial string, target endpointSetter) func(*config.Config) {
	last := strings.TrimSpace(initial)
	return func(next *config.Config) {
		endpoint := strings.TrimSpace(next.Sync.EndpointURL)
		if endpoint == last {
			return
		}
		last = endpoint
		target.SetEndpoint(endpoint)
	}
}

func reportUnsynced(cfg *config.Config, store *queue.Store, loc *time.Location, logger *zerolog.Logger) {
	pending := store.List()
	if len(pending) == 0 {
		return
	}
	logger.Warn().Int("pending", len(pending)).Msg("exiting with unsynced check-ins")

	if cfg.Exports.Path == "" {
		return
	}
	path, err := export.WriteUnsynced(cfg.Exports.Path, pending, loc, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("export unsynced check-ins")
		return
	}
	logger.Info().Str("path", path).Msg("unsynced check-ins exported")
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
