package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gmarchetti/donna/internal/agent"
	"github.com/gmarchetti/donna/internal/audit"
	"github.com/gmarchetti/donna/internal/config"
	"github.com/gmarchetti/donna/internal/conversation"
	"github.com/gmarchetti/donna/internal/events"
	"github.com/gmarchetti/donna/internal/httpapi"
	"github.com/gmarchetti/donna/internal/notify"
	"github.com/gmarchetti/donna/internal/observability"
	"github.com/gmarchetti/donna/internal/recurring"
	"github.com/gmarchetti/donna/internal/reminder"
	"github.com/gmarchetti/donna/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	var (
		taskStore   tasks.Store
		convStore   conversation.Store
		remStore    reminder.Store
		auditStore  audit.Store
		outbox      events.Outbox
		deadLetters events.DeadLetterStore
		processed   events.ProcessedStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		outbox, err = events.NewPGOutbox(ctx, pool)
		if err != nil {
			logger.Error("outbox init failed", "error", err)
			os.Exit(1)
		}
		deadLetters, err = events.NewPGDeadLetters(ctx, pool)
		if err != nil {
			logger.Error("dead-letter store init failed", "error", err)
			os.Exit(1)
		}
		processed, err = events.NewPGProcessed(ctx, pool)
		if err != nil {
			logger.Error("processed store init failed", "error", err)
			os.Exit(1)
		}
		taskStore, err = tasks.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Error("task store init failed", "error", err)
			os.Exit(1)
		}
		convStore, err = conversation.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Error("conversation store init failed", "error", err)
			os.Exit(1)
		}
		remStore, err = reminder.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Error("reminder store init failed", "error", err)
			os.Exit(1)
		}
		auditStore = audit.NewPostgresStore(pool)
		logger.Info("using postgres stores")
	} else {
		memOutbox := events.NewMemOutbox()
		outbox = memOutbox
		deadLetters = events.NewMemDeadLetters()
		processed = events.NewMemProcessed()
		taskStore = tasks.NewMemStore(memOutbox)
		convStore = conversation.NewMemStore()
		remStore = reminder.NewMemStore(memOutbox)
		auditStore = audit.NewMemStore()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}
	defer taskStore.Close()
	defer convStore.Close()
	defer remStore.Close()
	defer auditStore.Close()

	executor := tasks.NewExecutor(taskStore, events.NewTaskPublisher(), metrics)
	planner := agent.NewRulePlanner(executor)
	manager := conversation.NewManager(convStore, executor, planner, metrics, cfg.ConversationHistoryLimit)

	bus := events.NewInProcBus(events.BusConfig{
		Partitions:   cfg.BusPartitions,
		QueueSize:    cfg.BusQueueSize,
		MaxAttempts:  cfg.BusMaxAttempts,
		RetryBackoff: cfg.BusRetryBackoff,
		DeadLetters:  deadLetters,
		Logger:       logger,
		Metrics:      metrics,
	})

	scheduler := reminder.NewScheduler(reminder.Config{
		Store:     remStore,
		Publisher: events.NewReminderPublisher(),
		Logger:    logger,
		Metrics:   metrics,
		Interval:  cfg.ReminderPollInterval,
		ClaimTTL:  cfg.ReminderClaimTTL,
	})
	generator := recurring.NewGenerator(executor, processed, logger, metrics)
	dispatcher := notify.NewDispatcher(cfg.NotifyQueueSize, logger, metrics)
	auditor := audit.NewLogger(auditStore, logger, metrics)

	// All subscriptions happen before the bus starts.
	scheduler.Register(bus)
	generator.Register(bus)
	dispatcher.Register(bus)
	auditor.Register(bus)

	relay := events.NewRelay(events.RelayConfig{
		Outbox:   outbox,
		Bus:      bus,
		Logger:   logger,
		Metrics:  metrics,
		Interval: cfg.OutboxRelayInterval,
	})

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	bus.Start(runCtx)
	relay.Start(runCtx)
	scheduler.Start(runCtx)

	api := httpapi.New(cfg, manager, executor, dispatcher)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	// Stop intake first, then drain the pipeline back to front.
	scheduler.Stop()
	relay.Stop()
	bus.Stop()
	runCancel()

	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
