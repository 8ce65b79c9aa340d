package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"video_notifier/internal/config"
	"video_notifier/internal/metrics"
	"video_notifier/internal/publisher"
	"video_notifier/internal/scheduler"
	"video_notifier/internal/service"
	"video_notifier/internal/source/youtube"
	"video_notifier/internal/storage/postgres"
	"video_notifier/internal/transport/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := postgres.RunMigrations(cfg.Database.URL()); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	} else {
		logger.Info("rabbitmq url not set, event publishing disabled")
	}

	sourceStore := postgres.NewSourceStore(db)
	destinationStore := postgres.NewDestinationStore(db)
	subscriptionStore := postgres.NewSubscriptionStore(db)
	itemStore := postgres.NewItemStore(db)
	queue := postgres.NewQueue(db)
	cleaner := postgres.NewCleaner(db)
	txManager := postgres.NewTransactionManager(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	metrics.RegisterQueueDepth(registry, queue, 5*time.Second)

	youtubeClient := youtube.New(youtube.Config{
		BaseURL:     cfg.YouTube.BaseURL,
		APIKey:      cfg.YouTube.APIKey,
		Timeout:     cfg.YouTube.Timeout,
		RateLimit:   cfg.YouTube.RateLimit,
		PageSize:    cfg.YouTube.PageSize,
		PageLimit:   cfg.YouTube.PageLimit,
		MaxAttempts: cfg.YouTube.Retry.MaxAttempts,
		RetryDelay:  cfg.YouTube.Retry.Delay,
	}, logger)

	transport, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		APIURL:        cfg.Telegram.APIURL,
		Timeout:       cfg.Telegram.Timeout,
		RateLimit:     cfg.Telegram.RateLimit,
		ChatRateLimit: cfg.Telegram.ChatRateLimit,
		FloodAttempts: cfg.Telegram.FloodAttempts,
		MaxFloodWait:  cfg.Telegram.MaxFloodWait,
	}, logger)
	if err != nil {
		logger.Error("failed to create telegram transport", "error", err)
		os.Exit(1)
	}

	images := telegram.NewImageResolver(transport, telegram.ResolverConfig{
		CacheChatID:    cfg.Telegram.CacheChatID,
		ProbeAttempts:  cfg.Telegram.Image.ProbeAttempts,
		ProbeDelay:     cfg.Telegram.Image.ProbeDelay,
		ProbeTimeout:   cfg.Telegram.Image.ProbeTimeout,
		UploadAttempts: cfg.Telegram.Image.UploadAttempts,
		UploadDelay:    cfg.Telegram.Image.UploadDelay,
	}, logger)

	dispatcher := service.NewDispatcher(
		queue,
		destinationStore,
		itemStore,
		transport,
		images,
		pub,
		collector,
		logger,
		cfg.Dispatch,
	)

	checker := service.NewChecker(
		[]service.Source{youtubeClient},
		service.Stores{
			Sources:       sourceStore,
			Items:         itemStore,
			Subscriptions: subscriptionStore,
			Queue:         queue,
			Cleaner:       cleaner,
		},
		txManager,
		dispatcher,
		pub,
		collector,
		logger,
		cfg.Poll,
		cfg.Cleanup,
		cfg.YouTube.Concurrency,
	)

	sched := scheduler.NewScheduler(checker, cfg.Poll, cfg.Cleanup, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting video notifier",
		"check_schedule", cfg.Poll.Schedule,
		"clean_schedule", cfg.Cleanup.Schedule,
		"max_in_flight", cfg.Dispatch.MaxInFlight,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(sched.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(dispatcher.Run(gctx))
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, registry, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("notifier stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           metrics.Handler(gatherer, cfg.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", cfg.Addr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
