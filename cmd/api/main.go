package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/smarttracker/internal/api"
	"example.com/smarttracker/internal/config"
	"example.com/smarttracker/internal/domain"
	"example.com/smarttracker/internal/events"
	"example.com/smarttracker/internal/logging"
	"example.com/smarttracker/internal/persistence/file"
	"example.com/smarttracker/internal/persistence/memory"
	persistence "example.com/smarttracker/internal/persistence/postgres"
	httptransport "example.com/smarttracker/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger); err != nil {
		logger.Error("smarttracker api stopped", zap.Error(err))
		os.Exit(1)
	}
}

func serve(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc, closeDoc, err := openDocument(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDoc()

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	store := domain.NewStore(doc,
		domain.WithLogger(logger.Named("store")),
		domain.WithPublisher(publisher),
	)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize activity storage: %w", err)
	}

	mux := http.NewServeMux()
	api.NewHandler(store, logger.Named("api")).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
		logger.Info("serving static files", zap.String("dir", cfg.StaticDir))
	}

	handler := api.Chain(mux, api.Standard(logger, cfg.CORSAllowedOrigin)...)
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler, logger)

	var g run.Group

	g.Add(func() error {
		logger.Info("smarttracker api listening",
			zap.String("addr", cfg.HTTPAddress),
			zap.String("storage", cfg.StorageBackend),
			zap.Bool("events", cfg.EventsEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	g.Add(func() error {
		select {
		case sig := <-quit:
			logger.Info("shutdown requested", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		return nil
	}, func(error) {
		signal.Stop(quit)
		cancel()
	})

	return g.Run()
}

// openDocument selects the storage backend named by STORAGE_BACKEND.
func openDocument(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.Document, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendFile:
		return file.NewDocument(cfg.DataFile, logger.Named("file")), func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return persistence.NewRepository(pool, cfg.DocumentName), pool.Close, nil
	case config.BackendMemory:
		logger.Warn("using in-memory storage; activities are lost on restart")
		return memory.NewDocument(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newPublisher(cfg config.Config, logger *zap.Logger) (domain.EventPublisher, func()) {
	if !cfg.EventsEnabled {
		return events.NopPublisher{}, func() {}
	}

	producer := events.NewKafkaProducer(cfg.KafkaBrokers)
	closeFn := func() {
		if err := producer.Close(); err != nil {
			logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	return events.NewPublisher(producer, cfg.EventsTopic, cfg.PublishTimeout), closeFn
}
