package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/attendance/internal/api"
	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/config"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/logging"
	"example.com/attendance/internal/outbox"
	"example.com/attendance/internal/persistence/gormstore"
	"example.com/attendance/internal/persistence/memory"
	persistence "example.com/attendance/internal/persistence/postgres"
	"example.com/attendance/internal/reporting"
	httptransport "example.com/attendance/internal/transport/http"
)

// store is everything the session manager and report generators read from one backend.
type store interface {
	domain.AttendanceRepository
	domain.MemberReader
	domain.PaymentReader
	domain.TrainerReader
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Report timezone was validated by config.Load.
	loc, _ := cfg.Location()

	var pool *pgxpool.Pool
	if cfg.StorageDriver != config.StorageMemory {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	var backend store
	switch cfg.StorageDriver {
	case config.StorageMemory:
		backend = memory.NewStore()
	case config.StorageGorm:
		gs, err := gormstore.Open(cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to open gorm store", "error", err)
			os.Exit(1)
		}
		defer gs.Shutdown()
		backend = gs
	default:
		backend = persistence.NewRepository(pool)
	}

	var dispatcher *outbox.Dispatcher
	if pool != nil && cfg.OutboxEnabled {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithLogger(logger.With("component", "outbox")),
		)
		go dispatcher.Start(ctx)
	}

	service := domain.NewService(backend, backend,
		domain.WithStaleWindow(cfg.StaleSessionWindow),
		domain.WithSingleOpenSession(cfg.SingleOpenSession),
		domain.WithLocation(loc),
		domain.WithLogger(logger),
	)
	handler := api.NewHandler(
		service,
		reporting.NewMetricsAggregator(backend, backend, service, reporting.WithLocation(loc)),
		reporting.NewSeriesGenerator(backend, backend, backend, reporting.WithLocation(loc)),
		reporting.NewTrainerRollUp(backend, backend, backend),
	)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.SkipPaths("/healthz", "/metrics"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(logger))
	r.Use(api.CORS("http://localhost:5173"))
	r.Use(authMiddleware.Wrap)
	handler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), r)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("attendance-service listening", "address", cfg.HTTPAddress, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
