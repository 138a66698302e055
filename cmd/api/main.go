package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/planner/internal/api"
	"example.com/planner/internal/auth"
	"example.com/planner/internal/cache"
	"example.com/planner/internal/config"
	"example.com/planner/internal/domain"
	"example.com/planner/internal/logging"
	"example.com/planner/internal/outbox"
	"example.com/planner/internal/persistence/memory"
	"example.com/planner/internal/persistence/postgres"
	httptransport "example.com/planner/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "planner-api")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       domain.EventRepository
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory event store; data is lost on restart")
		repo = memory.NewStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, 10*time.Second)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL,
			outbox.WithBasicAuth(cfg.SchemaRegistryUser, cfg.SchemaRegistryPass))
		dispatcher = outbox.NewDispatcher(pool, producer, registry, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.CacheInvalidationURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.CacheInvalidationURL, cfg.CacheInvalidationToken, cfg.CacheInvalidationTimeout)
	}

	service := domain.NewService(repo,
		domain.WithInvalidator(invalidator),
		domain.WithConflictPolicy(domain.ConflictPolicy{BlockOnCompleted: cfg.ConflictBlockOnCompleted}),
		domain.WithLogger(logger.Named("service")))

	mux := http.NewServeMux()
	api.NewHandler(service,
		api.WithLogger(logger.Named("api")),
		api.WithWeekStart(cfg.CalendarWeekStart),
	).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		auth.PublicPaths("/healthz", "/metrics"),
	)
	handler := logging.Requests(logger)(httptransport.CORS(cfg.CORSOrigin)(authMiddleware.Wrap(mux)))

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler)
	httptransport.Serve(server, logger, "api")

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh
	logger.Info("shutdown requested")
	cancel()

	httptransport.Shutdown(logger, 15*time.Second, server)
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
