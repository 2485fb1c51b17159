package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/projecthub/config"
	"github.com/jwalitptl/projecthub/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/projecthub/internal/handler/prometheus"
	projectHandler "github.com/jwalitptl/projecthub/internal/handler/project"
	taskHandler "github.com/jwalitptl/projecthub/internal/handler/task"
	userHandler "github.com/jwalitptl/projecthub/internal/handler/user"
	"github.com/jwalitptl/projecthub/internal/middleware"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/repository/memory"
	"github.com/jwalitptl/projecthub/internal/repository/postgres"
	"github.com/jwalitptl/projecthub/internal/router"
	"github.com/jwalitptl/projecthub/internal/service/cache"
	projectService "github.com/jwalitptl/projecthub/internal/service/project"
	taskService "github.com/jwalitptl/projecthub/internal/service/task"
	userService "github.com/jwalitptl/projecthub/internal/service/user"
	"github.com/jwalitptl/projecthub/pkg/logger"
	"github.com/jwalitptl/projecthub/pkg/messaging/redis"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err, "server failed")
	}
	log.Info("server exited properly")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, "projecthub")

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()
	backend = repository.Instrument(backend, m)

	feed, err := openFeed(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer feed.Close()

	hub := realtime.NewHub(backend, feed, log.With("component", "hub"), m)
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start subscription hub: %w", err)
	}
	defer hub.Close()

	opts := repository.Options{
		Feed:        feed,
		Hub:         hub,
		Logger:      log,
		MaxPageSize: cfg.Repository.MaxPageSize,
	}
	projectRepo := repository.New[model.Project](model.ProjectsCollection, backend, model.ProjectCodec{}, opts)
	taskRepo := repository.New[model.Task](model.TasksCollection, backend, model.TaskCodec{}, opts)
	userRepo := repository.New[model.User](model.UsersCollection, backend, model.UserCodec{}, opts)

	cacheCfg := cache.Config{TTL: cfg.Cache.TTL, CleanupInterval: cfg.Cache.CleanupInterval}
	caches := map[string]*cache.Store{}
	for _, collection := range []string{model.ProjectsCollection, model.TasksCollection, model.UsersCollection} {
		c := cache.New(collection, cacheCfg, m)
		if err := c.Follow(ctx, feed, collection, log); err != nil {
			return fmt.Errorf("failed to follow changes for %s cache: %w", collection, err)
		}
		caches[collection] = c
	}

	projects := projectService.NewService(projectRepo, caches[model.ProjectsCollection])
	tasks := taskService.NewService(taskRepo, caches[model.TasksCollection])
	users := userService.NewService(userRepo, caches[model.UsersCollection])

	r := router.NewRouter(
		log.Zerolog(),
		prometheusHandler.New(registry, m),
		health.NewHandler(backend),
		router.RouterConfig{
			Mode:      cfg.Server.Mode,
			RateLimit: rateLimit(cfg.RateLimit),
			RateBurst: cfg.RateLimit.Burst,
			CORSConfig: middleware.CORSConfig{
				AllowOrigins: cfg.CORS.AllowedOrigins,
				AllowMethods: cfg.CORS.AllowedMethods,
				AllowHeaders: cfg.CORS.AllowedHeaders,
				MaxAge:       12 * time.Hour,
			},
		},
		projectHandler.NewHandler(projects),
		taskHandler.NewHandler(tasks),
		userHandler.NewHandler(users),
	)
	r.Setup()

	// WriteTimeout stays unset by default: event streams are long-lived.
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "storage", cfg.Storage.Driver, "feed", cfg.Storage.Feed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Backend, func(), error) {
	if strings.EqualFold(cfg.Storage.Driver, "memory") {
		log.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(db), func() { db.Close() }, nil
}

func openFeed(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (realtime.Feed, error) {
	if strings.EqualFold(cfg.Storage.Feed, "local") {
		return realtime.NewLocalFeed(cfg.Storage.FeedBuffer, m), nil
	}

	brokerCfg := cfg.Redis.ToBrokerConfig()
	brokerCfg.Buffer = cfg.Storage.FeedBuffer
	broker, err := redis.NewRedisBroker(ctx, brokerCfg, log.Zerolog(), m)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return realtime.NewBrokerFeed(broker, cfg.Redis.Channel, log.With("component", "feed")), nil
}

func rateLimit(cfg config.RateLimitConfig) rate.Limit {
	if !cfg.Enabled {
		return 0
	}
	return rate.Limit(cfg.RequestsPerSecond)
}
