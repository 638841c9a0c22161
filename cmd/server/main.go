package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"kitchenledger/internal/cache"
	"kitchenledger/internal/config"
	"kitchenledger/internal/db"
	"kitchenledger/internal/events"
	httpapi "kitchenledger/internal/http"
	"kitchenledger/internal/logger"
	"kitchenledger/internal/memstore"
	"kitchenledger/internal/repository"
	"kitchenledger/internal/service"
	"kitchenledger/internal/telemetry"
	"kitchenledger/internal/tracing"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("kitchenledger", false)
		logger.Logger.Fatal().Err(err).Msg("config error")
	}

	logger.Init(cfg.ServiceName, cfg.IsDevelopment())
	logger.SetLevel(cfg.LogLevel)
	logger.Logger.Info().
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreDriver).
		Str("location", cfg.Location.String()).
		Str("version", version).
		Msg("starting kitchenledger")

	if cfg.TracingEnabled {
		tp, err := tracing.Init(cfg.ServiceName, version, cfg.JaegerEndpoint)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("tracer init failed, continuing without tracing")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(ctx, tp); err != nil {
					logger.Logger.Error().Err(err).Msg("tracer shutdown failed")
				}
			}()
		}
	}

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("store init failed")
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg)

	opts := service.Options{
		Metrics:     metrics,
		Location:    cfg.Location,
		MaxAttempts: cfg.CommitMaxAttempts,
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Logger.Warn().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("redis unavailable, report cache disabled")
			_ = client.Close()
		} else {
			reportCache := cache.NewReportCache(client, cfg.ReportCacheTTL)
			defer reportCache.Close()
			opts.Cache = reportCache
			logger.Logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("report cache enabled")
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Logger.Warn().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("kafka unavailable, ledger events not published")
		} else {
			defer publisher.Close()
			opts.Publisher = publisher
			logger.Logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing ledger events")
		}
	}

	svc := service.New(store, opts)
	handler := httpapi.NewHandler(svc)
	router := httpapi.NewRouter(handler, httpapi.RouterOptions{Metrics: metrics, Gatherer: reg})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("graceful shutdown failed")
		if closeErr := server.Close(); closeErr != nil {
			logger.Logger.Error().Err(closeErr).Msg("force close failed")
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (service.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Logger.Warn().Msg("using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		ApplicationName: cfg.ServiceName,
		LogQueries:      cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	repo := repository.New(pool)
	listenCtx, stopListening := context.WithCancel(ctx)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := repo.Listen(listenCtx); err != nil {
			logger.Logger.Error().Err(err).Msg("change listener stopped")
		}
	}()
	return repo, func() {
		stopListening()
		<-listenerDone
		pool.Close()
	}, nil
}
