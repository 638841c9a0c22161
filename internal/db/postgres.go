package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"kitchenledger/internal/logger"
)

type PoolOptions struct {
	ApplicationName string
	// LogQueries logs every statement at debug level instead of only errors.
	LogQueries bool
}

func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if opts.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}

	level := tracelog.LogLevelError
	if opts.LogQueries {
		level = tracelog.LogLevelDebug
	}
	cfg.ConnConfig.Tracer = &tracelog.TraceLog{Logger: tracelog.LoggerFunc(logQuery), LogLevel: level}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func logQuery(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var event *zerolog.Event
	switch level {
	case tracelog.LogLevelError:
		event = logger.Error(ctx)
	case tracelog.LogLevelWarn:
		event = logger.Warn(ctx)
	case tracelog.LogLevelInfo:
		event = logger.Info(ctx)
	default:
		event = logger.Debug(ctx)
	}
	event.Fields(data).Str("component", "pgx").Msg(msg)
}
