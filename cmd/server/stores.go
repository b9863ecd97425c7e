package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"cartsaga/cmd/server/config"
	cartsdb "cartsaga/internal/db/carts"
	checkoutsdb "cartsaga/internal/db/checkouts"
	"cartsaga/internal/entity"
	"cartsaga/internal/workflow"
)

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// resources collects what the server opened so it can be closed in reverse order.
type resources struct {
	databaseURL string
	db          *sql.DB
	closers     []func() error
	logger      logr.Logger
}

func (r *resources) add(name string, fn func() error) {
	r.closers = append(r.closers, func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	})
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error(err, "release resource")
		}
	}
	r.closers = nil
}

// database opens the shared Postgres pool once.
func (r *resources) database(ctx context.Context) (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	if r.databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := openDB("pgx", r.databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	r.add("database", db.Close)
	r.db = db
	return db, nil
}

func buildCartRepository(ctx context.Context, app config.AppConfig, res *resources) (entity.Repository, error) {
	switch app.CartStore {
	case config.StorePostgres:
		conn, err := res.database(ctx)
		if err != nil {
			return nil, err
		}
		return cartsdb.NewPostgresRepositoryWithSchema(ctx, conn)
	case config.StoreRedis:
		cfg, err := config.LoadRedis()
		if err != nil {
			return nil, err
		}
		client, err := newRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		res.add("redis", client.Close)
		return cartsdb.NewRedisRepository(client, cfg.CartTTL), nil
	default:
		return entity.NewMemoryRepository(), nil
	}
}

func buildActivityLog(ctx context.Context, app config.AppConfig, res *resources) (workflow.ActivityLog, error) {
	switch app.WorkflowLog {
	case config.LogPostgres:
		conn, err := res.database(ctx)
		if err != nil {
			return nil, err
		}
		return checkoutsdb.NewActivityLogWithSchema(ctx, conn)
	case config.LogFile:
		log, err := workflow.OpenFileLog(app.WorkflowLogPath)
		if err != nil {
			return nil, err
		}
		res.add("workflow log", log.Close)
		return log, nil
	default:
		return workflow.NewMemoryLog(), nil
	}
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
