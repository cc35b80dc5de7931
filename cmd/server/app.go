package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/liamcoop/automate/actions"
	"github.com/liamcoop/automate/executionlog"
	"github.com/liamcoop/automate/internal/config"
	"github.com/liamcoop/automate/internal/logger"
	"github.com/liamcoop/automate/pipeline"
	"github.com/liamcoop/automate/rules"
	"github.com/liamcoop/automate/scheduler"
)

// app is the wired service. Everything the HTTP layer and the CLI touch
// hangs off it.
type app struct {
	db        *sql.DB
	redis     redis.UniversalClient
	bolt      *executionlog.BoltSink
	engine    *rules.Engine
	executor  *actions.Executor
	sink      executionlog.Sink
	scheduler *scheduler.Scheduler
	runner    *pipeline.Runner
}

func buildApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Storage.Rules == config.BackendPostgres || cfg.Storage.Logs == config.BackendPostgres {
		if a.db, err = sql.Open("postgres", cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err = a.db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	var store rules.RuleStore = rules.NewInMemoryRuleStore()
	if cfg.Storage.Rules == config.BackendPostgres {
		store = rules.NewPostgresRuleStore(a.db)
	}

	cacheCfg := rules.CacheConfig{TTL: cfg.Cache.TTL}
	var cache rules.RulesCache = rules.NewInMemoryRulesCache(cacheCfg)
	if cfg.Cache.RedisAddr != "" {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Cache.RedisAddr}})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		cache = rules.NewRedisRulesCache(a.redis, "automate", cacheCfg)
	}

	if a.engine, err = rules.NewEngine(ctx, store, rules.WithCache(cache)); err != nil {
		return nil, err
	}

	a.executor = actions.NewExecutor(actions.Config{
		DefaultTimeout: cfg.Webhook.DefaultTimeout,
		DefaultRetries: cfg.Webhook.DefaultRetries,
		MaxConcurrency: cfg.Webhook.MaxConcurrency,
		UserAgent:      cfg.Webhook.UserAgent,
	})

	switch cfg.Storage.Logs {
	case config.BackendPostgres:
		a.sink = executionlog.NewPostgresSink(a.db)
	case config.BackendBolt:
		if a.bolt, err = executionlog.OpenBoltSink(cfg.Storage.BoltPath); err != nil {
			return nil, err
		}
		a.sink = a.bolt
	default:
		a.sink = executionlog.NewMemorySink(cfg.Storage.MemoryPerRule)
	}

	var schedOpts []scheduler.Option
	if !cfg.Scheduler.Enabled {
		schedOpts = append(schedOpts, scheduler.Disabled())
	}
	a.scheduler = scheduler.New(store, a.engine, a.executor, a.sink, schedOpts...)
	a.runner = pipeline.NewRunner(a.engine, a.executor, a.sink)

	logger.Debug("app wired", "rules", cfg.Storage.Rules, "logs", cfg.Storage.Logs, "redis", a.redis != nil)
	return a, nil
}

// Close releases every connection the app opened.
func (a *app) Close() error {
	var errs []error
	if a.bolt != nil {
		errs = append(errs, a.bolt.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
