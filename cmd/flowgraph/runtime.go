package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowgraph/config"
	"github.com/BaSui01/flowgraph/internal/cache"
	"github.com/BaSui01/flowgraph/internal/database"
	"github.com/BaSui01/flowgraph/internal/metrics"
	"github.com/BaSui01/flowgraph/internal/migration"
	"github.com/BaSui01/flowgraph/internal/server"
	"github.com/BaSui01/flowgraph/internal/telemetry"
	"github.com/BaSui01/flowgraph/workflow"
	"github.com/BaSui01/flowgraph/workflow/persistence"
)

// runtime 持有一次命令执行所需的全部组件，按配置装配
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	redis     *cache.Manager
	db        *database.PoolManager
	ops       *server.Manager
	engine    *workflow.Engine
}

type runtimeOptions struct {
	// migrate 在打开 SQL 存储前执行内嵌迁移
	migrate bool
	demo    demoOptions
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newRuntime 装配 telemetry、metrics、存储后端与引擎。出错时释放已创建的组件。
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	if err := rt.init(ctx, opts); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(ctx context.Context, opts runtimeOptions) error {
	cfg, logger := rt.cfg, rt.logger

	var err error
	rt.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		rt.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	storeOpts := persistence.Options{
		Type:      persistence.StoreType(cfg.Store.Type),
		KeyPrefix: cfg.Store.KeyPrefix,
		TTL:       cfg.Store.TTL,
		Logger:    logger,
	}

	switch storeOpts.Type {
	case persistence.StoreTypeRedis:
		rt.redis, err = cache.NewManager(cache.FromRedisConfig(cfg.Redis), logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		storeOpts.Redis = rt.redis.Client()
	case persistence.StoreTypeSQL:
		if opts.migrate {
			if err := migrateUp(ctx, cfg, logger); err != nil {
				return err
			}
		}
		db, err := persistence.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN(), logger)
		if err != nil {
			return err
		}
		var poolOpts []database.Option
		if rt.collector != nil {
			name := cfg.Database.Name
			poolOpts = append(poolOpts, database.WithStatsFunc(func(s sql.DBStats) {
				rt.collector.RecordDBConnections(name, s.OpenConnections, s.Idle)
			}))
		}
		rt.db, err = database.NewPoolManager(db, database.FromDatabaseConfig(cfg.Database), logger, poolOpts...)
		if err != nil {
			return err
		}
		storeOpts.DB = rt.db.DB()
	}

	backends, err := persistence.NewBackends(storeOpts)
	if err != nil {
		return err
	}

	engineOpts := append(backends.EngineOptions(),
		workflow.WithDefaultInvocationLimit(cfg.Engine.DefaultInvocationLimit, workflow.LimitAction(cfg.Engine.DefaultLimitAction)),
		workflow.WithAsyncWorkers(cfg.Engine.AsyncWorkers, cfg.Engine.AsyncQueueSize),
		workflow.WithProgressRate(rate.Limit(cfg.Engine.ProgressRate)),
		workflow.WithCompletionTopic(cfg.Engine.CompletionTopic),
		workflow.WithTracerProvider(rt.telemetry.TracerProvider()),
	)
	if rt.collector != nil {
		engineOpts = append(engineOpts,
			workflow.WithStepListener(rt.collector),
			workflow.WithRunListener(rt.collector),
			workflow.WithRetryListener(rt.collector),
		)
	}
	if rt.telemetry.Enabled() {
		meter, err := telemetry.NewRunMeter(rt.telemetry.Meter())
		if err != nil {
			return fmt.Errorf("create run meter: %w", err)
		}
		engineOpts = append(engineOpts, workflow.WithStepListener(meter), workflow.WithRunListener(meter))
	}

	rt.engine, err = workflow.NewEngine(logger, engineOpts...)
	if err != nil {
		return err
	}
	if rt.collector != nil {
		rt.collector.WatchWorkers(rt.engine.WorkerStats)
	}

	demoOpts := opts.demo
	if demoOpts.retry == nil {
		demoOpts.retry = cfg.Retry.Policy()
	}
	if err := registerDemos(rt.engine, demoOpts); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		if err := rt.startOps(); err != nil {
			return err
		}
	}
	return nil
}

func (rt *runtime) startOps() error {
	opsCfg := server.DefaultConfig()
	opsCfg.Addr = rt.cfg.Metrics.Addr
	rt.ops = server.NewManager(opsCfg, nil, rt.logger)
	if rt.redis != nil {
		rt.ops.AddCheck("redis", rt.redis.Ping)
	}
	if rt.db != nil {
		rt.ops.AddCheck("database", rt.db.Ping)
	}
	return rt.ops.Start()
}

// Close 按创建的逆序释放组件
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.ops != nil {
		errs = append(errs, rt.ops.Shutdown(ctx))
	}
	if rt.engine != nil {
		errs = append(errs, rt.engine.Close(ctx))
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func migrateUp(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return m.Up(ctx)
}
