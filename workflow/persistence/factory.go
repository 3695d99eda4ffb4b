package persistence

import (
	"fmt"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// StoreType selects a persistence backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// Options configures NewBackends. Redis is required for StoreTypeRedis and DB for StoreTypeSQL.
type Options struct {
	Type      StoreType
	KeyPrefix string
	// TTL expires finished redis records; ignored by other backends.
	TTL    time.Duration
	Redis  redis.UniversalClient
	DB     *gorm.DB
	Logger *zap.Logger
}

// Backends groups the three stores the engine persists through.
type Backends struct {
	Type        StoreType
	Instances   workflow.InstanceStore
	Suspensions workflow.SuspensionRepository
	Progress    workflow.ProgressTracker
}

// NewBackends creates the stores selected by opts.Type.
func NewBackends(opts Options) (*Backends, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "persistence"))

	b := &Backends{Type: opts.Type}
	switch opts.Type {
	case StoreTypeMemory, "":
		b.Type = StoreTypeMemory
		b.Instances = workflow.NewMemoryInstanceStore()
		b.Suspensions = workflow.NewMemorySuspensionRepository()
		b.Progress = workflow.NewMemoryProgressTracker()
	case StoreTypeRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		ropts := []RedisOption{WithKeyPrefix(opts.KeyPrefix), WithTTL(opts.TTL)}
		b.Instances = NewRedisInstanceStore(opts.Redis, ropts...)
		b.Suspensions = NewRedisSuspensionRepository(opts.Redis, ropts...)
		b.Progress = NewRedisProgressTracker(opts.Redis, ropts...)
	case StoreTypeSQL:
		if opts.DB == nil {
			return nil, fmt.Errorf("sql store requires a database")
		}
		b.Instances = NewSQLInstanceStore(opts.DB)
		b.Suspensions = NewSQLSuspensionRepository(opts.DB)
		b.Progress = NewSQLProgressTracker(opts.DB)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}

	logger.Info("persistence backends ready", zap.String("type", string(b.Type)))
	return b, nil
}

// EngineOptions wires the backends into a workflow.Engine.
func (b *Backends) EngineOptions() []workflow.EngineOption {
	return []workflow.EngineOption{
		workflow.WithInstanceStore(b.Instances),
		workflow.WithSuspensionRepository(b.Suspensions),
		workflow.WithProgressTracker(b.Progress),
	}
}

// OpenDatabase opens a gorm connection for driver (postgres, mysql or sqlite).
func OpenDatabase(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "":
		return nil, fmt.Errorf("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	logger.Info("database connected", zap.String("driver", driver))
	return db, nil
}
