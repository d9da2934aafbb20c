package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// Deps holds the backends chosen by config. Pool and Redis are nil when the
// memory store or the local lock is in use.
type Deps struct {
	Config config.Config
	Logger *zap.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Repo   appointment.Repository
	Locker redisclient.Locker
}

// Open connects the configured store and lock backends and applies
// migrations when AutoMigrate is set.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger}

	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store, nothing survives a restart")
		d.Repo = appointment.NewMemoryRepository()
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		d.Pool = pool
		logger.Info("connected to postgres")

		if cfg.AutoMigrate {
			if err := migrate(ctx, pool, logger); err != nil {
				d.Close()
				return nil, err
			}
		}
		d.Repo = appointment.NewPgRepository(pool)
	}

	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		d.Redis = rdb
		d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr), zap.Duration("lock_ttl", cfg.LockTTL))
	default:
		d.Locker = redisclient.NewLocalLocker()
	}

	return d, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()
	return m.Up(ctx)
}

// NewService builds the engine on these backends. Load is left to the
// caller.
func (d *Deps) NewService(opts ...appointment.Option) *appointment.Service {
	return appointment.NewService(d.Repo, d.Locker, d.Config, d.Logger, opts...)
}

func (d *Deps) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
