package lib

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const syncLockKey = "pushpanel:sync:lock"

// SyncGuard serializes reconciliation runs. Acquire returns ErrSyncInProgress when another
// run holds the guard.
type SyncGuard interface {
	Acquire(ctx context.Context) (release func(), err error)
}

func NewSyncGuard(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) SyncGuard {
	if cfg.Redis.Addr == "" {
		log.Sugar().Info("REDIS_ADDR not set, sync runs are serialized in-process only")
		return &localGuard{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return NewRedisGuard(rdb, log, cfg.Sync.LockTTL)
}

type localGuard struct {
	mu sync.Mutex
}

func (g *localGuard) Acquire(ctx context.Context) (func(), error) {
	if !g.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	return g.mu.Unlock, nil
}

// Only delete the key if we still own it; the TTL may have handed it to someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisGuard struct {
	rdb *redis.Client
	log *zap.Logger
	key string
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, log *zap.Logger, ttl time.Duration) SyncGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisGuard{rdb, log, syncLockKey, ttl}
}

func (g *redisGuard) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{g.key}, token).Err(); err != nil {
			g.log.Sugar().Warnw("Failed to release sync lock", "key", g.key, "err", err)
		}
	}
	return release, nil
}
