package initializers

import (
	"context"
	"fmt"
	"time"

	"github.com/Itish41/IAOMS/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectRedis returns nil when no host is configured; callers treat Redis as optional.
func ConnectRedis(cfg config.RedisConfig, log *zap.Logger) *redis.Client {
	if cfg.Host == "" {
		log.Info("Redis host not configured, directory cache and event forwarding disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Redis ping failed, continuing without it", zap.Error(err))
		rdb.Close()
		return nil
	}
	return rdb
}
