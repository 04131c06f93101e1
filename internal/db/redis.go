package db

import (
	"context"

	"github.com/freelance-escrow/backend/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisOptions parses cfg.RedisURL; non-zero pool and timeout settings
// override what the URL carries.
func redisOptions(cfg *config.Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if opts.ClientName == "" {
		opts.ClientName = applicationName
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	if cfg.RedisTimeout > 0 {
		opts.DialTimeout = cfg.RedisTimeout
		opts.ReadTimeout = cfg.RedisTimeout
		opts.WriteTimeout = cfg.RedisTimeout
	}
	return opts, nil
}

// NewRedisClient connects the client that carries escrow events, proof
// nonces and rate-limit counters.
func NewRedisClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx := ctx
	if cfg.RedisTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.RedisTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info("redis connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize),
	)
	return client, nil
}
