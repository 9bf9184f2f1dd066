// Package redisclient opens the connection used by the cross-instance room
// relay.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/AlexMickh/market-chat/pkg/utils/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	connectAttempts = 5
	connectDelay    = 500 * time.Millisecond
)

type RedisConfig struct {
	addr       string
	user       string
	password   string
	db         int
	clientName string
	poolSize   int
}

type Option func(*RedisConfig)

// WithClientName tags connections so CLIENT LIST shows which chat instance
// holds them.
func WithClientName(name string) Option {
	return func(c *RedisConfig) { c.clientName = name }
}

func WithPoolSize(n int) Option {
	return func(c *RedisConfig) { c.poolSize = n }
}

func NewConfig(addr, user, password string, db int, opts ...Option) *RedisConfig {
	cfg := &RedisConfig{
		addr:     addr,
		user:     user,
		password: password,
		db:       db,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func (c *RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:       c.addr,
		Username:   c.user,
		Password:   c.password,
		DB:         c.db,
		ClientName: c.clientName,
		PoolSize:   c.poolSize,
	}
}

func New(ctx context.Context, cfg *RedisConfig) (*redis.Client, error) {
	const op = "redis-client.New"

	log := logger.GetFromCtx(ctx)

	var rdb *redis.Client
	attempt := 0
	err := retry.WithDelay(connectAttempts, connectDelay, func() error {
		attempt++
		rdb = redis.NewClient(cfg.options())

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			log.Warn(ctx, "redis is not ready", zap.String("addr", cfg.addr), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}
