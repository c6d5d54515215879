package utils

import (
	"context"
	"fmt"

	"rooster-auction/internal/config"

	"github.com/go-redis/redis/v8"
)

func InitializeRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}
	return rdb, nil
}
