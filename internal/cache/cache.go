package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Options 描述 Redis 连接参数。
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient 创建 Redis 客户端并做一次连通性探测。
// 热数据缓冲与体检探针共用该连接。
func NewClient(opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("redis connected")
	return rdb, nil
}
