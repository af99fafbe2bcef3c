package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/model"
)

const redisOpTimeout = 5 * time.Second

// RedisStorage 将全部记录作为一个 JSON 文档保存在单个 key 下。
type RedisStorage struct {
	client *redis.Client
	key    string
}

func NewRedisStorage(client *redis.Client, key string) *RedisStorage {
	return &RedisStorage{client: client, key: key}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string, db int, key string) (*RedisStorage, error) {
	if addr == "" {
		return nil, errors.New("redis store: redis_addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	if err := client.Ping(opCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", addr, err)
	}
	return NewRedisStorage(client, key), nil
}

func (rs *RedisStorage) Read(ctx context.Context) ([]model.Record, error) {
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	payload, err := rs.client.Get(opCtx, rs.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get %s: %w", rs.key, err)
	}

	var records []model.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("redis store: decode %s: %w", rs.key, err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

func (rs *RedisStorage) Write(ctx context.Context, records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("redis store: encode: %w", err)
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	if err := rs.client.Set(opCtx, rs.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", rs.key, err)
	}

	l := logger.WithComponent("ProxyPool/Storage")

	l.Info().Int("count", len(records)).Str("key", rs.key).Msg("Saved records to redis.")
	return nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
