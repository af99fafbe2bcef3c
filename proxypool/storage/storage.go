package storage

import (
	"context"
	"fmt"
	"strings"

	"socks5_inspector/internal/shared/types"
	"socks5_inspector/proxypool/model"
)

// RecordStore 是已验证节点的外部持久化存储，只支持整份文档的读取与替换。
// 合并去重逻辑不依赖于具体实现。
type RecordStore interface {
	Read(ctx context.Context) ([]model.Record, error)
	Write(ctx context.Context, records []model.Record) error
	Close() error
}

// New 根据 [store] 配置创建对应的后端。
func New(ctx context.Context, cfg types.StoreConf) (RecordStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStorage(cfg.Path), nil
	case "redis":
		rs, err := DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case "sqlite", "postgres":
		ss, err := OpenSQL(strings.ToLower(cfg.Backend), cfg.DSN)
		if err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
