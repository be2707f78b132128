package cache

import (
	"context"
	"time"
)

// Backend 缓存后端，值为已序列化的 JSON
type Backend interface {
	// Get 未命中返回 (nil, false, nil)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX key 已存在时不写入，返回是否写入
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer 创建后端连接
type Dialer func() (Backend, error)
