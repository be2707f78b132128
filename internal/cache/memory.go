package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend 进程内缓存，用于单机部署和测试
type MemoryBackend struct {
	c *gocache.Cache
}

// NewMemoryBackend 创建进程内缓存
func NewMemoryBackend() *MemoryBackend {
	// 默认不过期，过期时间由调用方指定；清理间隔10分钟
	return &MemoryBackend{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

// MemoryDialer 每次 Connect 返回同一个实例
func MemoryDialer(m *MemoryBackend) Dialer {
	return func() (Backend, error) { return m, nil }
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, expiration(ttl))
	return nil
}

func (m *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.c.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close 进程内缓存无需关闭连接，保留数据以便重连
func (m *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
