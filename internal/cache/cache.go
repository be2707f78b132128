// Package cache 两级缓存的远程层：JSON 序列化、超时控制、读路径熔断
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/metrics"
)

var (
	// ErrNotConnected Connect 之前调用任何操作
	ErrNotConnected = errors.New("cache: 未连接，请先调用 Connect()")
	// ErrUnavailable 后端错误或熔断打开
	ErrUnavailable = errors.New("cache: 后端不可用")
)

// OpError 缓存操作失败
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is 所有 OpError 都视为 ErrUnavailable
func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

// PrewarmFunc 连接成功后执行的预热逻辑
type PrewarmFunc func(ctx context.Context, l *Layer) error

// Options 缓存层参数
type Options struct {
	Timeout time.Duration
	Prewarm PrewarmFunc
	// 连续失败多少次后熔断，默认5
	BreakerFailures uint32
	// 熔断后多久进入半开，默认30秒
	BreakerCooldown time.Duration
}

// Layer 远程缓存层
type Layer struct {
	dial Dialer
	opts Options
	log  zerolog.Logger

	mu      sync.RWMutex
	backend Backend
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New 创建缓存层，需调用 Connect 后才能使用
func New(dial Dialer, opts Options) *Layer {
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	return &Layer{dial: dial, opts: opts, log: logging.Component("cache")}
}

// SetPrewarm 设置预热逻辑，需在 Connect 之前调用
func (l *Layer) SetPrewarm(fn PrewarmFunc) {
	l.mu.Lock()
	l.opts.Prewarm = fn
	l.mu.Unlock()
}

// Connect 建立连接并预热；连接失败直接返回错误
func (l *Layer) Connect(ctx context.Context) error {
	backend, err := l.dial()
	if err != nil {
		return fmt.Errorf("cache: 连接失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		_ = backend.Close()
		return fmt.Errorf("cache: 连接失败: %w", err)
	}

	l.mu.Lock()
	l.backend = backend
	l.breaker = l.newBreaker()
	prewarm := l.opts.Prewarm
	l.mu.Unlock()

	l.log.Info().Msg("缓存已连接")

	if prewarm != nil {
		if err := prewarm(ctx, l); err != nil {
			l.log.Warn().Err(err).Msg("缓存预热失败")
		}
	}
	return nil
}

func (l *Layer) newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	failures := l.opts.BreakerFailures
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cache-read",
		MaxRequests: 1,
		Timeout:     l.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 调用方主动取消不算后端故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("熔断器状态变化")
		},
	})
}

// Disconnect 关闭连接，之后的操作返回 ErrNotConnected
func (l *Layer) Disconnect() error {
	l.mu.Lock()
	backend := l.backend
	l.backend = nil
	l.breaker = nil
	l.mu.Unlock()

	if backend == nil {
		return nil
	}
	return backend.Close()
}

// Connected 是否已连接
func (l *Layer) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backend != nil
}

func (l *Layer) current() (Backend, *gobreaker.CircuitBreaker[[]byte], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.backend == nil {
		return nil, nil, ErrNotConnected
	}
	return l.backend, l.breaker, nil
}

// Get 读取并反序列化到 dest，返回是否命中
func (l *Layer) Get(ctx context.Context, key string, dest any) (bool, error) {
	backend, breaker, err := l.current()
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	data, err := breaker.Execute(func() ([]byte, error) {
		b, ok, err := backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return b, nil
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		return false, &OpError{Op: "get", Key: key, Err: err}
	}
	if data == nil {
		metrics.CacheMisses.WithLabelValues(metrics.Keyspace(key)).Inc()
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// 反序列化失败按未命中处理，并删除损坏的数据
		l.log.Warn().Err(err).Str("key", key).Msg("缓存数据损坏")
		_ = backend.Delete(ctx, key)
		metrics.CacheMisses.WithLabelValues(metrics.Keyspace(key)).Inc()
		return false, nil
	}
	metrics.CacheHits.WithLabelValues(metrics.Keyspace(key)).Inc()
	return true, nil
}

// Set 无条件写入，ttl<=0 表示不过期
func (l *Layer) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	backend, _, err := l.current()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	if err := backend.Set(ctx, key, data, ttl); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		return &OpError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// SetIfAbsent key 不存在时写入，返回是否写入
func (l *Layer) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	backend, _, err := l.current()
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache setnx %q: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	ok, err := backend.SetNX(ctx, key, data, ttl)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("setnx").Inc()
		return false, &OpError{Op: "setnx", Key: key, Err: err}
	}
	return ok, nil
}

// Delete 删除若干 key
func (l *Layer) Delete(ctx context.Context, keys ...string) error {
	backend, _, err := l.current()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	if err := backend.Delete(ctx, keys...); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		key := ""
		if len(keys) > 0 {
			key = keys[0]
		}
		return &OpError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// DeletePrefix 删除指定前缀的所有 key
func (l *Layer) DeletePrefix(ctx context.Context, prefix string) error {
	backend, _, err := l.current()
	if err != nil {
		return err
	}
	// 扫描可能较慢，给 4 倍超时
	ctx, cancel := context.WithTimeout(ctx, 4*l.opts.Timeout)
	defer cancel()
	if err := backend.DeletePrefix(ctx, prefix); err != nil {
		metrics.CacheErrors.WithLabelValues("delete_prefix").Inc()
		return &OpError{Op: "delete_prefix", Key: prefix, Err: err}
	}
	return nil
}
