package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/user/reelrec/internal/utils"
	"golang.org/x/time/rate"
)

// maxTrackedClients 同时跟踪的客户端 IP 数量上限
const maxTrackedClients = 10000

// RateLimiter 按客户端 IP 限流
type RateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter 每个 IP 每分钟最多 perMinute 次
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	c, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &RateLimiter{
		limiters: c,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow 该 IP 是否允许本次请求
func (r *RateLimiter) Allow(ip string) bool {
	limiter, ok := r.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		// 并发首次请求可能各自创建，保留先写入的那个
		if prev, loaded, _ := r.limiters.PeekOrAdd(ip, limiter); loaded {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Middleware 超出限制返回 429
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			utils.TooManyRequests(c, "")
			return
		}
		c.Next()
	}
}
