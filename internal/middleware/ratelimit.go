package middleware

import (
	"net/http"
	"sync"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 的令牌桶限流
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRateLimiter 按 security.rate_limiting 创建限流器
func NewRateLimiter(rl config.RateLimitingConfig, m *metrics.Metrics) *RateLimiter {
	rpm := rl.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = rpm
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
		idle:     10 * time.Minute,
		metrics:  m,
		now:      time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Sweep 清理长时间未访问的客户端
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for k, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, k)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !rl.get(key).Allow() {
			rl.metrics.IncRateLimitDrop("")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
