package middleware

import (
	"net/http"
	"sync"
	"time"

	"askhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// WriteLimiter 按客户端 IP 限制写请求（POST / PUT / DELETE）的速率。
//
// GET 与 HEAD 不受限制。长时间未出现的 IP 会被定期清理。
type WriteLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewWriteLimiter 创建限流器。perSecond <= 0 时不限流。
func NewWriteLimiter(perSecond float64, burst int) *WriteLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &WriteLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 判断 ip 的本次写请求是否放行。
func (l *WriteLimiter) Allow(ip string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now
	l.sweep(now)
	return v.limiter.AllowN(now, 1)
}

func (l *WriteLimiter) sweep(now time.Time) {
	if len(l.limiters) < 1024 {
		return
	}
	for ip, v := range l.limiters {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.limiters, ip)
		}
	}
}

// Middleware 超限时返回 429。
func (l *WriteLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !l.Allow(c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			if IsAPI(c) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
				return
			}
			AbortStatus(c, http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
