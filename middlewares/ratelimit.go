package middlewares

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// IPRateLimiter 每个客户端 IP 一个令牌桶, 空闲的桶惰性清理
type IPRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*ipLimiter
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		clients: make(map[string]*ipLimiter),
		rps:     rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for key, c := range l.clients {
			if now.Sub(c.last) > limiterIdleTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.last = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// RateLimitMiddleware 按客户端 IP 限流, 超出返回 429
func RateLimitMiddleware(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
