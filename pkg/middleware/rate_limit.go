package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/fairground/go-services/pkg/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// memoryLimiter keeps one token bucket per client key.
type memoryLimiter struct {
	rps   float64
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newMemoryLimiter(rps float64, burst int) *memoryLimiter {
	return &memoryLimiter{rps: rps, burst: burst, now: time.Now, buckets: map[string]*rate.Limiter{}}
}

func (m *memoryLimiter) allow(key string) bool {
	m.mu.Lock()
	lim, ok := m.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.rps), m.burst)
		m.buckets[key] = lim
	}
	m.mu.Unlock()
	return lim.AllowN(m.now(), 1)
}

func (m *memoryLimiter) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.allow(clientKey(c)) {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}

// RateLimitMiddleware returns a Gin middleware enforcing a token-bucket limit
// per client (claims subject when authenticated, otherwise client IP).
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	return newMemoryLimiter(rps, burst).handler()
}
