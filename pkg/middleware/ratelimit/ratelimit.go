package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
	"github.com/noah-isme/turnos-api/pkg/response"
)

// KeyFunc extracts the bucket key for a request. Returning false skips limiting.
type KeyFunc func(*gin.Context) (string, bool)

// Limiter keeps one token bucket per key and forgets idle keys.
type Limiter struct {
	limit  rate.Limit
	burst  int
	maxAge time.Duration

	mu    sync.Mutex
	store map[string]*entry
	now   func() time.Time
}

type entry struct {
	limiter *rate.Limiter
	updated time.Time
}

// New builds a limiter allowing reqPerSec sustained requests with the given burst per key.
func New(reqPerSec float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit:  rate.Limit(reqPerSec),
		burst:  burst,
		maxAge: 10 * time.Minute,
		store:  make(map[string]*entry),
		now:    time.Now,
	}
}

// Allow consumes a token for key.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.store[key]; ok {
		e.updated = now
		return e.limiter
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.store[key] = &entry{limiter: lim, updated: now}

	for k, e := range l.store {
		if now.Sub(e.updated) > l.maxAge {
			delete(l.store, k)
		}
	}
	return lim
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := keyFn(c)
		if !ok || key == "" {
			c.Next()
			return
		}
		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ByIP keys requests by client address.
func ByIP(c *gin.Context) (string, bool) {
	return c.ClientIP(), true
}

// ByContextValue keys requests by a string value previously stored on the gin context,
// falling back to the client IP when it is absent.
func ByContextValue(key string) KeyFunc {
	return func(c *gin.Context) (string, bool) {
		if v, ok := c.Get(key); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		return ByIP(c)
	}
}
