package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/models"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters is a per-identity token bucket table.
type limiters struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func newLimiters(cfg config.RateLimitConfig) *limiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &limiters{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
	}
}

func (l *limiters) get(identity string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[identity] = e
	}
	e.lastSeen = now
	return e.limiter
}

// evict drops identities not seen since cutoff.
func (l *limiters) evict(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}

func (l *limiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimit returns per-identity (API key or client IP) token-bucket rate
// limiting middleware. Identities idle for an hour are evicted every five
// minutes until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	table := newLimiters(cfg)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				table.evict(now.Add(-time.Hour))
			}
		}
	}()

	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key, ok := c.Get(IdentityKey); ok {
			identity = key.(string)
		}

		limiter := table.get(identity, time.Now())
		if !limiter.Allow() {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limiter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ProcessResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}

// retryAfterSeconds estimates when the next token will be available.
func retryAfterSeconds(l *rate.Limiter) int {
	if l.Limit() <= 0 {
		return 1
	}
	secs := int(math.Ceil(1 / float64(l.Limit())))
	if secs < 1 {
		return 1
	}
	return secs
}
