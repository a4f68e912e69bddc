package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts limiters for clients not seen for this long. Zero keeps them forever.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds one token bucket per client key.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	config    RateLimitConfig
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*clientLimiter),
		config:    cfg,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.IdleTTL > 0 && now.Sub(s.lastSweep) > s.config.IdleTTL {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > s.config.IdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit limits requests per client. The key is the authenticated subject
// when auth ran first, else the client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if sub, ok := c.Get("user_id").(string); ok && sub != "" {
				key = "sub:" + sub
			}

			now := time.Now()
			r := store.get(key, now).ReserveN(now, 1)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			if !r.OK() {
				h.Set("Retry-After", "1")
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
