package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stealth-assistant-go/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter guards the host-shell API against runaway callers. This is
// distinct from usage governance: it smooths request bursts, it does not
// meter quota.
type RateLimiter interface {
	Allow(caller string) bool
	Reset(caller string)
}

// CallerRateLimiter implements per-caller rate limiting
type CallerRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) RateLimiter {
	if !cfg.RateLimit.Enabled {
		return &CallerRateLimiter{enabled: false}
	}

	rl := &CallerRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RateLimit.RequestsPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a caller is allowed to make a request
func (r *CallerRateLimiter) Allow(caller string) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(caller)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithField("caller", caller).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a caller
func (r *CallerRateLimiter) Reset(caller string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, caller)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a caller
func (r *CallerRateLimiter) getLimiter(caller string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[caller]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[caller]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[caller] = limiter

	return limiter
}

// cleanup bounds the limiter map for long-running sessions
func (r *CallerRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[string]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
