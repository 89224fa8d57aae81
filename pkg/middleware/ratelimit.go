package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the settings used for the public credential endpoints
// (login, forgot password, reset password)
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}
}

// Limiter decides whether one more request for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() *RateLimitConfig
}

// RateLimiter implements in-process rate limiting with a token bucket per key
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Allow checks if a request is allowed for the given key. It never fails.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastUpdate)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of whole tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		return int(rl.capacity())
	}
	return int(b.tokens)
}

// Cleanup removes buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// FallbackLimiter answers from Fallback whenever Primary errors
type FallbackLimiter struct {
	Primary  Limiter
	Fallback Limiter
}

// Allow implements Limiter
func (l FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := l.Primary.Allow(ctx, key)
	if err == nil {
		return allowed, nil
	}
	observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, using fallback")
	return l.Fallback.Allow(ctx, key)
}

// Config implements Limiter
func (l FallbackLimiter) Config() *RateLimitConfig {
	return l.Primary.Config()
}

// RateLimitMiddleware limits requests per client IP. The address comes from
// httputil.ClientIP, so forwarding headers count only from trusted proxies.
type RateLimitMiddleware struct {
	name     string
	limiter  Limiter
	fallback Limiter
	counter  *prometheus.CounterVec
}

// RateLimitOption configures a RateLimitMiddleware
type RateLimitOption func(*RateLimitMiddleware)

// WithFallback is consulted when the primary limiter errors (e.g. Redis is down)
func WithFallback(limiter Limiter) RateLimitOption {
	return func(m *RateLimitMiddleware) {
		m.fallback = limiter
	}
}

// WithRateLimitedCounter counts rejected requests labeled by limiter name
func WithRateLimitedCounter(counter *prometheus.CounterVec) RateLimitOption {
	return func(m *RateLimitMiddleware) {
		m.counter = counter
	}
}

// NewRateLimitMiddleware creates a rate limit middleware. name scopes the keys
// so separate endpoints keep separate budgets.
func NewRateLimitMiddleware(name string, limiter Limiter, opts ...RateLimitOption) *RateLimitMiddleware {
	m := &RateLimitMiddleware{name: name, limiter: limiter}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.name + ":" + httputil.ClientIP(r)
		limiter := m.limiter

		allowed, err := limiter.Allow(r.Context(), key)
		if err != nil {
			observability.FromContext(r.Context()).
				WithError(err).
				WithField("limiter", m.name).
				Warn("rate limiter unavailable")
			if m.fallback == nil {
				// Fail open
				next.ServeHTTP(w, r)
				return
			}
			limiter = m.fallback
			allowed, _ = limiter.Allow(r.Context(), key)
		}

		cfg := limiter.Config()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))

		if !allowed {
			if m.counter != nil {
				m.counter.WithLabelValues(m.name).Inc()
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
			httputil.WriteTooManyRequests(w, "Too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}
