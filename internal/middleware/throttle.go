package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig configures the per-IP throttle on credential endpoints.
type ThrottleConfig struct {
	Rate            rate.Limit // tokens per second
	Burst           int
	CleanupInterval time.Duration // idle limiters are dropped after twice this
}

// DefaultThrottleConfig allows 20 attempts per minute per IP, burst 10.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Rate:            rate.Limit(20.0 / 60.0),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttle limits requests per client IP with a token bucket. It guards
// register, login and Google sign-in against credential stuffing and is
// unrelated to the review quota.
type Throttle struct {
	config ThrottleConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewThrottle creates a Throttle and starts its cleanup goroutine. Call Stop
// to end it.
func NewThrottle(config ThrottleConfig) *Throttle {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultThrottleConfig().CleanupInterval
	}
	t := &Throttle{
		config:   config,
		now:      time.Now,
		limiters: make(map[string]*ipLimiter),
		stopCh:   make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Middleware rejects a client IP with 429 once its bucket is empty.
func (t *Throttle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !t.limiter(ip).AllowN(t.now(), 1) {
				slog.Warn("auth throttle exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				writeThrottled(w, t.config.Rate)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Len returns the number of tracked IPs.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

func (t *Throttle) limiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(t.config.Rate, t.config.Burst)}
		t.limiters[ip] = l
	}
	l.lastAccess = t.now()
	return l.limiter
}

func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than twice the cleanup interval.
func (t *Throttle) cleanup() {
	ttl := 2 * t.config.CleanupInterval
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, l := range t.limiters {
		if now.Sub(l.lastAccess) > ttl {
			delete(t.limiters, ip)
		}
	}
}

// clientIP expects chi's RealIP to have run, so RemoteAddr is usually a bare
// IP; the port is stripped otherwise.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeThrottled writes 429 with Retry-After set to the time one token takes
// to refill.
func writeThrottled(w http.ResponseWriter, r rate.Limit) {
	retryAfter := 1
	if r > 0 {
		retryAfter = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "too_many_requests",
		"message": "Too many attempts. Please try again later.",
	})
}
