package auth

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Lockout defaults for repeated login or token failures.
const (
	DefaultMaxFailedAttempts = 5
	DefaultRateLimitWindow   = 15 * time.Minute
	DefaultCleanupInterval   = 5 * time.Minute
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Window:            DefaultRateLimitWindow,
		CleanupInterval:   DefaultCleanupInterval,
	}
}

// failures is the failure window of one client.
type failures struct {
	count int
	since time.Time
}

func (f *failures) expired(now time.Time, window time.Duration) bool {
	return now.Sub(f.since) > window
}

// RateLimiter locks out clients after too many failed authentications
// within a window. A lockout ends when the window that started with the
// first failure closes.
type RateLimiter struct {
	mu       sync.RWMutex
	clients  map[string]*failures
	config   RateLimiterConfig
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its cleanup loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	rl := &RateLimiter{
		clients: make(map[string]*failures),
		config:  config,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.removeExpired()
		}
	}
}

func (rl *RateLimiter) removeExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, f := range rl.clients {
		if f.expired(now, rl.config.Window) {
			delete(rl.clients, ip)
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// IsLimited reports whether ip is locked out.
func (rl *RateLimiter) IsLimited(ip string) bool {
	return rl.RetryAfter(ip) > 0
}

// RetryAfter returns how long ip stays locked out, or zero.
func (rl *RateLimiter) RetryAfter(ip string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	f, ok := rl.clients[ip]
	if !ok || f.count < rl.config.MaxFailedAttempts {
		return 0
	}
	now := rl.now()
	if f.expired(now, rl.config.Window) {
		return 0
	}
	return f.since.Add(rl.config.Window).Sub(now)
}

// RecordFailure counts a failed attempt for ip.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	f, ok := rl.clients[ip]
	if !ok || f.expired(now, rl.config.Window) {
		rl.clients[ip] = &failures{count: 1, since: now}
		return
	}
	f.count++
}

// Reset forgets the failures of ip, after a successful login.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, ip)
}

// SetRetryAfter sets the Retry-After header for a locked out ip, rounded up
// to whole seconds.
func (rl *RateLimiter) SetRetryAfter(w http.ResponseWriter, ip string) {
	wait := rl.RetryAfter(ip)
	if wait <= 0 {
		return
	}
	secs := int((wait + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// GetClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// the host part of RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
