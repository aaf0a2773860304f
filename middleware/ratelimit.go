package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter stores rate limiters for each IP
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	requests int
	window   time.Duration
	exempt   []string
	trusted  map[string]bool
}

// NewRateLimiter creates a new rate limiter. Paths with an exempt prefix
// bypass limiting.
func NewRateLimiter(requests int, window time.Duration, exempt ...string) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		requests: requests,
		window:   window,
		exempt:   exempt,
		trusted:  make(map[string]bool),
	}
}

// TrustProxies lists the peer addresses allowed to set X-Forwarded-For.
// Call it before serving.
func (rl *RateLimiter) TrustProxies(addrs ...string) {
	for _, addr := range addrs {
		rl.trusted[addr] = true
	}
}

// GetLimiter returns a rate limiter for the given IP
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		// Calculate rate: requests per second
		ratePerSecond := float64(rl.requests) / rl.window.Seconds()
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), rl.requests)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	return v.limiter
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range rl.exempt {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			limiter := rl.GetLimiter(rl.clientIP(r))
			if !limiter.Allow() {
				writeError(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the peer address, unless the peer is a trusted proxy. Then it
// is the nearest X-Forwarded-For hop that is not itself trusted.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !rl.trusted[peer] {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !rl.trusted[hop] {
			return hop
		}
	}
	return peer
}

// Cleanup removes limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxIdle)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// RunCleanup prunes idle limiters every hour until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Cleanup(time.Hour)
		}
	}
}
