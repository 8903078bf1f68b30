package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit configures one named bucket of the RateLimiter: how many
// requests per second a single caller may make, and how large a burst
// they may spend at once.
type RateLimit struct {
	RatePerSecond float64
	Burst         int
}

// RateLimiter throttles callers per named route group, keyed further by
// caller identity, mirroring the teacher's gateway/middleware/ratelimit.go.
// Unlike the gateway's proxy, httpapi talks to the Coordinator directly, so
// there is no upstream to shed load for: the limiter instead protects the
// Coordinator's own store/ledger transactions from being starved by a
// single noisy caller.
type RateLimiter struct {
	limits map[string]RateLimit

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from a set of named limits, e.g.
// {"mutate": {RatePerSecond: 5, Burst: 10}, "query": {RatePerSecond: 50, Burst: 100}}.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{limits: limits, visitors: make(map[string]*rate.Limiter)}
}

// Middleware returns a chi-compatible middleware enforcing the named
// bucket's limit against each caller identified by identifyCaller. A key
// absent from the limiter's configured limits disables throttling for
// that route group entirely.
func (rl *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := rl.limits[key]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			limiter := rl.obtain(key+"|"+identifyCaller(r), limit)
			if !limiter.Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) obtain(bucketKey string, limit RateLimit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.visitors[bucketKey]; ok {
		return l
	}
	perSecond := limit.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(perSecond), burst)
	rl.visitors[bucketKey] = l
	return l
}

func identifyCaller(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get("X-API-Key")); apiKey != "" {
		return "api-key:" + apiKey
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			ip = strings.TrimSpace(ip[:comma])
		}
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
