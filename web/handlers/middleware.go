package handlers

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/docmem/internal/config"
)

// RequireAuth is middleware that enforces bearer token authentication in
// production mode. In development mode, all requests are allowed through.
func RequireAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode == config.ModeDevelopment {
			next.ServeHTTP(w, r)
			return
		}

		expected := cfg.Security.APIToken
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if expected == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			respondCode(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// idleLimiterTTL is how long an unused per-tenant limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per tenant.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*tenantLimiter
	lastGC   time.Time
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter.
// reqPerSec is the sustained rate per tenant, burst is the maximum burst size.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(reqPerSec),
		burst:    burst,
		limiters: make(map[string]*tenantLimiter),
	}
}

// Allow reports whether one more request from key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastGC) > idleLimiterTTL {
		for k, tl := range rl.limiters {
			if now.Sub(tl.lastSeen) > idleLimiterTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}
	tl, ok := rl.limiters[key]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = tl
	}
	tl.lastSeen = now
	rl.mu.Unlock()

	return tl.limiter.AllowN(now, 1)
}

// rateKey identifies the caller: the tenant header when present, the
// remote host otherwise.
func rateKey(r *http.Request) string {
	if tenant := r.Header.Get(HeaderTenantID); tenant != "" {
		return "tenant:" + tenant
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// RateLimitMiddleware enforces rate limiting on HTTP requests.
func RateLimitMiddleware(next http.Handler, rl *RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rateKey(r)) {
			w.Header().Set("Retry-After", "1")
			respondCode(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
