package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"botmaster/internal/tenant"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per folder. Limiters idle for longer than
// the TTL are dropped by a sweep that runs at most once per TTL.
type RateLimiter struct {
	limiters  sync.Map // folder key -> *cachedLimiter
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep atomic.Int64
}

type Option func(*RateLimiter)

// WithLimit sets the sustained rate and burst. A non-positive rate disables limiting.
func WithLimit(perSecond float64, burst int) Option {
	return func(rl *RateLimiter) {
		rl.limit = rate.Limit(perSecond)
		rl.burst = burst
	}
}

// WithTTL sets how long an idle folder's limiter is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) {
		rl.ttl = ttl
	}
}

func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	rl.lastSweep.Store(rl.now().UnixNano())
	return rl
}

// Middleware must run after Tenant.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := tenant.FromContext(r.Context())
			if !ok {
				reject(w, http.StatusBadRequest, HeaderFolderKey+" header is required")
				return
			}

			// limit=0 means unlimited
			if rl.limit > 0 && !rl.limiterFor(tc.FolderKey).Allow() {
				w.Header().Set("Retry-After", "1")
				reject(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt atomic.Int64 // unix nanos, pushed forward on every use
}

func (rl *RateLimiter) limiterFor(folderKey uuid.UUID) *rate.Limiter {
	now := rl.now()
	rl.maybeSweep(now)

	if v, ok := rl.limiters.Load(folderKey); ok {
		cached := v.(*cachedLimiter)
		if now.UnixNano() < cached.expiresAt.Load() {
			cached.expiresAt.Store(now.Add(rl.ttl).UnixNano())
			return cached.limiter
		}
	}

	fresh := &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	fresh.expiresAt.Store(now.Add(rl.ttl).UnixNano())
	rl.limiters.Store(folderKey, fresh)
	return fresh.limiter
}

func (rl *RateLimiter) maybeSweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(rl.ttl) || !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	rl.sweep(now)
}

// sweep drops every limiter that expired before now.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.limiters.Range(func(key, v any) bool {
		if cached := v.(*cachedLimiter); now.UnixNano() >= cached.expiresAt.Load() {
			rl.limiters.CompareAndDelete(key, v)
		}
		return true
	})
}
