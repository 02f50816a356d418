package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/staffhub/service/internal/response"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterMaxEntries = 10000
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per authenticated user.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewUserRateLimiter allows perMinute requests per user with the given burst.
// A non-positive perMinute disables limiting.
func NewUserRateLimiter(perMinute, burst int) *UserRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &UserRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Middleware rejects requests over the user's budget with 429. It must run
// after RequireAuth.
func (l *UserRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok || l.limit == rate.Inf {
			next.ServeHTTP(w, r)
			return
		}

		if delay := l.wait(userID); delay > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			response.ErrorWithCode(w, http.StatusTooManyRequests, response.CodeRateLimited, "too many uploads, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wait takes a token for userID and returns zero, or returns how long the
// caller would have to wait without consuming a token.
func (l *UserRateLimiter) wait(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.limiters) >= limiterMaxEntries {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, id)
			}
		}
	}

	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now

	res := e.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}
