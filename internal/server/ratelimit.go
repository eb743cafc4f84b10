package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	todohandlers "github.com/Paul-frank/bluegreen-todo-api/internal/handlers"
)

// RateLimitResponse is the body of a 429.
type RateLimitResponse struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	RetryAfter time.Time `json:"retryAfter"`
}

// RateLimiter counts requests per client IP in fixed windows.
type RateLimiter struct {
	limiter *limiter.Limiter
	logger  *log.Logger
	exempt  map[string]bool
	now     func() time.Time
}

// NewRateLimiter allows limit requests per window per client IP. Requests to
// the exempt paths are never counted.
func NewRateLimiter(window time.Duration, limit int64, logger *log.Logger, exempt ...string) *RateLimiter {
	rl := &RateLimiter{
		limiter: limiter.New(memory.NewStore(), limiter.Rate{Period: window, Limit: limit}),
		logger:  logger,
		exempt:  make(map[string]bool, len(exempt)),
		now:     time.Now,
	}
	for _, p := range exempt {
		rl.exempt[p] = true
	}
	return rl
}

// Middleware enforces the limit. A limiter failure lets the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.limiter.GetIPKey(r)
		lctx, err := rl.limiter.Get(r.Context(), key)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable", "key", key, "err", err)
			next.ServeHTTP(w, r)
			return
		}

		reset := time.Unix(lctx.Reset, 0).UTC()
		resetIn := strconv.FormatInt(secondsUntil(rl.now(), reset), 10)

		h := w.Header()
		h.Set("RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		h.Set("RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		h.Set("RateLimit-Reset", resetIn)

		if lctx.Reached {
			h.Set("Retry-After", resetIn)
			todohandlers.WriteJSON(w, http.StatusTooManyRequests, RateLimitResponse{
				Success:    false,
				Error:      "Too many requests",
				Message:    "Too many requests from this IP, please try again later.",
				RetryAfter: reset,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secondsUntil rounds up and never goes below zero.
func secondsUntil(now, t time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
