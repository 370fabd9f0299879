// Package ratelimit throttles registration submissions per operator.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"phonegate/pkg/platform/httputil"
	"phonegate/pkg/requestcontext"
)

const registerKeyPrefix = "pg:reg:"

// Limiter is a fixed-window counter in Redis, keyed by operator. Redis
// unavailability fails open: throttling is protection, not correctness.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *slog.Logger
}

func New(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, limit: limit, window: window, logger: logger}
}

// Allow reports whether the operator may submit another registration in the
// current window.
func (l *Limiter) Allow(ctx context.Context, operatorID string) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	key := fmt.Sprintf("%s%s:%d", registerKeyPrefix, operatorID, time.Now().Unix()/int64(l.window.Seconds()))

	pipe := l.client.Pipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	return count.Val() <= int64(l.limit), nil
}

// Middleware rejects requests over the per-operator budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := requestcontext.Principal(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := l.Allow(r.Context(), principal.ID.String())
		if err != nil {
			// Fail open, but leave a trace.
			l.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		}
		if !allowed {
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limited",
				"error_description": "registration rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
