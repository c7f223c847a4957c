package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/audit"
	"github.com/openclaw/channel-router/internal/config"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/service"
)

const rateLimitWindow = 60 * time.Second

type LimitChecker interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) service.LimitResult
}

// RateLimitMiddleware applies each user's per-minute budget. Requests
// without an authenticated user pass through untouched.
type RateLimitMiddleware struct {
	limiter LimitChecker
}

func NewRateLimitMiddleware(limiter LimitChecker) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := user.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		result := m.limiter.CheckLimit(r.Context(), user.ID, limit, rateLimitWindow)
		remaining := result.Remaining
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			log.Warn().Str("userId", user.ID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				UserID:  user.ID,
				Details: map[string]interface{}{"limit": limit},
			})

			retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
