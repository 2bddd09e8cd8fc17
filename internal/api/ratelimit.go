package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/earthring/zoneselect/internal/auth"
	"github.com/rs/zerolog/log"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const (
	rateLimitExceededJSON = `{"error":"Rate limit exceeded","message":"Too many requests. Please try again later.","retry_after":%d}`

	defaultRate = "600-M"
)

// ParseRate parses a limiter rate such as "600-M". An empty string yields
// the default rate.
func ParseRate(formatted string) (limiter.Rate, error) {
	if formatted == "" {
		formatted = defaultRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return limiter.Rate{}, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}
	return rate, nil
}

func newLimiter(rate limiter.Rate) *limiter.Limiter {
	return limiter.New(memory.NewStore(), rate)
}

// RateLimitMiddleware limits requests per client IP.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	instance := newLimiter(limiter.Rate{Period: window, Limit: int64(limit)})
	return rateLimit(instance, getClientIP)
}

// UserRateLimitMiddleware limits requests per authenticated user, falling
// back to the client IP for anonymous requests.
func UserRateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	instance := newLimiter(limiter.Rate{Period: window, Limit: int64(limit)})
	return rateLimit(instance, func(r *http.Request) string {
		if userID, ok := auth.GetUserID(r); ok {
			return userKey(userID)
		}
		return getClientIP(r)
	})
}

func rateLimit(instance *limiter.Limiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lctx, err := instance.Get(r.Context(), keyFn(r))
			if err != nil {
				// Fail open.
				log.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter error")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

			if lctx.Reached {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				if _, err := fmt.Fprintf(w, rateLimitExceededJSON, retryAfter(lctx)); err != nil {
					log.Ctx(r.Context()).Debug().Err(err).Msg("failed to write rate limit response")
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// messageLimiter throttles websocket messages per user. All sessions of a
// user share one budget.
type messageLimiter struct {
	instance *limiter.Limiter
}

func newMessageLimiter(rate limiter.Rate) *messageLimiter {
	return &messageLimiter{instance: newLimiter(rate)}
}

// allow reports whether userID may send another message and, if not, how
// many seconds remain until the window resets.
func (m *messageLimiter) allow(ctx context.Context, userID int64) (bool, int) {
	lctx, err := m.instance.Get(ctx, userKey(userID))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("message rate limiter error")
		return true, 0
	}
	if lctx.Reached {
		return false, retryAfter(lctx)
	}
	return true, 0
}

func retryAfter(lctx limiter.Context) int {
	seconds := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// getClientIP extracts the client IP address from the request, honouring
// proxy headers.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	// Strip the port ("127.0.0.1:12345" -> "127.0.0.1").
	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		return ip[:i]
	}
	return ip
}
