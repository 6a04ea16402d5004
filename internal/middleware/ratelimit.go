package middleware

import (
	"net"
	"net/http"
	"strconv"

	"pos/internal/logx"

	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// NewLimiter builds an in-process limiter from a formatted rate such as
// "30-M" (30 requests per minute).
func NewLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return limiter.New(memorystore.NewStore(), rate), nil
}

// RateLimit throttles per authenticated user, falling back to the client IP
// for anonymous requests.
func RateLimit(limiterInstance *limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := UserIDFromContext(r.Context())
			if !ok {
				key = clientIP(r)
			}
			lctx, err := limiterInstance.Get(r.Context(), key)
			if err != nil {
				logx.From(r.Context()).Error("rate limit lookup failed", zap.String("key", key), zap.Error(err))
				http.Error(w, "rate limit unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
			if lctx.Reached {
				logx.From(r.Context()).Warn("rate limit exceeded", zap.String("key", key), zap.Int64("limit", lctx.Limit))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
