package middleware

import (
	"context"
	"net/http"
	"strings"

	"pos/internal/auth"
	"pos/internal/logx"

	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "user_id"

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// Auth requires a bearer token and puts its user id, the rate actor, on the
// request context and on the request logger.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, msg := bearerToken(r)
			if msg != "" {
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseToken(secret, raw)
			if err != nil {
				logx.From(r.Context()).Debug("rejected token", zap.Error(err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			ctx = logx.WithContext(ctx, logx.From(ctx).With(zap.String("user_id", claims.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token, or the message to reject the request with.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "invalid authorization header"
	}
	return token, ""
}
