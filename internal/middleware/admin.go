package middleware

import (
	"context"
	"net/http"
	"slices"

	"pos/internal/logx"
	"pos/internal/store"

	"go.uber.org/zap"
)

type AdminStore interface {
	Lookup(ctx context.Context, userID string) (store.Admin, bool, error)
}

// RequireAdmin lets through super admins and admins holding role. An empty
// role accepts any admin; SuperOnly accepts super admins only.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return requireAdmin(adminStore, role, false)
}

func SuperOnly(adminStore AdminStore) func(http.Handler) http.Handler {
	return requireAdmin(adminStore, "", true)
}

func requireAdmin(adminStore AdminStore, role string, superOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			admin, isAdmin, err := adminStore.Lookup(r.Context(), userID)
			if err != nil {
				logx.From(r.Context()).Error("admin lookup failed", zap.String("user_id", userID), zap.Error(err))
				http.Error(w, "unable to verify admin", http.StatusInternalServerError)
				return
			}
			if !isAdmin {
				http.Error(w, "admin privileges required", http.StatusForbidden)
				return
			}
			switch {
			case admin.IsSuper:
			case superOnly:
				http.Error(w, "super admin privileges required", http.StatusForbidden)
				return
			case role != "" && !slices.Contains(admin.Roles, role):
				http.Error(w, "missing required role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
