package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/segyhp/loan-engine/pkg/response"
)

const (
	HeaderAdminID        = "X-Admin-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type contextKey string

const adminKey contextKey = "admin-id"

// RequireAdmin takes the acting admin set by the upstream authenticating proxy
// and rejects requests without one
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin := strings.TrimSpace(r.Header.Get(HeaderAdminID))
		if admin == "" {
			response.Unauthorized(w, "missing "+HeaderAdminID)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
	})
}

func WithAdmin(ctx context.Context, admin string) context.Context {
	return context.WithValue(ctx, adminKey, admin)
}

// AdminFrom returns the acting admin stored by RequireAdmin
func AdminFrom(ctx context.Context) string {
	admin, _ := ctx.Value(adminKey).(string)
	return admin
}

// IdempotencyKey returns the request id sent by the client, if any
func IdempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}
