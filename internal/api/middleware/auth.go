package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/dashtenant/internal/auth"
)

type contextKey string

const (
	PrincipalIDKey    contextKey = "principal_id"
	PrincipalEmailKey contextKey = "principal_email"
	DeviceIDKey       contextKey = "device_id"
)

// DeviceHeader identifies the device behind a request so each principal-device
// pair gets its own tenant session.
const DeviceHeader = "X-Device-ID"

func Auth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			// 1. Check Authorization header (API requests)
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			// 2. Check cookie (web dashboard)
			if token == "" {
				if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
					token = cookie.Value
				}
			}

			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			device := r.Header.Get(DeviceHeader)
			if device == "" {
				device = "default"
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, PrincipalIDKey, claims.PrincipalID)
			ctx = context.WithValue(ctx, PrincipalEmailKey, claims.Email)
			ctx = context.WithValue(ctx, DeviceIDKey, device)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helper functions to extract values from context
func GetPrincipalID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(PrincipalIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func GetPrincipalEmail(ctx context.Context) string {
	if email, ok := ctx.Value(PrincipalEmailKey).(string); ok {
		return email
	}
	return ""
}

func GetDeviceID(ctx context.Context) string {
	if device, ok := ctx.Value(DeviceIDKey).(string); ok {
		return device
	}
	return "default"
}
