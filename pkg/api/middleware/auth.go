package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// contextKey is a private type for context keys in this package.
type contextKey string

const (
	// APIKeyHeader is the header used to pass the API key.
	APIKeyHeader = "X-API-Key"

	// apiKeyContextKey stores the label of the authenticated key in request context.
	apiKeyContextKey contextKey = "api_key"
)

// APIKeyFromContext returns the label of the request's API key, if present.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(string)
	return key, ok
}

// APIKeyAuth returns a middleware that requires one of keys (key → label)
// in the X-API-Key header or as a bearer token. An empty key set lets
// every request through.
func APIKeyAuth(keys map[string]string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					key = strings.TrimSpace(token)
				}
			}

			if key == "" {
				logger.Debug("request missing API key",
					zap.String("path", r.URL.Path),
					zap.String("ip", clientIP(r)),
				)
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
				return
			}

			label, valid := validateAPIKey(keys, key)
			if !valid {
				logger.Warn("invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("ip", clientIP(r)),
				)
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, label)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateAPIKey checks the provided key against every configured key
// using constant-time comparison.
func validateAPIKey(keys map[string]string, provided string) (string, bool) {
	var (
		label string
		found bool
	)
	for key, l := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(provided)) == 1 {
			label, found = l, true
		}
	}
	return label, found
}
