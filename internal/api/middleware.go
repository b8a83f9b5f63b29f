package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

const lastUsedTimeout = 5 * time.Second

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	clients storage.ClientStore
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(clients storage.ClientStore) *AuthMiddleware {
	return &AuthMiddleware{clients: clients}
}

// Authenticate verifies the API key of a request.
// Accepts "Authorization: Bearer <key>", a raw key in Authorization, or X-API-Key.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
			return
		}

		client, err := m.clients.GetClientByApiKey(r.Context(), apiKey)
		if err != nil {
			slog.Error("failed to lookup api client", "error", err, "key_prefix", models.MaskKey(apiKey))
			respondError(w, http.StatusInternalServerError, "internal_error", "authentication error")
			return
		}
		if client == nil {
			slog.Warn("invalid api key attempt", "key_prefix", models.MaskKey(apiKey), "remote_addr", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			return
		}
		if !client.IsActive {
			slog.Warn("inactive client attempt", "client", client.Name, "key_prefix", client.MaskedApiKey())
			respondError(w, http.StatusUnauthorized, "unauthorized", "api key has been deactivated")
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
			defer cancel()
			if err := m.clients.UpdateClientLastUsed(ctx, apiKey); err != nil {
				slog.Error("failed to update client last_used_at", "error", err, "client", client.Name)
			}
		}()

		slog.Debug("authenticated request", "client", client.Name, "key_prefix", client.MaskedApiKey())
		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
	})
}

// RequirePermission returns middleware that checks for specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !client.HasPermission(permission) {
				slog.Warn("permission denied", "client", client.Name, "required", permission, "has", client.Permissions)
				respondError(w, http.StatusForbidden, "forbidden", "missing permission: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
