package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"dutydesk/auth"
	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

type contextKey string

const (
	IdentityContextKey contextKey = "identity"
	ClaimsContextKey   contextKey = "claims"
)

// CapabilityFetcher reads live capabilities from the identity provider.
type CapabilityFetcher interface {
	Capabilities(ctx context.Context, userID string) (models.Capabilities, error)
}

// Sessions validates the session cookie issued at login.
type Sessions struct {
	JWT         *auth.JWTManager
	Revocations *auth.Revocations
	CookieName  string
}

// Claims returns the valid, unrevoked session claims carried by r.
func (s *Sessions) Claims(r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie(s.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, models.ErrUnauthenticated
	}
	claims, err := s.JWT.ValidateToken(cookie.Value)
	if err != nil {
		return nil, models.ErrUnauthenticated
	}
	if s.Revocations != nil && s.Revocations.IsRevoked(claims.ID) {
		return nil, models.ErrUnauthenticated
	}
	return claims, nil
}

// AuthMiddleware validates the session cookie and injects the identity into context
func AuthMiddleware(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessions.Claims(r)
			if err != nil {
				writeError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, IdentityContextKey, claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext retrieves the identity from the request context
func GetIdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(*models.Identity)
	return identity, ok
}

// GetClaimsFromContext retrieves the session claims from the request context
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// RequireLiveEditor re-checks editor status against the identity provider
// instead of trusting the session, so a revoked role takes effect without
// a new login.
func RequireLiveEditor(fetcher CapabilityFetcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentityFromContext(r.Context())
			if !ok {
				writeError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			caps, err := fetcher.Capabilities(r.Context(), identity.UserID)
			if err != nil {
				jww.WARN.Printf("⚠️  Live role check failed for %s: %v", identity.Tag, err)
				if errors.Is(err, models.ErrUnauthenticated) {
					writeError(w, "Authentication required", http.StatusUnauthorized)
				} else {
					writeError(w, "Identity provider unavailable", http.StatusBadGateway)
				}
				return
			}
			if !caps.IsEditor {
				jww.WARN.Printf("⚠️  %s attempted an editor action without the editor role", identity.Tag)
				writeError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			fresh := *identity
			fresh.Capabilities = caps
			ctx := context.WithValue(r.Context(), IdentityContextKey, &fresh)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
