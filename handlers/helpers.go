package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dutydesk/middleware"
	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps sentinel errors to status codes. The message of
// validation errors is passed through since it tells the caller what to
// fix; anything unexpected is logged and reported as a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, strings.TrimSuffix(err.Error(), ": "+models.ErrValidation.Error()), http.StatusBadRequest)
	case errors.Is(err, models.ErrUnauthenticated):
		writeError(w, "Authentication required", http.StatusUnauthorized)
	case errors.Is(err, models.ErrUnavailable):
		writeError(w, "Identity provider unavailable", http.StatusBadGateway)
	case errors.Is(err, models.ErrForbidden):
		writeError(w, "Insufficient permissions", http.StatusForbidden)
	case errors.Is(err, models.ErrNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrConflict):
		writeError(w, "Already handled", http.StatusConflict)
	default:
		jww.ERROR.Printf("❌ req_id=%s %s %s: %v", middleware.RequestIDFromContext(r.Context()), r.Method, r.URL.Path, err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// requireIdentity fetches the identity injected by AuthMiddleware.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, "Authentication required", http.StatusUnauthorized)
		return nil, false
	}
	return identity, true
}
