package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"dutydesk/auth"
	"dutydesk/db"
	"dutydesk/identity"
	"dutydesk/live"
	"dutydesk/middleware"
	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

const stateCookie = "dutydesk_oauth_state"

// CookieOptions controls the session cookie attributes.
type CookieOptions struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	resolver    *identity.Resolver
	db          db.Store
	sessions    *middleware.Sessions
	coordinator *live.Coordinator
	cookie      CookieOptions
	frontendURL string
}

func NewAuthHandler(resolver *identity.Resolver, store db.Store, sessions *middleware.Sessions, coordinator *live.Coordinator, cookie CookieOptions, frontendURL string) *AuthHandler {
	return &AuthHandler{
		resolver:    resolver,
		db:          store,
		sessions:    sessions,
		coordinator: coordinator,
		cookie:      cookie,
		frontendURL: frontendURL,
	}
}

// SessionSummary describes the caller's authentication state.
type SessionSummary struct {
	Authenticated bool   `json:"authenticated"`
	ID            string `json:"id,omitempty"`
	Tag           string `json:"tag,omitempty"`
	models.Capabilities
}

func summarize(identity *models.Identity) SessionSummary {
	return SessionSummary{
		Authenticated: true,
		ID:            identity.UserID,
		Tag:           identity.Tag,
		Capabilities:  identity.Capabilities,
	}
}

// Login redirects to the identity provider's authorize endpoint.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := db.RandomHex(16)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.resolver.Provider().AuthCodeURL(state), http.StatusFound)
}

// Callback completes the OAuth flow, resolves capabilities, allocates a
// tester code on first tester login and establishes the session.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		jww.WARN.Printf("⚠️  Login aborted by provider: %s", providerErr)
		h.redirectFrontend(w, r, "login_failed")
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != query.Get("state") {
		writeError(w, "Login failed", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})

	code := query.Get("code")
	if code == "" {
		writeError(w, "Login failed", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	token, err := h.resolver.Provider().Exchange(ctx, code)
	if err != nil {
		jww.WARN.Printf("⚠️  Token exchange failed: %v", err)
		writeError(w, "Login failed", http.StatusUnauthorized)
		return
	}

	user, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		jww.WARN.Printf("⚠️  Identity resolution failed: %v", err)
		writeError(w, "Login failed", http.StatusUnauthorized)
		return
	}

	if err := h.ensureTesterCode(ctx, user); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.issueSession(w, user); err != nil {
		writeDomainError(w, r, err)
		return
	}

	jww.INFO.Printf("✅ User logged in: %s (%s)", user.Tag, user.UserID)
	h.redirectFrontend(w, r, "")
}

func (h *AuthHandler) ensureTesterCode(ctx context.Context, user *models.Identity) error {
	if !user.Capabilities.IsTester {
		return nil
	}
	code, err := h.db.AllocateTesterCode(ctx, user.UserID, db.NewTesterCode)
	if err != nil {
		return err
	}
	jww.DEBUG.Printf("🎫 Tester code for %s: %s", user.Tag, code)
	return nil
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, user *models.Identity) error {
	token, err := h.sessions.JWT.GenerateToken(user)
	if err != nil {
		return err
	}

	sameSite := http.SameSiteLaxMode
	if h.cookie.Secure {
		// The frontend may live on another site; None requires Secure.
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.sessions.JWT.Expiration()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: sameSite,
	})
	return nil
}

func (h *AuthHandler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
	})
}

func (h *AuthHandler) redirectFrontend(w http.ResponseWriter, r *http.Request, failure string) {
	target := h.frontendURL + "/"
	if failure != "" {
		target += "?error=" + url.QueryEscape(failure)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// CheckTester reports whether the caller is logged in and with which
// capabilities. A missing or expired session is not an error here.
func (h *AuthHandler) CheckTester(w http.ResponseWriter, r *http.Request) {
	claims, err := h.sessions.Claims(r)
	if err != nil {
		writeJSON(w, http.StatusOK, SessionSummary{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, summarize(claims.Identity()))
}

// TesterCode returns the caller's tester code, or null when none exists.
func (h *AuthHandler) TesterCode(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	code, err := h.db.TesterCodeForUser(r.Context(), user.UserID)
	if errors.Is(err, models.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"code": nil})
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"code": code})
}

// Logout revokes the session token and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.sessions.Claims(r); err == nil {
		h.revoke(claims)
		jww.INFO.Printf("👋 User logged out: %s", claims.Tag)
	}
	h.clearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *AuthHandler) revoke(claims *auth.Claims) {
	if h.sessions.Revocations == nil || claims.ExpiresAt == nil {
		return
	}
	h.sessions.Revocations.Revoke(claims.ID, claims.ExpiresAt.Time)
}

// Refresh re-reads live roles, re-issues the session and updates the
// caller's duty record.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	caps, err := h.resolver.Capabilities(ctx, claims.UserID)
	if err != nil {
		jww.WARN.Printf("⚠️  Capability refresh failed for %s: %v", claims.Tag, err)
		writeDomainError(w, r, err)
		return
	}

	user := claims.Identity()
	user.Capabilities = caps
	if err := h.ensureTesterCode(ctx, user); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.issueSession(w, user); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.revoke(claims)

	if err := h.coordinator.RefreshDuty(ctx, user); err != nil {
		jww.WARN.Printf("⚠️  Duty refresh failed for %s: %v", user.Tag, err)
	}

	jww.INFO.Printf("🔄 Capabilities refreshed for %s", user.Tag)
	writeJSON(w, http.StatusOK, summarize(user))
}
