package handlers

import (
	"fmt"
	"net/http"
	"time"

	"dutydesk/middleware"
)

// Routes groups the handlers mounted by NewRouter.
type Routes struct {
	Sessions *middleware.Sessions
	// Editors re-reads live roles for config mutation and export.
	Editors middleware.CapabilityFetcher

	Auth   *AuthHandler
	Tests  *TestsHandler
	Config *ConfigHandler
	Duty   *DutyHandler
	Pings  *PingHandler
	Events *EventsHandler
}

// NewRouter mounts every endpoint on a ServeMux.
func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	authMiddleware := middleware.AuthMiddleware(rt.Sessions)
	liveEditor := middleware.RequireLiveEditor(rt.Editors)
	session := func(h http.HandlerFunc) http.Handler { return authMiddleware(h) }
	editor := func(h http.HandlerFunc) http.Handler { return authMiddleware(liveEditor(h)) }

	// Public routes (no authentication required)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /auth/login", rt.Auth.Login)
	mux.HandleFunc("GET /auth/callback", rt.Auth.Callback)
	mux.HandleFunc("GET /check-tester", rt.Auth.CheckTester)
	mux.HandleFunc("GET /logout", rt.Auth.Logout)
	mux.HandleFunc("POST /auth/logout", rt.Auth.Logout)

	mux.HandleFunc("GET /config", rt.Config.List)
	mux.HandleFunc("GET /config/{name}", rt.Config.Get)
	mux.HandleFunc("GET /tests/history", rt.Tests.History)
	mux.HandleFunc("GET /tests/stats", rt.Tests.Stats)
	mux.HandleFunc("POST /submit-test", rt.Tests.Submit)
	mux.HandleFunc("GET /duty/list", rt.Duty.List)
	mux.HandleFunc("GET /duty/allow/{type}", rt.Duty.Allow)

	// Session routes
	mux.Handle("GET /tester-code", session(rt.Auth.TesterCode))
	mux.Handle("POST /auth/refresh", session(rt.Auth.Refresh))
	mux.Handle("POST /duty/on", session(rt.Duty.On))
	mux.Handle("POST /duty/off", session(rt.Duty.Off))
	mux.Handle("POST /call-instructor", session(rt.Pings.Call))
	mux.Handle("POST /ack-ping", session(rt.Pings.Ack))
	mux.Handle("GET /pings", session(rt.Pings.List))
	mux.Handle("GET /events", session(rt.Events.Stream))

	// Editor routes (live role check)
	mux.Handle("POST /config", editor(rt.Config.Put))
	mux.Handle("POST /config/{name}", editor(rt.Config.Put))
	mux.Handle("DELETE /config/{name}", editor(rt.Config.Delete))
	mux.Handle("GET /tests/export", editor(rt.Tests.Export))

	return mux
}

// Health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"version":"1.0.0"}`, time.Now().Unix())
}
