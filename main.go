// main.go
// DutyDesk API - Discord login, tester codes, duty registry and live pings

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dutydesk/auth"
	"dutydesk/config"
	"dutydesk/db"
	"dutydesk/handlers"
	"dutydesk/identity"
	"dutydesk/live"
	"dutydesk/middleware"
	"dutydesk/notify"

	"github.com/joho/godotenv"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		jww.WARN.Println("⚠️  No .env file found, using system environment variables")
	}

	// Load configuration
	cfg := config.Load()
	configureLogging(cfg.Logging.Level)
	if err := cfg.Validate(); err != nil {
		jww.FATAL.Fatalf("❌ Invalid configuration: %v", err)
	}

	jww.INFO.Printf("🚀 Starting DutyDesk API Server")
	jww.INFO.Printf("📍 Environment: %s", cfg.Server.Environment)
	jww.INFO.Printf("🔧 Port: %s", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := db.Open(ctx, cfg.Store)
	if err != nil {
		jww.FATAL.Fatalf("❌ Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	defer store.Close()

	// Initialize sessions
	sessions := &middleware.Sessions{
		JWT:         auth.NewJWTManager(cfg.Session.Secret, cfg.Session.Expiration),
		Revocations: auth.NewRevocations(),
		CookieName:  cfg.Session.CookieName,
	}
	jww.INFO.Printf("🔐 Sessions initialized (expiration: %v)", cfg.Session.Expiration)

	// Initialize identity provider and notifier
	resolver := identity.NewResolver(identity.NewDiscord(cfg.Discord), cfg.Roles)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Discord.NotifyChannelID != "" {
		notifier = notify.NewDiscordChannel(cfg.Discord.APIBase, cfg.Discord.NotifyChannelID, cfg.Discord.BotToken, cfg.Discord.Timeout)
		jww.INFO.Printf("📣 Ping notifications to channel %s", cfg.Discord.NotifyChannelID)
	}

	coordinator := live.NewCoordinator(store, live.NewHub(cfg.Live.ClientBuffer), notifier, live.Options{
		DutyTTL:       cfg.Live.DutyTTL,
		NotifyTimeout: cfg.Discord.Timeout,
	})

	// Initialize handlers
	router := handlers.NewRouter(handlers.Routes{
		Sessions: sessions,
		Editors:  resolver,
		Auth: handlers.NewAuthHandler(resolver, store, sessions, coordinator,
			handlers.CookieOptions{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure},
			cfg.Server.FrontendURL),
		Tests:  handlers.NewTestsHandler(store),
		Config: handlers.NewConfigHandler(store),
		Duty:   handlers.NewDutyHandler(coordinator),
		Pings:  handlers.NewPingHandler(coordinator),
		Events: handlers.NewEventsHandler(coordinator, cfg.Live.KeepAlive, cfg.Live.StreamIdleTimeout),
	})
	jww.INFO.Printf("✅ Handlers initialized")

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, "/events")
	rateLimiter.TrustProxies(cfg.RateLimit.TrustedProxies...)
	jww.INFO.Printf("🛡️  Rate limiter initialized (%d requests per %v)", cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Apply global middleware
	var handler http.Handler = router
	handler = rateLimiter.Middleware()(handler)
	handler = middleware.CORSMiddleware(cfg.CORS.AllowedOrigins)(handler)
	handler = middleware.LoggingMiddleware(handler)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Shutdown waits for active requests; event streams never finish on
	// their own.
	server.RegisterOnShutdown(coordinator.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		jww.INFO.Printf("✅ Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return coordinator.RunSweeper(gctx, cfg.Live.SweepInterval)
	})

	g.Go(func() error {
		return rateLimiter.RunCleanup(gctx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		jww.INFO.Println("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			jww.ERROR.Printf("❌ Server forced to shutdown: %v", err)
			return server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		jww.ERROR.Printf("❌ Server stopped with error: %v", err)
		coordinator.Wait()
		store.Close()
		os.Exit(1)
	}

	coordinator.Wait()
	jww.INFO.Println("✅ Server stopped gracefully")
}
