package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dutydesk/config"
	"dutydesk/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestDiscord(t *testing.T, handler http.Handler) *Discord {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	d := NewDiscord(config.DiscordConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/auth/callback",
		GuildID:      "guild",
		BotToken:     "bot-token",
		APIBase:      server.URL,
		Timeout:      2 * time.Second,
		Retries:      2,
	})
	d.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return d
}

func TestDiscordExchangeProfileAndRoles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "user-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Profile{ID: "42", Username: "candidate", Discriminator: "0"})
	})
	mux.HandleFunc("/guilds/guild/members/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot bot-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(guildMember{Roles: []string{"tester", "radio"}})
	})
	d := newTestDiscord(t, mux)
	ctx := context.Background()

	token, err := d.Exchange(ctx, "the-code")
	require.NoError(t, err)

	resolver := NewResolver(d, config.RoleConfig{TesterRoles: []string{"tester"}, RadioRole: "radio"})
	identity, err := resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, &models.Identity{
		UserID:       "42",
		Tag:          "candidate",
		Capabilities: models.Capabilities{IsTester: true, CanRadio: true},
	}, identity)
}

func TestDiscordRetriesServerErrors(t *testing.T) {
	var calls int32
	d := newTestDiscord(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(guildMember{Roles: []string{"a"}})
	}))

	roles, err := d.Roles(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, roles)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDiscordDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	d := newTestDiscord(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := d.Roles(context.Background(), "42")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDiscordRolesOutlivesCancelledCaller(t *testing.T) {
	var calls int32
	arrived := make(chan struct{})
	release := make(chan struct{})
	d := newTestDiscord(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(arrived)
		}
		<-release
		json.NewEncoder(w).Encode(guildMember{Roles: []string{"editor"}})
	}))
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Roles(first, "42")
		firstErr <- err
	}()
	<-arrived
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	// The lookup the first caller started is still in flight.
	time.AfterFunc(50*time.Millisecond, unblock)
	roles, err := d.Roles(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roles)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolverCapabilitiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
		not    error
	}{
		{"member gone", http.StatusNotFound, models.ErrUnauthenticated, models.ErrUnavailable},
		{"bot token revoked", http.StatusUnauthorized, models.ErrUnauthenticated, models.ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, models.ErrUnavailable, models.ErrUnauthenticated},
		{"outage", http.StatusServiceUnavailable, models.ErrUnavailable, models.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDiscord(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := NewResolver(d, config.RoleConfig{}).Capabilities(context.Background(), "42")
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, tt.not)
		})
	}
}

func TestResolveDuringOutageIsUnauthenticated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Profile{ID: "42", Username: "candidate"})
	})
	mux.HandleFunc("/guilds/guild/members/42", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	d := newTestDiscord(t, mux)

	_, err := NewResolver(d, config.RoleConfig{}).Resolve(context.Background(), &oauth2.Token{AccessToken: "x", TokenType: "Bearer"})
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestResolverFailureIsUnauthenticated(t *testing.T) {
	d := newTestDiscord(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	resolver := NewResolver(d, config.RoleConfig{})
	_, err := resolver.Resolve(context.Background(), &oauth2.Token{AccessToken: "x", TokenType: "Bearer"})
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestProfileTag(t *testing.T) {
	assert.Equal(t, "old#1234", (&Profile{Username: "old", Discriminator: "1234"}).Tag())
	assert.Equal(t, "new", (&Profile{Username: "new", Discriminator: "0"}).Tag())
}
