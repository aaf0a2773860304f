package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dutydesk/config"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Profile is the subset of the Discord user object the service needs.
type Profile struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name"`
	Discriminator string `json:"discriminator"`
}

// Tag is the display tag shown to other users.
func (p *Profile) Tag() string {
	if p.Discriminator != "" && p.Discriminator != "0" {
		return p.Username + "#" + p.Discriminator
	}
	return p.Username
}

// Provider is the external identity provider: OAuth code exchange, profile
// lookup and guild role lookup.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Profile(ctx context.Context, token *oauth2.Token) (*Profile, error)
	Roles(ctx context.Context, userID string) ([]string, error)
}

// StatusError is returned when the provider answers with a non-success status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Discord talks to the Discord REST API. Profile and role reads are retried
// with exponential backoff on network errors, 429 and 5xx.
type Discord struct {
	oauth    *oauth2.Config
	http     *http.Client
	apiBase  string
	guildID  string
	botToken string
	retries  int
	backoff  func() backoff.BackOff
	group    singleflight.Group
	// flight bounds a shared role lookup, which outlives any one caller.
	flight time.Duration
}

// NewDiscord builds a Discord provider from configuration.
func NewDiscord(cfg config.DiscordConfig) *Discord {
	return &Discord{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.APIBase + "/oauth2/authorize",
				TokenURL:  cfg.APIBase + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:     &http.Client{Timeout: cfg.Timeout},
		apiBase:  cfg.APIBase,
		guildID:  cfg.GuildID,
		botToken: cfg.BotToken,
		retries:  cfg.Retries,
		flight:   flightBudget(cfg.Timeout, cfg.Retries),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (d *Discord) AuthCodeURL(state string) string {
	return d.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "none"))
}

// Exchange trades an authorization code for an access token. It is not
// retried: codes are single use.
func (d *Discord) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.http)
	token, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

func (d *Discord) Profile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	var profile Profile
	authz := token.Type() + " " + token.AccessToken
	if err := d.getJSON(ctx, d.apiBase+"/users/@me", authz, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile.ID == "" {
		return nil, errors.New("profile has no id")
	}
	return &profile, nil
}

type guildMember struct {
	Roles []string `json:"roles"`
}

// Roles returns the ids of the guild roles the user holds. Concurrent calls
// for the same user share a single request; a caller that gives up does not
// cancel it for the others.
func (d *Discord) Roles(ctx context.Context, userID string) ([]string, error) {
	ch := d.group.DoChan(userID, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.flight)
		defer cancel()

		var member guildMember
		endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", d.apiBase, url.PathEscape(d.guildID), url.PathEscape(userID))
		if err := d.getJSON(flightCtx, endpoint, "Bot "+d.botToken, &member); err != nil {
			return nil, err
		}
		return member.Roles, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to fetch roles: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to fetch roles: %w", res.Err)
		}
		return res.Val.([]string), nil
	}
}

// flightBudget covers every attempt plus the backoff between them.
func flightBudget(timeout time.Duration, retries int) time.Duration {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return time.Duration(retries+1)*(timeout+2*time.Second) + time.Second
}

func (d *Discord) getJSON(ctx context.Context, endpoint, authz string, out interface{}) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", authz)
		req.Header.Set("Accept", "application/json")

		resp, err := d.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{URL: endpoint, Code: resp.StatusCode, Body: string(body)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(d.backoff(), uint64(d.retries)), ctx)
	return backoff.Retry(op, b)
}
