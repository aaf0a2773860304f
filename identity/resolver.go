package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"dutydesk/auth"
	"dutydesk/config"
	"dutydesk/models"

	"golang.org/x/oauth2"
)

// Resolver turns provider tokens into identities with capability flags.
type Resolver struct {
	provider Provider
	roles    config.RoleConfig
}

func NewResolver(provider Provider, roles config.RoleConfig) *Resolver {
	return &Resolver{provider: provider, roles: roles}
}

func (r *Resolver) Provider() Provider {
	return r.provider
}

// Resolve fetches the profile and roles behind token. Any provider failure
// is reported as models.ErrUnauthenticated so no session is created; an
// outage additionally matches models.ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, token *oauth2.Token) (*models.Identity, error) {
	profile, err := r.provider.Profile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	caps, err := r.Capabilities(ctx, profile.ID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}

	return &models.Identity{
		UserID:       profile.ID,
		Tag:          profile.Tag(),
		Capabilities: caps,
	}, nil
}

// Capabilities reads the live role list of userID. A client error from the
// provider (the member left, the token was revoked) is models.ErrUnauthenticated;
// network failures, 429 and 5xx are models.ErrUnavailable.
func (r *Resolver) Capabilities(ctx context.Context, userID string) (models.Capabilities, error) {
	roles, err := r.provider.Roles(ctx, userID)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
			return models.Capabilities{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
		}
		return models.Capabilities{}, fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return auth.ResolveCapabilities(r.roles, roles), nil
}
