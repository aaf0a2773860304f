package auth

import (
	"testing"
	"time"

	"dutydesk/config"
	"dutydesk/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoles = config.RoleConfig{
	TesterRoles:   []string{"t1", "t2"},
	AnyTesterRole: "tany",
	EditorRoles:   []string{"e1"},
	RadioRole:     "radio",
	MDTRole:       "mdt",
}

func TestResolveCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  models.Capabilities
	}{
		{"no roles", nil, models.Capabilities{}},
		{"listed tester role", []string{"t2"}, models.Capabilities{IsTester: true}},
		{"any tester role", []string{"tany"}, models.Capabilities{IsTester: true}},
		{"editor", []string{"e1"}, models.Capabilities{IsEditor: true}},
		{"radio and mdt", []string{"radio", "mdt", "unrelated"}, models.Capabilities{CanRadio: true, CanMDT: true}},
		{"everything", []string{"t1", "e1", "radio", "mdt"}, models.Capabilities{IsTester: true, IsEditor: true, CanRadio: true, CanMDT: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCapabilities(testRoles, tt.roles))
		})
	}
}

func TestResolveCapabilities_EmptyRoleIDNeverMatches(t *testing.T) {
	caps := ResolveCapabilities(config.RoleConfig{}, []string{""})
	assert.Equal(t, models.Capabilities{}, caps)
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	identity := &models.Identity{
		UserID:       "42",
		Tag:          "candidate#0001",
		Capabilities: models.Capabilities{IsTester: true, CanRadio: true},
	}

	token, err := m.GenerateToken(identity)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, claims.Identity())
	assert.NotEmpty(t, claims.ID)
}

func TestJWTRejectsForeignSecretAndExpiry(t *testing.T) {
	identity := &models.Identity{UserID: "42"}

	token, err := NewJWTManager("other", time.Hour).GenerateToken(identity)
	require.NoError(t, err)
	_, err = NewJWTManager("secret", time.Hour).ValidateToken(token)
	assert.Error(t, err)

	expired, err := NewJWTManager("secret", -time.Minute).GenerateToken(identity)
	require.NoError(t, err)
	_, err = NewJWTManager("secret", time.Hour).ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRevocations(t *testing.T) {
	r := NewRevocations()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Revoke("a", now.Add(time.Hour))
	r.Revoke("stale", now.Add(-time.Minute))
	assert.True(t, r.IsRevoked("a"))
	assert.False(t, r.IsRevoked("stale"))
	assert.False(t, r.IsRevoked("b"))

	now = now.Add(2 * time.Hour)
	assert.False(t, r.IsRevoked("a"))
}
