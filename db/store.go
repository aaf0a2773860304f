package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"dutydesk/models"
)

// Store is the persistence contract shared by the flat-file and Firestore
// backends. Every mutation is atomic per collection: upsert-by-key, append,
// or compare-and-swap. Lookups that miss return an error wrapping
// models.ErrNotFound.
type Store interface {
	// AllocateTesterCode returns the code owned by userID, creating one with
	// next if none exists. Codes are unique across users and a user never
	// receives a second code.
	AllocateTesterCode(ctx context.Context, userID string, next func() string) (string, error)
	TesterCodeForUser(ctx context.Context, userID string) (string, error)
	GetTester(ctx context.Context, code string) (*models.Tester, error)

	CreateSubmission(ctx context.Context, sub *models.TestSubmission) error
	ListSubmissions(ctx context.Context) ([]models.TestSubmission, error)

	ListConfigs(ctx context.Context) ([]models.TestConfig, error)
	GetConfig(ctx context.Context, name string) (*models.TestConfig, error)
	PutConfig(ctx context.Context, cfg *models.TestConfig) error
	DeleteConfig(ctx context.Context, name string) error

	PutDuty(ctx context.Context, rec *models.DutyRecord) error
	DeleteDuty(ctx context.Context, userID string) error
	ListDuty(ctx context.Context) (map[string]models.DutyRecord, error)

	CreatePing(ctx context.Context, ping *models.Ping) error
	GetPing(ctx context.Context, id string) (*models.Ping, error)
	ListPings(ctx context.Context) ([]models.Ping, error)
	// AcceptPing moves an open ping to accepted. It fails with
	// models.ErrConflict when the ping has already been accepted.
	AcceptPing(ctx context.Context, id string, by models.Person, at time.Time) (*models.Ping, error)

	Close() error
}

// maxCodeAttempts bounds the retry loop of AllocateTesterCode.
const maxCodeAttempts = 64

// NewTesterCode returns a random 6-character uppercase hexadecimal code.
func NewTesterCode() string {
	return strings.ToUpper(RandomHex(3))
}

// RandomHex returns 2*n hex characters read from crypto/rand.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, models.ErrNotFound)
}
