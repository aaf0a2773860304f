package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dutydesk/models"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	jww "github.com/spf13/jwalterweatherman"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	colTesters      = "testers"
	colTesterOwners = "tester_owners"
	colTests        = "tests"
	colConfigs      = "configs"
	colDuty         = "duty"
	colPings        = "pings"
)

// FirestoreDB implements Store on Cloud Firestore. Multi-document
// invariants (one code per user, single acceptor per ping) are enforced in
// transactions.
type FirestoreDB struct {
	client *firestore.Client
}

// testerOwner indexes testers by user so allocation can be checked inside a
// transaction without a query.
type testerOwner struct {
	UserID string `firestore:"user_id"`
	Code   string `firestore:"code"`
}

// NewFirestoreDB initializes a new Firestore client. An empty
// credentialsPath falls back to application default credentials, which
// also covers FIRESTORE_EMULATOR_HOST.
func NewFirestoreDB(ctx context.Context, projectID, credentialsPath string) (*FirestoreDB, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	config := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firestore client: %w", err)
	}

	jww.INFO.Printf("✅ Connected to Firestore project: %s", projectID)

	return &FirestoreDB{client: client}, nil
}

// Close closes the Firestore client
func (db *FirestoreDB) Close() error {
	return db.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// --- Tester Operations ---

var errCodesExhausted = errors.New("no free tester code")

// AllocateTesterCode reads the owner index and candidate codes before
// writing, as Firestore transactions require.
func (db *FirestoreDB) AllocateTesterCode(ctx context.Context, userID string, next func() string) (string, error) {
	var code string
	ownerRef := db.client.Collection(colTesterOwners).Doc(userID)

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		code = ""

		snap, err := tx.Get(ownerRef)
		if err == nil {
			var owner testerOwner
			if err := snap.DataTo(&owner); err != nil {
				return fmt.Errorf("failed to parse tester owner: %w", err)
			}
			code = owner.Code
			return nil
		}
		if !isNotFound(err) {
			return fmt.Errorf("failed to read tester owner: %w", err)
		}

		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			candidate := next()
			ref := db.client.Collection(colTesters).Doc(candidate)
			if _, err := tx.Get(ref); err == nil {
				continue
			} else if !isNotFound(err) {
				return fmt.Errorf("failed to check tester code: %w", err)
			}

			tester := models.Tester{Code: candidate, UserID: userID, CreatedAt: time.Now().UTC()}
			if err := tx.Create(ref, tester); err != nil {
				return err
			}
			if err := tx.Create(ownerRef, testerOwner{UserID: userID, Code: candidate}); err != nil {
				return err
			}
			code = candidate
			return nil
		}
		return errCodesExhausted
	})
	if err != nil {
		return "", fmt.Errorf("failed to allocate tester code: %w", err)
	}
	return code, nil
}

func (db *FirestoreDB) TesterCodeForUser(ctx context.Context, userID string) (string, error) {
	doc, err := db.client.Collection(colTesterOwners).Doc(userID).Get(ctx)
	if isNotFound(err) {
		return "", notFound("tester for user", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tester owner: %w", err)
	}

	var owner testerOwner
	if err := doc.DataTo(&owner); err != nil {
		return "", fmt.Errorf("failed to parse tester owner: %w", err)
	}
	return owner.Code, nil
}

func (db *FirestoreDB) GetTester(ctx context.Context, code string) (*models.Tester, error) {
	doc, err := db.client.Collection(colTesters).Doc(code).Get(ctx)
	if isNotFound(err) {
		return nil, notFound("tester code", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tester: %w", err)
	}

	var tester models.Tester
	if err := doc.DataTo(&tester); err != nil {
		return nil, fmt.Errorf("failed to parse tester: %w", err)
	}
	return &tester, nil
}

// --- Submission Operations ---

// CreateSubmission uses Create so an id collision surfaces instead of
// overwriting an existing record.
func (db *FirestoreDB) CreateSubmission(ctx context.Context, sub *models.TestSubmission) error {
	_, err := db.client.Collection(colTests).Doc(sub.ID).Create(ctx, sub)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("submission %q: %w", sub.ID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (db *FirestoreDB) ListSubmissions(ctx context.Context) ([]models.TestSubmission, error) {
	iter := db.client.Collection(colTests).Documents(ctx)
	defer iter.Stop()

	subs := []models.TestSubmission{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate submissions: %w", err)
		}

		var sub models.TestSubmission
		if err := doc.DataTo(&sub); err != nil {
			jww.WARN.Printf("Warning: failed to parse submission %s: %v", doc.Ref.ID, err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// --- Config Operations ---

func (db *FirestoreDB) ListConfigs(ctx context.Context) ([]models.TestConfig, error) {
	iter := db.client.Collection(colConfigs).OrderBy("test_name", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	configs := []models.TestConfig{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate configs: %w", err)
		}

		var cfg models.TestConfig
		if err := doc.DataTo(&cfg); err != nil {
			jww.WARN.Printf("Warning: failed to parse config %s: %v", doc.Ref.ID, err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (db *FirestoreDB) GetConfig(ctx context.Context, name string) (*models.TestConfig, error) {
	doc, err := db.client.Collection(colConfigs).Doc(name).Get(ctx)
	if isNotFound(err) {
		return nil, notFound("config", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	var cfg models.TestConfig
	if err := doc.DataTo(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (db *FirestoreDB) PutConfig(ctx context.Context, cfg *models.TestConfig) error {
	_, err := db.client.Collection(colConfigs).Doc(cfg.TestName).Set(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to put config: %w", err)
	}
	return nil
}

func (db *FirestoreDB) DeleteConfig(ctx context.Context, name string) error {
	ref := db.client.Collection(colConfigs).Doc(name)
	_, err := ref.Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return notFound("config", name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

// --- Duty Operations ---

func (db *FirestoreDB) PutDuty(ctx context.Context, rec *models.DutyRecord) error {
	_, err := db.client.Collection(colDuty).Doc(rec.ID).Set(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to put duty record: %w", err)
	}
	return nil
}

func (db *FirestoreDB) DeleteDuty(ctx context.Context, userID string) error {
	_, err := db.client.Collection(colDuty).Doc(userID).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete duty record: %w", err)
	}
	return nil
}

func (db *FirestoreDB) ListDuty(ctx context.Context) (map[string]models.DutyRecord, error) {
	iter := db.client.Collection(colDuty).Documents(ctx)
	defer iter.Stop()

	records := make(map[string]models.DutyRecord)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate duty records: %w", err)
		}

		var rec models.DutyRecord
		if err := doc.DataTo(&rec); err != nil {
			jww.WARN.Printf("Warning: failed to parse duty record %s: %v", doc.Ref.ID, err)
			continue
		}
		records[rec.ID] = rec
	}
	return records, nil
}

// --- Ping Operations ---

func (db *FirestoreDB) CreatePing(ctx context.Context, ping *models.Ping) error {
	_, err := db.client.Collection(colPings).Doc(ping.ID).Create(ctx, ping)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("ping %q: %w", ping.ID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create ping: %w", err)
	}
	return nil
}

func (db *FirestoreDB) GetPing(ctx context.Context, id string) (*models.Ping, error) {
	doc, err := db.client.Collection(colPings).Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, notFound("ping", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ping: %w", err)
	}

	var ping models.Ping
	if err := doc.DataTo(&ping); err != nil {
		return nil, fmt.Errorf("failed to parse ping: %w", err)
	}
	return &ping, nil
}

func (db *FirestoreDB) ListPings(ctx context.Context) ([]models.Ping, error) {
	iter := db.client.Collection(colPings).OrderBy("time", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	pings := []models.Ping{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate pings: %w", err)
		}

		var ping models.Ping
		if err := doc.DataTo(&ping); err != nil {
			jww.WARN.Printf("Warning: failed to parse ping %s: %v", doc.Ref.ID, err)
			continue
		}
		pings = append(pings, ping)
	}
	return pings, nil
}

func (db *FirestoreDB) AcceptPing(ctx context.Context, id string, by models.Person, at time.Time) (*models.Ping, error) {
	ref := db.client.Collection(colPings).Doc(id)
	var accepted models.Ping

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return notFound("ping", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read ping: %w", err)
		}

		var ping models.Ping
		if err := snap.DataTo(&ping); err != nil {
			return fmt.Errorf("failed to parse ping: %w", err)
		}
		if ping.Status != models.PingOpen {
			return fmt.Errorf("ping %q already %s: %w", id, ping.Status, models.ErrConflict)
		}

		acceptor := by
		acceptedAt := at
		ping.Status = models.PingAccepted
		ping.AcceptedBy = &acceptor
		ping.AcceptedAt = &acceptedAt
		accepted = ping
		return tx.Set(ref, ping)
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}
