package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dutydesk/models"

	jww "github.com/spf13/jwalterweatherman"
)

// FileStore keeps the whole data set in one JSON document. The document is
// loaded once at startup and rewritten after every mutation. A single mutex
// serializes all access, so read-modify-write cycles never interleave.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  models.Document
}

// NewFileStore opens (or creates) the document at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: emptyDocument()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		jww.INFO.Printf("📄 No data file at %s, starting empty", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read data file: %w", err)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("failed to parse data file: %w", err)
		}
		s.normalize()
	}

	jww.INFO.Printf("✅ Opened file store: %s (%d testers, %d tests, %d pings)",
		path, len(s.doc.Testers), len(s.doc.Tests), len(s.doc.Pings))
	return s, nil
}

func emptyDocument() models.Document {
	return models.Document{
		Testers: make(map[string]models.Tester),
		Tests:   make(map[string]models.TestSubmission),
		Configs: make(map[string]models.TestConfig),
		Duty:    make(map[string]models.DutyRecord),
		Pings:   []models.Ping{},
	}
}

func (s *FileStore) normalize() {
	if s.doc.Testers == nil {
		s.doc.Testers = make(map[string]models.Tester)
	}
	if s.doc.Tests == nil {
		s.doc.Tests = make(map[string]models.TestSubmission)
	}
	if s.doc.Configs == nil {
		s.doc.Configs = make(map[string]models.TestConfig)
	}
	if s.doc.Duty == nil {
		s.doc.Duty = make(map[string]models.DutyRecord)
	}
	if s.doc.Pings == nil {
		s.doc.Pings = []models.Ping{}
	}
	for code, t := range s.doc.Testers {
		t.Code = code
		s.doc.Testers[code] = t
	}
}

// flush writes the document to a temp file and renames it into place.
// Callers must hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dutydesk-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (s *FileStore) Close() error {
	return nil
}

// --- Tester Operations ---

func (s *FileStore) AllocateTesterCode(ctx context.Context, userID string, next func() string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.codeForUserLocked(userID); ok {
		return code, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := next()
		if _, taken := s.doc.Testers[code]; taken {
			continue
		}
		s.doc.Testers[code] = models.Tester{Code: code, UserID: userID, CreatedAt: time.Now().UTC()}
		if err := s.flush(); err != nil {
			delete(s.doc.Testers, code)
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("no free tester code after %d attempts", maxCodeAttempts)
}

func (s *FileStore) codeForUserLocked(userID string) (string, bool) {
	for code, t := range s.doc.Testers {
		if t.UserID == userID {
			return code, true
		}
	}
	return "", false
}

func (s *FileStore) TesterCodeForUser(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.codeForUserLocked(userID); ok {
		return code, nil
	}
	return "", notFound("tester for user", userID)
}

func (s *FileStore) GetTester(ctx context.Context, code string) (*models.Tester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Testers[code]
	if !ok {
		return nil, notFound("tester code", code)
	}
	return &t, nil
}

// --- Submission Operations ---

func (s *FileStore) CreateSubmission(ctx context.Context, sub *models.TestSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Tests[sub.ID]; exists {
		return fmt.Errorf("submission %q: %w", sub.ID, models.ErrConflict)
	}
	s.doc.Tests[sub.ID] = *sub
	if err := s.flush(); err != nil {
		delete(s.doc.Tests, sub.ID)
		return err
	}
	return nil
}

func (s *FileStore) ListSubmissions(ctx context.Context) ([]models.TestSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]models.TestSubmission, 0, len(s.doc.Tests))
	for _, sub := range s.doc.Tests {
		subs = append(subs, sub)
	}
	return subs, nil
}

// --- Config Operations ---

func (s *FileStore) ListConfigs(ctx context.Context) ([]models.TestConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs := make([]models.TestConfig, 0, len(s.doc.Configs))
	for _, c := range s.doc.Configs {
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].TestName < configs[j].TestName })
	return configs, nil
}

func (s *FileStore) GetConfig(ctx context.Context, name string) (*models.TestConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.doc.Configs[name]
	if !ok {
		return nil, notFound("config", name)
	}
	return &c, nil
}

func (s *FileStore) PutConfig(ctx context.Context, cfg *models.TestConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Configs[cfg.TestName]
	s.doc.Configs[cfg.TestName] = *cfg
	if err := s.flush(); err != nil {
		if had {
			s.doc.Configs[cfg.TestName] = prev
		} else {
			delete(s.doc.Configs, cfg.TestName)
		}
		return err
	}
	return nil
}

func (s *FileStore) DeleteConfig(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.doc.Configs[name]
	if !ok {
		return notFound("config", name)
	}
	delete(s.doc.Configs, name)
	if err := s.flush(); err != nil {
		s.doc.Configs[name] = prev
		return err
	}
	return nil
}

// --- Duty Operations ---

func (s *FileStore) PutDuty(ctx context.Context, rec *models.DutyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Duty[rec.ID]
	s.doc.Duty[rec.ID] = *rec
	if err := s.flush(); err != nil {
		if had {
			s.doc.Duty[rec.ID] = prev
		} else {
			delete(s.doc.Duty, rec.ID)
		}
		return err
	}
	return nil
}

func (s *FileStore) DeleteDuty(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.doc.Duty[userID]
	if !ok {
		return nil
	}
	delete(s.doc.Duty, userID)
	if err := s.flush(); err != nil {
		s.doc.Duty[userID] = prev
		return err
	}
	return nil
}

func (s *FileStore) ListDuty(ctx context.Context) (map[string]models.DutyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.DutyRecord, len(s.doc.Duty))
	for id, rec := range s.doc.Duty {
		rec.Roles = append([]models.DutyRole(nil), rec.Roles...)
		out[id] = rec
	}
	return out, nil
}

// --- Ping Operations ---

func (s *FileStore) CreatePing(ctx context.Context, ping *models.Ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.doc.Pings {
		if p.ID == ping.ID {
			return fmt.Errorf("ping %q: %w", ping.ID, models.ErrConflict)
		}
	}
	s.doc.Pings = append(s.doc.Pings, *ping)
	if err := s.flush(); err != nil {
		s.doc.Pings = s.doc.Pings[:len(s.doc.Pings)-1]
		return err
	}
	return nil
}

func (s *FileStore) GetPing(ctx context.Context, id string) (*models.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.doc.Pings {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, notFound("ping", id)
}

func (s *FileStore) ListPings(ctx context.Context) ([]models.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Ping(nil), s.doc.Pings...), nil
}

func (s *FileStore) AcceptPing(ctx context.Context, id string, by models.Person, at time.Time) (*models.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Pings {
		p := &s.doc.Pings[i]
		if p.ID != id {
			continue
		}
		if p.Status != models.PingOpen {
			return nil, fmt.Errorf("ping %q already %s: %w", id, p.Status, models.ErrConflict)
		}

		prev := *p
		acceptor := by
		acceptedAt := at
		p.Status = models.PingAccepted
		p.AcceptedBy = &acceptor
		p.AcceptedAt = &acceptedAt
		if err := s.flush(); err != nil {
			*p = prev
			return nil, err
		}
		out := *p
		return &out, nil
	}
	return nil, notFound("ping", id)
}
