package live

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dutydesk/db"
	"dutydesk/models"
	"dutydesk/notify"

	jww "github.com/spf13/jwalterweatherman"
)

// MaxNoteLength bounds the free-text note of a ping.
const MaxNoteLength = 500

// DutyRolesFor maps capability flags to the duty roles they cover.
func DutyRolesFor(caps models.Capabilities) []models.DutyRole {
	roles := []models.DutyRole{}
	if caps.CanRadio {
		roles = append(roles, models.DutyRoleRadio)
	}
	if caps.CanMDT {
		roles = append(roles, models.DutyRoleMDT)
	}
	if caps.IsTester || caps.IsEditor {
		roles = append(roles, models.DutyRoleGeneral)
	}
	return roles
}

// RequiredDutyRole is the duty role that covers testType.
func RequiredDutyRole(testType models.TestType) (models.DutyRole, bool) {
	switch testType {
	case models.TestTypeAcademie:
		return models.DutyRoleGeneral, true
	case models.TestTypeRadio:
		return models.DutyRoleRadio, true
	case models.TestTypeMDT:
		return models.DutyRoleMDT, true
	}
	return "", false
}

// CanAccept reports whether caps allow accepting a ping of testType.
func CanAccept(caps models.Capabilities, testType models.TestType) bool {
	switch testType {
	case models.TestTypeRadio:
		return caps.CanRadio
	case models.TestTypeMDT:
		return caps.CanMDT
	case models.TestTypeAcademie:
		return caps.IsTester || caps.IsEditor
	}
	return false
}

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	DutyTTL       time.Duration
	NotifyTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

// Coordinator owns the duty registry, the ping workflow and the broadcast
// hub. Duty mutations are serialized so every duty-update carries a
// snapshot no older than the previous one; ping acceptance relies on the
// store's compare-and-swap.
type Coordinator struct {
	store    db.Store
	hub      *Hub
	notifier notify.Notifier

	dutyMu sync.Mutex
	wg     sync.WaitGroup

	dutyTTL       time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

func NewCoordinator(store db.Store, hub *Hub, notifier notify.Notifier, opts Options) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.DutyTTL <= 0 {
		opts.DutyTTL = 12 * time.Hour
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return db.RandomHex(8) }
	}
	return &Coordinator{
		store:         store,
		hub:           hub,
		notifier:      notifier,
		dutyTTL:       opts.DutyTTL,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		newID:         opts.NewID,
	}
}

func (c *Coordinator) Hub() *Hub {
	return c.hub
}

// --- Duty Registry ---

// GoOnDuty upserts the caller's duty record and refreshes since.
func (c *Coordinator) GoOnDuty(ctx context.Context, identity *models.Identity) (map[string]models.DutyRecord, error) {
	roles := DutyRolesFor(identity.Capabilities)
	if len(roles) == 0 {
		return nil, fmt.Errorf("%s has no instructor capability: %w", identity.Tag, models.ErrForbidden)
	}

	c.dutyMu.Lock()
	defer c.dutyMu.Unlock()

	now := c.now().UTC()
	rec := &models.DutyRecord{
		ID:       identity.UserID,
		Tag:      identity.Tag,
		Roles:    roles,
		Since:    now,
		LastSeen: now,
	}
	if err := c.store.PutDuty(ctx, rec); err != nil {
		return nil, err
	}
	jww.INFO.Printf("🟢 %s on duty (%s)", identity.Tag, joinRoles(roles))
	return c.publishDutyLocked(ctx)
}

// GoOffDuty removes the caller's record. It is a no-op when absent.
func (c *Coordinator) GoOffDuty(ctx context.Context, identity *models.Identity) (map[string]models.DutyRecord, error) {
	c.dutyMu.Lock()
	defer c.dutyMu.Unlock()

	if err := c.store.DeleteDuty(ctx, identity.UserID); err != nil {
		return nil, err
	}
	jww.INFO.Printf("⚪ %s off duty", identity.Tag)
	return c.publishDutyLocked(ctx)
}

// RefreshDuty rewrites the roles of an on-duty identity after its
// capabilities were refreshed, keeping since. Losing every role takes the
// identity off duty.
func (c *Coordinator) RefreshDuty(ctx context.Context, identity *models.Identity) error {
	c.dutyMu.Lock()
	defer c.dutyMu.Unlock()

	records, err := c.store.ListDuty(ctx)
	if err != nil {
		return err
	}
	rec, ok := records[identity.UserID]
	if !ok {
		return nil
	}

	rec.Roles = DutyRolesFor(identity.Capabilities)
	rec.Tag = identity.Tag
	rec.LastSeen = c.now().UTC()
	if len(rec.Roles) == 0 {
		err = c.store.DeleteDuty(ctx, rec.ID)
	} else {
		err = c.store.PutDuty(ctx, &rec)
	}
	if err != nil {
		return err
	}
	_, err = c.publishDutyLocked(ctx)
	return err
}

// ListDuty returns the full registry snapshot keyed by user id.
func (c *Coordinator) ListDuty(ctx context.Context) (map[string]models.DutyRecord, error) {
	return c.store.ListDuty(ctx)
}

// IsCovered reports whether someone on duty covers testType. Unknown types
// are never covered.
func (c *Coordinator) IsCovered(ctx context.Context, testType models.TestType) (bool, error) {
	role, ok := RequiredDutyRole(testType)
	if !ok {
		return false, nil
	}
	records, err := c.store.ListDuty(ctx)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.HasRole(role) {
			return true, nil
		}
	}
	return false, nil
}

// Sweep refreshes lastSeen for on-duty users with an open stream and prunes
// records not seen within the duty TTL.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	c.dutyMu.Lock()
	defer c.dutyMu.Unlock()

	records, err := c.store.ListDuty(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now().UTC()
	removed := 0
	for id, rec := range records {
		switch {
		case c.hub.Connected(id):
			rec.LastSeen = now
			if err := c.store.PutDuty(ctx, &rec); err != nil {
				return removed, err
			}
		case now.Sub(rec.LastSeen) > c.dutyTTL:
			if err := c.store.DeleteDuty(ctx, id); err != nil {
				return removed, err
			}
			jww.INFO.Printf("⌛ %s dropped off duty (last seen %s)", rec.Tag, rec.LastSeen.Format(time.RFC3339))
			removed++
		}
	}

	if removed > 0 {
		if _, err := c.publishDutyLocked(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				jww.WARN.Printf("⚠️  Duty sweep failed: %v", err)
			}
		}
	}
}

func (c *Coordinator) publishDutyLocked(ctx context.Context) (map[string]models.DutyRecord, error) {
	records, err := c.store.ListDuty(ctx)
	if err != nil {
		return nil, err
	}
	c.hub.Broadcast(models.Event{Type: models.EventDutyUpdate, Payload: records})
	return records, nil
}

// --- Ping Workflow ---

// CreatePing appends an open ping, broadcasts it and announces it on the
// notification channel in the background.
func (c *Coordinator) CreatePing(ctx context.Context, identity *models.Identity, testType models.TestType, note string) (*models.Ping, error) {
	if _, ok := RequiredDutyRole(testType); !ok {
		return nil, fmt.Errorf("unknown test type %q: %w", testType, models.ErrValidation)
	}
	note = strings.TrimSpace(note)
	if len(note) > MaxNoteLength {
		return nil, fmt.Errorf("note longer than %d characters: %w", MaxNoteLength, models.ErrValidation)
	}

	ping := &models.Ping{
		ID:        c.newID(),
		TestType:  testType,
		Note:      note,
		Requester: models.Person{ID: identity.UserID, Tag: identity.Tag},
		Time:      c.now().UTC(),
		Status:    models.PingOpen,
	}
	if err := c.store.CreatePing(ctx, ping); err != nil {
		return nil, err
	}

	jww.INFO.Printf("📣 Ping %s from %s for %s", ping.ID, identity.Tag, testType)
	c.hub.Broadcast(models.Event{Type: models.EventPing, Payload: ping})
	c.notify(ping)
	return ping, nil
}

func (c *Coordinator) notify(ping *models.Ping) {
	snapshot := *ping
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.notifyTimeout)
		defer cancel()
		if err := c.notifier.NotifyPing(ctx, &snapshot); err != nil {
			jww.WARN.Printf("⚠️  Ping %s notification failed: %v", snapshot.ID, err)
		}
	}()
}

// AcceptPing marks an open ping accepted by identity. It fails with
// ErrNotFound for an unknown id, ErrForbidden when identity lacks the
// capability the ping's test type requires, and ErrConflict when the ping
// was already accepted.
func (c *Coordinator) AcceptPing(ctx context.Context, identity *models.Identity, pingID string) (*models.Ping, error) {
	ping, err := c.store.GetPing(ctx, pingID)
	if err != nil {
		return nil, err
	}
	if !CanAccept(identity.Capabilities, ping.TestType) {
		return nil, fmt.Errorf("%s cannot accept %s pings: %w", identity.Tag, ping.TestType, models.ErrForbidden)
	}

	accepted, err := c.store.AcceptPing(ctx, pingID, models.Person{ID: identity.UserID, Tag: identity.Tag}, c.now().UTC())
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("🤝 Ping %s accepted by %s", pingID, identity.Tag)
	c.hub.Broadcast(models.Event{Type: models.EventAck, Payload: accepted})
	return accepted, nil
}

// ListPings returns pings newest first, optionally filtered by status.
func (c *Coordinator) ListPings(ctx context.Context, status models.PingStatus) ([]models.Ping, error) {
	pings, err := c.store.ListPings(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Ping, 0, len(pings))
	for _, p := range pings {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

// --- Event Stream ---

// Subscribe opens a stream for identity, greeted with a hello event that
// carries the current duty snapshot.
func (c *Coordinator) Subscribe(ctx context.Context, identity *models.Identity) (*Client, error) {
	// Held until the client is registered so no duty-update falls between
	// the snapshot and the registration.
	c.dutyMu.Lock()
	defer c.dutyMu.Unlock()

	records, err := c.store.ListDuty(ctx)
	if err != nil {
		return nil, err
	}
	hello := models.Event{
		Type: models.EventHello,
		Payload: map[string]interface{}{
			"userId": identity.UserID,
			"duty":   records,
		},
	}
	return c.hub.Subscribe(identity.UserID, hello), nil
}

// Unsubscribe closes a stream opened with Subscribe.
func (c *Coordinator) Unsubscribe(client *Client) {
	c.hub.Unsubscribe(client)
}

// Shutdown ends every open stream. Later subscribers are closed at once.
func (c *Coordinator) Shutdown() {
	c.hub.Close()
}

// Wait blocks until background notifications have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func joinRoles(roles []models.DutyRole) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
