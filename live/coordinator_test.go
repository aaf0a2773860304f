package live

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dutydesk/db"
	"dutydesk/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	pings []string
}

func (n *recordingNotifier) NotifyPing(ctx context.Context, ping *models.Ping) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pings = append(n.pings, ping.ID)
	return nil
}

type fixture struct {
	coord    *Coordinator
	hub      *Hub
	store    db.Store
	clock    *clock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.NewFileStore(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	var seq int64
	f := &fixture{
		hub:      NewHub(16),
		store:    store,
		clock:    &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	f.coord = NewCoordinator(store, f.hub, f.notifier, Options{
		DutyTTL: time.Hour,
		Now:     f.clock.Now,
		NewID:   func() string { return fmt.Sprintf("ping-%d", atomic.AddInt64(&seq, 1)) },
	})
	return f
}

func ident(id string, caps models.Capabilities) *models.Identity {
	return &models.Identity{UserID: id, Tag: id + "-tag", Capabilities: caps}
}

var (
	radioInstructor = models.Capabilities{CanRadio: true}
	mdtInstructor   = models.Capabilities{CanMDT: true}
	tester          = models.Capabilities{IsTester: true}
	editor          = models.Capabilities{IsEditor: true}
	candidate       = models.Capabilities{}
)

func TestDutyRolesFor(t *testing.T) {
	assert.Equal(t, []models.DutyRole{}, DutyRolesFor(candidate))
	assert.Equal(t, []models.DutyRole{models.DutyRoleRadio}, DutyRolesFor(radioInstructor))
	assert.Equal(t, []models.DutyRole{models.DutyRoleGeneral}, DutyRolesFor(editor))
	assert.Equal(t,
		[]models.DutyRole{models.DutyRoleRadio, models.DutyRoleMDT, models.DutyRoleGeneral},
		DutyRolesFor(models.Capabilities{IsTester: true, CanRadio: true, CanMDT: true}))
}

func TestGoOnDutyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := ident("u1", radioInstructor)

	_, err := f.coord.GoOnDuty(ctx, u)
	require.NoError(t, err)
	first, err := f.coord.ListDuty(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	snapshot, err := f.coord.GoOnDuty(ctx, u)
	require.NoError(t, err)

	require.Len(t, snapshot, 1)
	assert.True(t, snapshot["u1"].Since.After(first["u1"].Since))
	assert.Equal(t, []models.DutyRole{models.DutyRoleRadio}, snapshot["u1"].Roles)
}

func TestGoOnDutyWithoutCapabilityIsForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.GoOnDuty(context.Background(), ident("c", candidate))
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGoOffDuty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := ident("u1", mdtInstructor)

	_, err := f.coord.GoOffDuty(ctx, u)
	require.NoError(t, err, "off duty while absent is a no-op")

	_, err = f.coord.GoOnDuty(ctx, u)
	require.NoError(t, err)
	snapshot, err := f.coord.GoOffDuty(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestDutyChangesBroadcastSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.hub.Subscribe("watcher", models.Event{Type: models.EventHello})
	drain(client)

	_, err := f.coord.GoOnDuty(ctx, ident("u1", radioInstructor))
	require.NoError(t, err)
	_, err = f.coord.GoOffDuty(ctx, ident("u1", radioInstructor))
	require.NoError(t, err)

	frames := drain(client)
	require.Len(t, frames, 2)
	on := decodeFrame(t, frames[0])
	assert.Equal(t, models.EventDutyUpdate, on.Type)
	assert.Contains(t, on.Payload, "u1")
	off := decodeFrame(t, frames[1])
	assert.Empty(t, off.Payload)
}

func TestIsCovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.GoOnDuty(ctx, ident("u1", radioInstructor))
	require.NoError(t, err)

	for testType, want := range map[models.TestType]bool{
		models.TestTypeRadio:    true,
		models.TestTypeMDT:      false,
		models.TestTypeAcademie: false,
		"unknown":               false,
	} {
		covered, err := f.coord.IsCovered(ctx, testType)
		require.NoError(t, err)
		assert.Equal(t, want, covered, testType)
	}
}

func TestCreatePing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.hub.Subscribe("watcher", models.Event{Type: models.EventHello})
	drain(client)

	ping, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeMDT, "  table 3 ")
	require.NoError(t, err)
	assert.Equal(t, models.PingOpen, ping.Status)
	assert.Equal(t, "table 3", ping.Note)
	assert.Equal(t, models.Person{ID: "c1", Tag: "c1-tag"}, ping.Requester)

	frames := drain(client)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventPing, decodeFrame(t, frames[0]).Type)

	f.coord.Wait()
	assert.Equal(t, []string{ping.ID}, f.notifier.pings)

	again, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeMDT, "table 3")
	require.NoError(t, err, "duplicate requests are allowed")
	assert.NotEqual(t, ping.ID, again.ID)
}

func TestCreatePingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.CreatePing(ctx, ident("c1", candidate), "cooking", "")
	assert.ErrorIs(t, err, models.ErrValidation)

	long := make([]byte, MaxNoteLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeRadio, string(long))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAcceptPingCapabilityGating(t *testing.T) {
	tests := []struct {
		testType models.TestType
		caps     models.Capabilities
		allowed  bool
	}{
		{models.TestTypeRadio, radioInstructor, true},
		{models.TestTypeRadio, mdtInstructor, false},
		{models.TestTypeRadio, tester, false},
		{models.TestTypeMDT, mdtInstructor, true},
		{models.TestTypeMDT, radioInstructor, false},
		{models.TestTypeMDT, editor, false},
		{models.TestTypeAcademie, tester, true},
		{models.TestTypeAcademie, editor, true},
		{models.TestTypeAcademie, radioInstructor, false},
		{models.TestTypeAcademie, candidate, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%+v", tt.testType, tt.caps), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ping, err := f.coord.CreatePing(ctx, ident("c1", candidate), tt.testType, "")
			require.NoError(t, err)

			accepted, err := f.coord.AcceptPing(ctx, ident("i1", tt.caps), ping.ID)
			if !tt.allowed {
				assert.ErrorIs(t, err, models.ErrForbidden)
				stored, err := f.store.GetPing(ctx, ping.ID)
				require.NoError(t, err)
				assert.Equal(t, models.PingOpen, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.PingAccepted, accepted.Status)
			require.NotNil(t, accepted.AcceptedBy)
			assert.Equal(t, "i1", accepted.AcceptedBy.ID)
		})
	}
}

func TestAcceptPingNotFoundAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.AcceptPing(ctx, ident("i1", radioInstructor), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	ping, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeRadio, "")
	require.NoError(t, err)
	_, err = f.coord.AcceptPing(ctx, ident("i1", radioInstructor), ping.ID)
	require.NoError(t, err)
	_, err = f.coord.AcceptPing(ctx, ident("i2", radioInstructor), ping.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := f.store.GetPing(ctx, ping.ID)
	require.NoError(t, err)
	assert.Equal(t, "i1", stored.AcceptedBy.ID)
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ping, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeRadio, "")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	var wins, conflicts int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.AcceptPing(ctx, ident(fmt.Sprintf("i%d", i), radioInstructor), ping.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case assert.ErrorIs(t, err, models.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(n-1), conflicts)
}

func TestAcceptBroadcastsAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ping, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeRadio, "")
	require.NoError(t, err)

	client := f.hub.Subscribe("watcher", models.Event{Type: models.EventHello})
	drain(client)
	_, err = f.coord.AcceptPing(ctx, ident("i1", radioInstructor), ping.ID)
	require.NoError(t, err)

	frames := drain(client)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventAck, decodeFrame(t, frames[0]).Type)
}

func TestListPingsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.coord.CreatePing(ctx, ident("c1", candidate), models.TestTypeRadio, "")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.coord.CreatePing(ctx, ident("c2", candidate), models.TestTypeMDT, "")
	require.NoError(t, err)
	_, err = f.coord.AcceptPing(ctx, ident("i1", radioInstructor), first.ID)
	require.NoError(t, err)

	all, err := f.coord.ListPings(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	open, err := f.coord.ListPings(ctx, models.PingOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
}

func TestSweepPrunesStaleRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.GoOnDuty(ctx, ident("stale", radioInstructor))
	require.NoError(t, err)
	_, err = f.coord.GoOnDuty(ctx, ident("streaming", mdtInstructor))
	require.NoError(t, err)
	f.hub.Subscribe("streaming", models.Event{Type: models.EventHello})

	f.clock.Advance(2 * time.Hour)
	removed, err := f.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := f.coord.ListDuty(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, f.clock.Now(), records["streaming"].LastSeen)
}

func TestRefreshDuty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.GoOnDuty(ctx, ident("u1", models.Capabilities{CanRadio: true, CanMDT: true}))
	require.NoError(t, err)

	require.NoError(t, f.coord.RefreshDuty(ctx, ident("u1", radioInstructor)))
	records, err := f.coord.ListDuty(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.DutyRole{models.DutyRoleRadio}, records["u1"].Roles)

	require.NoError(t, f.coord.RefreshDuty(ctx, ident("u1", candidate)))
	records, err = f.coord.ListDuty(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// gatedStore holds the first ListDuty call open until released.
type gatedStore struct {
	db.Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (s *gatedStore) ListDuty(ctx context.Context) (map[string]models.DutyRecord, error) {
	records, err := s.Store.ListDuty(ctx)
	s.once.Do(func() {
		close(s.reached)
		<-s.release
	})
	return records, err
}

func TestSubscribeSeesDutyChangedDuringSnapshot(t *testing.T) {
	f := newFixture(t)
	gated := &gatedStore{Store: f.store, reached: make(chan struct{}), release: make(chan struct{})}
	coord := NewCoordinator(gated, f.hub, f.notifier, Options{DutyTTL: time.Hour, Now: f.clock.Now})
	ctx := context.Background()

	subscribed := make(chan *Client, 1)
	go func() {
		client, err := coord.Subscribe(ctx, ident("c1", candidate))
		assert.NoError(t, err)
		subscribed <- client
	}()
	<-gated.reached

	onDuty := make(chan error, 1)
	go func() {
		_, err := coord.GoOnDuty(ctx, ident("u1", radioInstructor))
		onDuty <- err
	}()
	// Give the duty change a chance to land between snapshot and registration.
	time.Sleep(50 * time.Millisecond)
	close(gated.release)

	client := <-subscribed
	require.NotNil(t, client)
	defer coord.Unsubscribe(client)
	require.NoError(t, <-onDuty)

	frames := drain(client)
	require.NotEmpty(t, frames)
	last := decodeFrame(t, frames[len(frames)-1])
	duty := last.Payload.(map[string]interface{})
	if last.Type == models.EventHello {
		duty = duty["duty"].(map[string]interface{})
	}
	assert.Contains(t, duty, "u1")
}

func TestSubscribeGreetsWithDuty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.GoOnDuty(ctx, ident("u1", radioInstructor))
	require.NoError(t, err)

	client, err := f.coord.Subscribe(ctx, ident("c1", candidate))
	require.NoError(t, err)
	defer f.coord.Unsubscribe(client)

	frames := drain(client)
	require.Len(t, frames, 1)
	hello := decodeFrame(t, frames[0])
	assert.Equal(t, models.EventHello, hello.Type)
	payload := hello.Payload.(map[string]interface{})
	assert.Equal(t, "c1", payload["userId"])
	assert.Contains(t, payload["duty"], "u1")
}
