package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unnet/isp-console/internal/apiclient"
	"github.com/unnet/isp-console/internal/fieldsync"
	"github.com/unnet/isp-console/internal/kvstore"
	"github.com/unnet/isp-console/internal/lockout"
	"github.com/unnet/isp-console/internal/plan/entity"
	"github.com/unnet/isp-console/internal/session"
	sentity "github.com/unnet/isp-console/internal/setting/entity"
)

const secret = "admin123"

var errDown = &apiclient.StatusError{Method: "POST", Path: "settings", Status: 503}

// backend is an in-memory stand-in for the site API.
type backend struct {
	mu         sync.Mutex
	settings   map[string]string
	order      []string
	packs      []entity.Package
	nextID     int64
	calls      []string
	failList   error
	failSave   error
	failCreate error
	failDelete error
	saveGate   chan struct{}
}

func newBackend() *backend {
	b := &backend{settings: map[string]string{}, nextID: 1}
	b.put("site_title", "Unnet")
	b.put("email", "noc@unnet.example")
	b.addPack("Home 20", "20 Mbps", "Rp 200.000", "Unlimited")
	return b
}

func (b *backend) put(k, v string) {
	if _, ok := b.settings[k]; !ok {
		b.order = append(b.order, k)
	}
	b.settings[k] = v
}

func (b *backend) addPack(name, speed, price string, features ...string) {
	id := b.nextID
	b.nextID++
	b.packs = append(b.packs, entity.Package{ID: &id, Name: name, Speed: speed, Price: price, Features: features})
}

func (b *backend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type settingsAPI struct{ *backend }

func (s settingsAPI) List(ctx context.Context) ([]sentity.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GET /settings")
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]sentity.Setting, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, sentity.Setting{Key: k, Value: s.settings[k]})
	}
	return out, nil
}

func (s settingsAPI) Save(ctx context.Context, key, value string) error {
	s.mu.Lock()
	gate := s.saveGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("POST /settings " + key)
	if s.failSave != nil {
		return s.failSave
	}
	s.put(key, value)
	return nil
}

type packagesAPI struct{ *backend }

func (p packagesAPI) List(ctx context.Context) ([]entity.Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("GET /packages")
	if p.failList != nil {
		return nil, p.failList
	}
	return append([]entity.Package(nil), p.packs...), nil
}

func (p packagesAPI) Create(ctx context.Context, pkg entity.Package) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("POST /packages")
	if p.failCreate != nil {
		return p.failCreate
	}
	p.addPack(pkg.Name, pkg.Speed, pkg.Price, pkg.Features...)
	return nil
}

func (p packagesAPI) Delete(ctx context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("DELETE /packages")
	if p.failDelete != nil {
		return p.failDelete
	}
	kept := p.packs[:0]
	for _, pkg := range p.packs {
		if *pkg.ID != id {
			kept = append(kept, pkg)
		}
	}
	p.packs = kept
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ticks  chan int
}

func (l *eventLog) listen(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	if t, ok := e.(CountdownTick); ok {
		l.ticks <- t.Remaining
	}
}

func (l *eventLog) alerts() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Alert
	for _, e := range l.events {
		if a, ok := e.(Alert); ok {
			out = append(out, a)
		}
	}
	return out
}

func (l *eventLog) fieldStatuses(field string) []fieldsync.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []fieldsync.Status
	for _, e := range l.events {
		if fs, ok := e.(FieldStatus); ok && fs.Field == field {
			out = append(out, fs.Status)
		}
	}
	return out
}

type harness struct {
	c       *Controller
	clock   *clockwork.FakeClock
	store   *kvstore.Memory
	backend *backend
	log     *eventLog
}

func newHarness(t *testing.T, store *kvstore.Memory) *harness {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemory()
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	b := newBackend()
	c := New(Deps{
		Guard:    lockout.NewGuard(lockout.NewCounter(store), lockout.PlainSecret(secret), nil),
		Session:  session.NewFlag(store),
		Tracker:  fieldsync.New(clock, 2*time.Second, nil),
		Settings: settingsAPI{b},
		Packages: packagesAPI{b},
		Clock:    clock,
	})
	log := &eventLog{ticks: make(chan int, 512)}
	c.SetListener(log.listen)
	t.Cleanup(c.Close)
	return &harness{c: c, clock: clock, store: store, backend: b, log: log}
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	res, done, err := h.c.Submit(context.Background(), secret)
	require.NoError(t, err)
	require.Equal(t, lockout.Accepted, res.Outcome)
	wait(t, done)
	require.Equal(t, LoggedInReady, h.c.State())
}

func TestController_StartsLoggedOut(t *testing.T) {
	h := newHarness(t, nil)
	done, err := h.c.Start(context.Background())
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedOutIdle, snap.State)
	assert.Equal(t, 3, snap.AttemptsRemaining)
	assert.Nil(t, snap.Settings)
	assert.Empty(t, h.backend.Calls())
}

func TestController_StartResumesSession(t *testing.T) {
	store := kvstore.NewMemory()
	require.NoError(t, session.NewFlag(store).Set(context.Background(), true))
	h := newHarness(t, store)

	done, err := h.c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoggedInLoading, h.c.State())
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedInReady, snap.State)
	assert.Equal(t, "Unnet", snap.Settings["site_title"])
	assert.Len(t, snap.Packages, 1)
}

func TestController_LoginAccepted(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.Start(context.Background())
	require.NoError(t, err)

	h.login(t)

	ok, err := session.NewFlag(h.store).Authenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"GET /settings", "GET /packages"}, h.backend.Calls())

	_, _, err = h.c.Submit(context.Background(), secret)
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)
}

func TestController_LoginRejected(t *testing.T) {
	h := newHarness(t, nil)

	res, done, err := h.c.Submit(context.Background(), "wrong")
	require.NoError(t, err)
	assert.Nil(t, done)
	assert.Equal(t, lockout.Result{Outcome: lockout.Rejected, AttemptsRemaining: 2}, res)
	assert.ErrorIs(t, res.Err(), ErrInvalidCredentials)
	assert.Equal(t, LoggedOutIdle, h.c.State())
	assert.Equal(t, 2, h.c.Snapshot().AttemptsRemaining)
}

func TestController_LockoutCountdownReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := h.c.Submit(ctx, "wrong")
		require.NoError(t, err)
	}
	res, _, err := h.c.Submit(ctx, "wrong")
	require.NoError(t, err)
	assert.Equal(t, lockout.Result{Outcome: lockout.Locked, RemainingSeconds: 300}, res)
	assert.ErrorIs(t, res.Err(), ErrAccountLocked)
	assert.Equal(t, LoggedOutLocked, h.c.State())

	// locked: even the right password is refused and nothing is counted
	res, _, err = h.c.Submit(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, lockout.Locked, res.Outcome)
	v, _, _ := h.store.Get(ctx, lockout.KeyAttempts)
	assert.Equal(t, "3", v)

	prev := 301
	for prev > 0 {
		bctx, cancel := context.WithTimeout(ctx, time.Second)
		require.NoError(t, h.clock.BlockUntilContext(bctx, 1))
		cancel()
		h.clock.Advance(time.Second)

		select {
		case rem := <-h.log.ticks:
			require.Less(t, rem, prev)
			prev = rem
		case <-time.After(time.Second):
			t.Fatalf("no tick after %d", prev)
		}
	}

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedOutIdle, snap.State)
	assert.Equal(t, 3, snap.AttemptsRemaining)
	assert.Equal(t, 0, snap.LockRemaining)

	_, ok, _ := h.store.Get(ctx, lockout.KeyLockUntil)
	assert.False(t, ok)

	res, done, err := h.c.Submit(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, lockout.Accepted, res.Outcome)
	wait(t, done)
}

func TestController_StartIgnoresPersistedLock(t *testing.T) {
	store := kvstore.NewMemory()
	h := newHarness(t, store)
	for i := 0; i < 3; i++ {
		_, _, err := h.c.Submit(context.Background(), "wrong")
		require.NoError(t, err)
	}

	// a fresh controller over the same store, as after a restart
	h2 := newHarness(t, store)
	h2.clock.Advance(time.Minute)
	_, err := h2.c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoggedOutIdle, h2.c.State())

	res, _, err := h2.c.Submit(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, lockout.Locked, res.Outcome)
	assert.Equal(t, 240, res.RemainingSeconds)
	assert.Equal(t, LoggedOutLocked, h2.c.State())
}

func TestController_SaveSettingScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.saveGate = gate
	h.backend.mu.Unlock()

	done, err := h.c.SetSetting(context.Background(), "site_title", "NewName")
	require.NoError(t, err)
	assert.Equal(t, "NewName", h.c.Snapshot().Settings["site_title"])
	assert.Equal(t, fieldsync.Pending, h.c.Snapshot().Statuses["site_title"])

	close(gate)
	wait(t, done)
	assert.Equal(t, fieldsync.Succeeded, h.c.Snapshot().Statuses["site_title"])

	bctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(bctx, 1))
	h.clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return len(h.log.fieldStatuses("site_title")) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []fieldsync.Status{fieldsync.Pending, fieldsync.Succeeded, fieldsync.Idle}, h.log.fieldStatuses("site_title"))
	assert.Equal(t, "NewName", h.c.Snapshot().Settings["site_title"])
}

func TestController_SaveFailureKeepsEdit(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.backend.failSave = errDown

	require.NoError(t, h.c.Edit("email", "sales@unnet.example"))
	done, err := h.c.SaveSetting(context.Background(), "email")
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, fieldsync.Failed, snap.Statuses["email"])
	assert.Equal(t, "sales@unnet.example", snap.Settings["email"])
	assert.Equal(t, LoggedInReady, snap.State)
	assert.ErrorIs(t, h.c.tracker.Err("email"), ErrNetworkFailure)
}

func TestController_RefreshSkipsPendingField(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.saveGate = gate
	h.backend.mu.Unlock()

	saved, err := h.c.SetSetting(context.Background(), "site_title", "NewName")
	require.NoError(t, err)

	h.backend.mu.Lock()
	h.backend.settings["email"] = "changed@unnet.example"
	h.backend.mu.Unlock()

	done, err := h.c.Refresh(context.Background())
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedInReady, snap.State)
	assert.Equal(t, "NewName", snap.Settings["site_title"])
	assert.Equal(t, fieldsync.Pending, snap.Statuses["site_title"])
	assert.Equal(t, "changed@unnet.example", snap.Settings["email"])

	close(gate)
	wait(t, saved)
}

func TestController_RefreshOnlyFromReady(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	h.login(t)
	done, err := h.c.Refresh(context.Background())
	require.NoError(t, err)
	_, err = h.c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrLoading)
	wait(t, done)
}

func TestController_LoadFailureAlertsAndStaysUsable(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	h.backend.mu.Lock()
	h.backend.failList = errDown
	h.backend.mu.Unlock()

	done, err := h.c.Refresh(context.Background())
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedInReady, snap.State)
	assert.Equal(t, "Unnet", snap.Settings["site_title"], "previous data is kept")
	require.Len(t, h.log.alerts(), 1)
	assert.ErrorIs(t, h.log.alerts()[0].Err, ErrNetworkFailure)

	h.backend.mu.Lock()
	h.backend.failList = nil
	h.backend.mu.Unlock()
	done, err = h.c.Refresh(context.Background())
	require.NoError(t, err)
	wait(t, done)
	assert.Len(t, h.log.alerts(), 1)
}

func TestController_LogoutDiscardsLateSave(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.saveGate = gate
	h.backend.mu.Unlock()

	saved, err := h.c.SetSetting(context.Background(), "tagline", "Fast and stable")
	require.NoError(t, err)

	require.NoError(t, h.c.Logout(context.Background()))
	assert.Equal(t, LoggedOutIdle, h.c.State())
	ok, _ := session.NewFlag(h.store).Authenticated(context.Background())
	assert.False(t, ok)

	close(gate)
	wait(t, saved)

	snap := h.c.Snapshot()
	assert.Equal(t, LoggedOutIdle, snap.State)
	assert.Nil(t, snap.Settings)
	assert.Equal(t, []fieldsync.Status{fieldsync.Pending}, h.log.fieldStatuses("tagline"))

	assert.ErrorIs(t, h.c.Logout(context.Background()), ErrNotLoggedIn)
}

func TestController_LogoutKeepsLockoutState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, _, err := h.c.Submit(ctx, "wrong")
	require.NoError(t, err)
	h.login(t)

	require.NoError(t, h.c.Logout(ctx))

	res, _, err := h.c.Submit(ctx, "wrong")
	require.NoError(t, err)
	assert.Equal(t, 2, res.AttemptsRemaining, "login success reset the count; logout did not touch it")
}

func TestController_AddPackage(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	ctx := context.Background()

	require.NoError(t, h.c.SetDraft(entity.FieldName, "Home 50"))
	_, err := h.c.AddPackage(ctx)
	assert.ErrorIs(t, err, ErrValidationFailure)
	assert.NotContains(t, h.backend.Calls(), "POST /packages")

	require.NoError(t, h.c.SetDraft(entity.FieldSpeed, "50 Mbps"))
	require.NoError(t, h.c.SetDraft(entity.FieldPrice, "Rp 350.000"))
	require.NoError(t, h.c.SetDraft(entity.FieldFeatures, "Unlimited, , Router "))

	done, err := h.c.AddPackage(ctx)
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	require.Len(t, snap.Packages, 2)
	assert.Equal(t, "Home 50", snap.Packages[1].Name)
	assert.Equal(t, []string{"Unlimited", "Router"}, snap.Packages[1].Features)
	assert.NotNil(t, snap.Packages[1].ID)
	assert.Equal(t, entity.Draft{}, snap.Draft)
}

func TestController_AddPackageFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.backend.failCreate = errDown

	for f, v := range map[string]string{entity.FieldName: "Biz", entity.FieldSpeed: "100 Mbps", entity.FieldPrice: "Rp 1.000.000"} {
		require.NoError(t, h.c.SetDraft(f, v))
	}
	done, err := h.c.AddPackage(context.Background())
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Equal(t, "Biz", snap.Draft.Name)
	assert.Len(t, snap.Packages, 1)
	assert.Equal(t, fieldsync.Failed, snap.Statuses[FieldNewPackage])
}

func TestController_DeleteRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	before := h.backend.Calls()

	_, err := h.c.DeletePackage(context.Background(), 1, func(entity.Package) bool { return false })
	assert.ErrorIs(t, err, ErrNotConfirmed)
	_, err = h.c.DeletePackage(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	assert.Equal(t, before, h.backend.Calls())
	assert.Len(t, h.c.Snapshot().Packages, 1)
}

func TestController_DeletePackage(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	var asked entity.Package
	done, err := h.c.DeletePackage(context.Background(), 1, func(p entity.Package) bool {
		asked = p
		return true
	})
	require.NoError(t, err)
	wait(t, done)

	assert.Equal(t, "Home 20", asked.Name)
	assert.Empty(t, h.c.Snapshot().Packages)

	_, err = h.c.DeletePackage(context.Background(), 1, func(entity.Package) bool { return true })
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestController_DeleteFailureLeavesList(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.backend.failDelete = errors.New("connection refused")

	done, err := h.c.DeletePackage(context.Background(), 1, func(entity.Package) bool { return true })
	require.NoError(t, err)
	wait(t, done)

	snap := h.c.Snapshot()
	assert.Len(t, snap.Packages, 1)
	assert.Equal(t, fieldsync.Failed, snap.Statuses[PackageField(1)])
}

func TestController_ImportAndSaveMap(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	_, err := h.c.ImportMap("https://maps.example.com/x")
	assert.ErrorIs(t, err, sentity.ErrNotMapEmbed)

	links, err := h.c.ImportMap(`<iframe src="https://www.google.com/maps/embed?pb=!2d111.76!3d-7.26!5e0"></iframe>`)
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/search/?api=1&query=-7.26,111.76", links.DirectURL)

	done, err := h.c.SaveMap(context.Background())
	require.NoError(t, err)
	wait(t, done)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	assert.Equal(t, links.EmbedURL, h.backend.settings[sentity.KeyMapEmbedURL])
	assert.Equal(t, links.DirectURL, h.backend.settings[sentity.KeyMapDirectURL])
}

func TestController_EditsRequireLogin(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.c.Edit("email", "x"), ErrNotLoggedIn)
	_, err := h.c.SetSetting(context.Background(), "email", "x")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, h.c.SetDraft(entity.FieldName, "x"), ErrNotLoggedIn)
	_, err = h.c.AddPackage(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = h.c.SaveMap(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}
