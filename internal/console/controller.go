// Package console is the admin console state machine. It routes logins
// through the lockout guard, gates access on the session flag, loads site
// settings and packages, and drives per-field saves.
package console

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unnet/isp-console/internal/fieldsync"
	"github.com/unnet/isp-console/internal/lockout"
	"github.com/unnet/isp-console/internal/metrics"
	"github.com/unnet/isp-console/internal/plan/entity"
	"github.com/unnet/isp-console/internal/session"
	sentity "github.com/unnet/isp-console/internal/setting/entity"
)

type State int

const (
	LoggedOutIdle State = iota
	LoggedOutLocked
	LoggedInLoading
	LoggedInReady
)

func (s State) String() string {
	switch s {
	case LoggedOutIdle:
		return "logged_out.idle"
	case LoggedOutLocked:
		return "logged_out.locked"
	case LoggedInLoading:
		return "logged_in.loading"
	case LoggedInReady:
		return "logged_in.ready"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) LoggedIn() bool {
	return s == LoggedInLoading || s == LoggedInReady
}

// FieldNewPackage is the tracker id of the package creation form.
const FieldNewPackage = "new_package"

// PackageField is the tracker id of the delete action of one package.
func PackageField(id int64) string {
	return "package:" + strconv.FormatInt(id, 10)
}

type SettingsRepo interface {
	List(ctx context.Context) ([]sentity.Setting, error)
	Save(ctx context.Context, key, value string) error
}

type PackagesRepo interface {
	List(ctx context.Context) ([]entity.Package, error)
	Create(ctx context.Context, p entity.Package) error
	Delete(ctx context.Context, id int64) error
}

// Confirmer asks the operator to confirm deleting p.
type Confirmer func(p entity.Package) bool

type Deps struct {
	Guard    *lockout.Guard
	Session  *session.Flag
	Tracker  *fieldsync.Tracker
	Settings SettingsRepo
	Packages PackagesRepo
	Clock    clockwork.Clock
	Logger   *zap.SugaredLogger
}

// Snapshot is a consistent copy of what the console shows.
type Snapshot struct {
	State             State                       `json:"state"`
	AttemptsRemaining int                         `json:"attempts_remaining"`
	LockRemaining     int                         `json:"lock_remaining_seconds"`
	Settings          map[string]string           `json:"settings,omitempty"`
	Statuses          map[string]fieldsync.Status `json:"field_statuses,omitempty"`
	Packages          []entity.Package            `json:"packages,omitempty"`
	Draft             entity.Draft                `json:"-"`
}

// Controller is safe for concurrent use. Network work runs in the
// background; methods that start it return a channel closed on completion.
type Controller struct {
	guard    *lockout.Guard
	session  *session.Flag
	tracker  *fieldsync.Tracker
	settings SettingsRepo
	packages PackagesRepo
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	listener atomic.Pointer[Listener]

	mu                sync.Mutex
	ctx               context.Context
	state             State
	epoch             uint64
	loadSeq           uint64
	attemptsRemaining int
	lockRemaining     int
	countdown         *lockout.Countdown
	countdownGen      uint64
	packs             []entity.Package
	draft             entity.Draft
}

func New(d Deps) *Controller {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	c := &Controller{
		guard:    d.Guard,
		session:  d.Session,
		tracker:  d.Tracker,
		settings: d.Settings,
		packages: d.Packages,
		clock:    d.Clock,
		logger:   d.Logger,
		ctx:      context.Background(),
	}
	c.tracker.SetListener(func(id string, st fieldsync.Status, err error) {
		c.emit(FieldStatus{Field: id, Status: st, Err: err})
	})
	return c
}

func (c *Controller) SetListener(l Listener) {
	c.listener.Store(&l)
}

func (c *Controller) emit(events ...Event) {
	l := c.listener.Load()
	if l == nil || *l == nil {
		return
	}
	for _, e := range events {
		(*l)(e)
	}
}

// setState must be called with c.mu held.
func (c *Controller) setState(to State, events []Event) []Event {
	if c.state == to {
		return events
	}
	from := c.state
	c.state = to
	metrics.SetLocked(to == LoggedOutLocked)
	c.logger.Debugw("console state", "from", from.String(), "to", to.String())
	return append(events, StateChanged{From: from, To: to})
}

// Start picks the initial state from the session flag. When the flag is set
// the returned channel closes once the first load finishes.
func (c *Controller) Start(ctx context.Context) (<-chan struct{}, error) {
	authenticated, err := c.session.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	st, err := c.guard.Status(ctx, c.clock.Now())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ctx = ctx
	c.attemptsRemaining = st.AttemptsRemaining
	if !authenticated {
		c.mu.Unlock()
		return closed(), nil
	}
	c.epoch++
	events := c.setState(LoggedInLoading, nil)
	done := c.beginLoadLocked()
	c.mu.Unlock()

	c.logger.Infow("resuming authenticated session")
	c.emit(events...)
	return done, nil
}

// Submit evaluates a login. On acceptance the returned channel closes once
// the initial load finishes; otherwise it is nil.
func (c *Controller) Submit(ctx context.Context, password string) (lockout.Result, <-chan struct{}, error) {
	c.mu.Lock()
	if c.state.LoggedIn() {
		c.mu.Unlock()
		return lockout.Result{}, nil, ErrAlreadyLoggedIn
	}
	now := c.clock.Now()
	res, err := c.guard.Attempt(ctx, password, now)
	if err != nil {
		c.mu.Unlock()
		return lockout.Result{}, nil, err
	}
	metrics.ObserveLogin(res.Outcome.String())

	var events []Event
	var done <-chan struct{}
	switch res.Outcome {
	case lockout.Accepted:
		if err := c.session.Set(ctx, true); err != nil {
			c.mu.Unlock()
			return lockout.Result{}, nil, err
		}
		c.stopCountdownLocked()
		c.attemptsRemaining = c.guard.MaxFailed
		c.epoch++
		events = c.setState(LoggedInLoading, events)
		done = c.beginLoadLocked()
	case lockout.Rejected:
		c.stopCountdownLocked()
		c.attemptsRemaining = res.AttemptsRemaining
		events = c.setState(LoggedOutIdle, events)
	case lockout.Locked:
		c.attemptsRemaining = 0
		c.lockRemaining = res.RemainingSeconds
		if c.countdown == nil {
			st, err := c.guard.Status(ctx, now)
			if err != nil {
				c.mu.Unlock()
				return lockout.Result{}, nil, err
			}
			c.startCountdownLocked(st)
		}
		events = c.setState(LoggedOutLocked, events)
	}
	c.mu.Unlock()

	c.emit(events...)
	return res, done, nil
}

// startCountdownLocked must be called with c.mu held.
func (c *Controller) startCountdownLocked(st lockout.Status) {
	c.countdownGen++
	gen := c.countdownGen
	c.countdown = lockout.StartCountdown(c.clock, st.LockedUntil, func(remaining int) {
		c.tick(gen, remaining)
	})
}

// stopCountdownLocked must be called with c.mu held.
func (c *Controller) stopCountdownLocked() {
	c.countdownGen++
	c.lockRemaining = 0
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) tick(gen uint64, remaining int) {
	c.mu.Lock()
	if gen != c.countdownGen {
		c.mu.Unlock()
		return
	}
	c.lockRemaining = remaining
	events := []Event{CountdownTick{Remaining: remaining}}
	if remaining == 0 {
		c.stopCountdownLocked()
		// persist the reset so the next attempt starts from a clean count
		st, err := c.guard.Status(c.ctx, c.clock.Now())
		if err != nil {
			c.logger.Warnw("could not clear expired lock", "error", err)
			st.AttemptsRemaining = c.guard.MaxFailed
		}
		c.attemptsRemaining = st.AttemptsRemaining
		events = c.setState(LoggedOutIdle, events)
		c.logger.Infow("login lock expired")
	}
	c.mu.Unlock()
	c.emit(events...)
}

// Logout returns to LoggedOut.Idle and clears the session flag. The lockout
// state is not touched.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.LoggedIn() {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	if err := c.session.Set(ctx, false); err != nil {
		c.mu.Unlock()
		return err
	}
	c.epoch++
	c.tracker.Reset()
	c.packs = nil
	c.draft = entity.Draft{}
	events := c.setState(LoggedOutIdle, nil)
	c.mu.Unlock()

	c.logger.Infow("logged out")
	c.emit(events...)
	return nil
}

// Refresh re-fetches settings and packages wholesale. Only valid in Ready.
func (c *Controller) Refresh(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	switch c.state {
	case LoggedInReady:
	case LoggedInLoading:
		c.mu.Unlock()
		return nil, ErrLoading
	default:
		c.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	c.ctx = ctx
	events := c.setState(LoggedInLoading, nil)
	done := c.beginLoadLocked()
	c.mu.Unlock()

	c.emit(events...)
	return done, nil
}

// beginLoadLocked must be called with c.mu held and the state set to Loading.
func (c *Controller) beginLoadLocked() <-chan struct{} {
	c.loadSeq++
	epoch, seq, ctx := c.epoch, c.loadSeq, c.ctx
	done := make(chan struct{})
	go func() {
		defer close(done)
		settings, packs, err := c.fetch(ctx)
		c.finishLoad(epoch, seq, settings, packs, err)
	}()
	return done
}

func (c *Controller) fetch(ctx context.Context) ([]sentity.Setting, []entity.Package, error) {
	var (
		settings []sentity.Setting
		packs    []entity.Package
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		settings, err = c.settings.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		packs, err = c.packages.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return settings, packs, nil
}

func (c *Controller) finishLoad(epoch, seq uint64, settings []sentity.Setting, packs []entity.Package, err error) {
	c.mu.Lock()
	if epoch != c.epoch || seq != c.loadSeq || c.state != LoggedInLoading {
		c.mu.Unlock()
		c.logger.Debugw("discarding stale load")
		return
	}
	var events []Event
	if err != nil {
		// the view stays usable with whatever it had; refresh retries
		c.logger.Errorw("load failed", "error", err)
		events = append(events, Alert{Message: "could not load data from the server", Err: err})
	} else {
		c.tracker.Replace(sentity.ToMap(settings))
		c.packs = packs
		c.logger.Infow("data loaded", "settings", len(settings), "packages", len(packs))
	}
	events = c.setState(LoggedInReady, events)
	c.mu.Unlock()
	c.emit(events...)
}

func (c *Controller) loggedIn() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.LoggedIn() {
		return 0, ErrNotLoggedIn
	}
	return c.epoch, nil
}

// Edit changes a setting locally without saving it.
func (c *Controller) Edit(key, value string) error {
	if _, err := c.loggedIn(); err != nil {
		return err
	}
	return c.tracker.Edit(key, value)
}

// SetSetting applies value optimistically and writes it.
func (c *Controller) SetSetting(ctx context.Context, key, value string) (<-chan struct{}, error) {
	if _, err := c.loggedIn(); err != nil {
		return nil, err
	}
	return c.tracker.Save(ctx, key, value, c.writeSetting(key))
}

// SaveSetting writes the current local value of key.
func (c *Controller) SaveSetting(ctx context.Context, key string) (<-chan struct{}, error) {
	if _, err := c.loggedIn(); err != nil {
		return nil, err
	}
	value, _ := c.tracker.Value(key)
	return c.tracker.Save(ctx, key, value, c.writeSetting(key))
}

func (c *Controller) writeSetting(key string) fieldsync.WriteFunc {
	return func(ctx context.Context, value string) error {
		err := c.settings.Save(ctx, key, value)
		metrics.ObserveSave(err)
		return err
	}
}

// ImportMap parses an embed snippet into the two map settings locally.
func (c *Controller) ImportMap(input string) (sentity.MapLinks, error) {
	if _, err := c.loggedIn(); err != nil {
		return sentity.MapLinks{}, err
	}
	links, err := sentity.ParseMapEmbed(input)
	if err != nil {
		return sentity.MapLinks{}, err
	}
	if err := c.tracker.Edit(sentity.KeyMapEmbedURL, links.EmbedURL); err != nil {
		return sentity.MapLinks{}, err
	}
	if links.DirectURL != "" {
		if err := c.tracker.Edit(sentity.KeyMapDirectURL, links.DirectURL); err != nil {
			return sentity.MapLinks{}, err
		}
	}
	return links, nil
}

// SaveMap saves both map settings as two independent field saves.
func (c *Controller) SaveMap(ctx context.Context) (<-chan struct{}, error) {
	var (
		waits []<-chan struct{}
		errs  []error
	)
	for _, key := range []string{sentity.KeyMapEmbedURL, sentity.KeyMapDirectURL} {
		done, err := c.SaveSetting(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		waits = append(waits, done)
	}
	if len(waits) == 0 {
		return nil, errors.Join(errs...)
	}
	return all(waits...), errors.Join(errs...)
}

// SetDraft sets one field of the package creation form.
func (c *Controller) SetDraft(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.LoggedIn() {
		return ErrNotLoggedIn
	}
	return c.draft.Set(field, value)
}

// AddPackage validates and submits the draft. On success the draft is
// cleared and the package list re-fetched; on failure the draft is kept.
func (c *Controller) AddPackage(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if !c.state.LoggedIn() {
		c.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	draft, epoch := c.draft, c.epoch
	c.mu.Unlock()

	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return c.packageWrite(ctx, FieldNewPackage, epoch, func(ctx context.Context) error {
		return c.packages.Create(ctx, draft.Package())
	}, func() {
		c.draft = entity.Draft{}
	})
}

// DeletePackage removes a package after confirm approves it. Without
// approval nothing is sent.
func (c *Controller) DeletePackage(ctx context.Context, id int64, confirm Confirmer) (<-chan struct{}, error) {
	c.mu.Lock()
	if !c.state.LoggedIn() {
		c.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	var (
		target entity.Package
		found  bool
	)
	for _, p := range c.packs {
		if p.ID != nil && *p.ID == id {
			target, found = p, true
			break
		}
	}
	epoch := c.epoch
	c.mu.Unlock()

	if !found {
		return nil, ErrUnknownPackage
	}
	if confirm == nil || !confirm(target) {
		return nil, ErrNotConfirmed
	}
	return c.packageWrite(ctx, PackageField(id), epoch, func(ctx context.Context) error {
		return c.packages.Delete(ctx, id)
	}, nil)
}

// packageWrite runs a package mutation under the tracker and, on success,
// runs onSuccess under c.mu and re-fetches the package list.
func (c *Controller) packageWrite(ctx context.Context, field string, epoch uint64, write func(context.Context) error, onSuccess func()) (<-chan struct{}, error) {
	var writeErr error
	tracked, err := c.tracker.Run(ctx, field, func(ctx context.Context) error {
		writeErr = write(ctx)
		metrics.ObserveSave(writeErr)
		return writeErr
	})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-tracked
		if writeErr != nil {
			return
		}
		c.mu.Lock()
		stale := epoch != c.epoch
		if !stale && onSuccess != nil {
			onSuccess()
		}
		c.mu.Unlock()
		if !stale {
			c.reloadPackages(ctx, epoch)
		}
	}()
	return done, nil
}

func (c *Controller) reloadPackages(ctx context.Context, epoch uint64) {
	packs, err := c.packages.List(ctx)
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Errorw("package reload failed", "error", err)
		c.emit(Alert{Message: "could not reload packages", Err: err})
		return
	}
	c.packs = packs
	c.mu.Unlock()
}

// Snapshot returns a copy of the console view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:             c.state,
		AttemptsRemaining: c.attemptsRemaining,
		LockRemaining:     c.lockRemaining,
		Draft:             c.draft,
	}
	if c.state.LoggedIn() {
		s.Settings = c.tracker.Snapshot()
		s.Statuses = c.tracker.Statuses()
		s.Packages = append([]entity.Package(nil), c.packs...)
	}
	return s
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the countdown, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopCountdownLocked()
	c.mu.Unlock()
}

func closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func all(waits ...<-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, w := range waits {
			<-w
		}
	}()
	return done
}
