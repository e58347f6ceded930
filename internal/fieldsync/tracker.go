// Package fieldsync tracks optimistic saves of independently editable
// fields. Every field carries its own status: Idle, Pending, Succeeded or
// Failed. A failed save keeps the value the user entered.
package fieldsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrInFlight is returned when a field already has a pending write.
var ErrInFlight = errors.New("save already in progress for this field")

type Status int

const (
	Idle Status = iota
	Pending
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Succeeded:
		return "saved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WriteFunc performs the remote write of value for one field.
type WriteFunc func(ctx context.Context, value string) error

// Listener is told about every status change. It is never called with the
// tracker's lock held.
type Listener func(id string, status Status, err error)

type field struct {
	value    string
	hasValue bool
	status   Status
	err      error
	seq      uint64
	revert   clockwork.Timer
}

func (f *field) stopRevert() {
	if f.revert != nil {
		f.revert.Stop()
		f.revert = nil
	}
}

type change struct {
	id     string
	status Status
	err    error
}

// Tracker owns the local value and sync status of every field.
type Tracker struct {
	clock  clockwork.Clock
	window time.Duration
	logger *zap.SugaredLogger

	mu       sync.Mutex
	fields   map[string]*field
	epoch    uint64
	listener Listener
}

// New returns a tracker whose success badge reverts to Idle after window.
// A zero window keeps Succeeded until the field changes again.
func New(clock clockwork.Clock, window time.Duration, logger *zap.SugaredLogger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{
		clock:  clock,
		window: window,
		logger: logger,
		fields: make(map[string]*field),
	}
}

func (t *Tracker) SetListener(l Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *Tracker) get(id string) *field {
	f, ok := t.fields[id]
	if !ok {
		f = &field{}
		t.fields[id] = f
	}
	return f
}

func (t *Tracker) notify(l Listener, changes []change) {
	if l == nil {
		return
	}
	for _, c := range changes {
		l(c.id, c.status, c.err)
	}
}

// Value returns the local value of a field.
func (t *Tracker) Value(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fields[id]
	if !ok || !f.hasValue {
		return "", false
	}
	return f.value, true
}

func (t *Tracker) Status(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.fields[id]; ok {
		return f.status
	}
	return Idle
}

// Err returns the error of the last failed write, if the field is Failed.
func (t *Tracker) Err(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.fields[id]; ok {
		return f.err
	}
	return nil
}

// Snapshot returns a copy of all local values.
func (t *Tracker) Snapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.fields))
	for id, f := range t.fields {
		if f.hasValue {
			out[id] = f.value
		}
	}
	return out
}

// Statuses returns the status of every field that is not Idle.
func (t *Tracker) Statuses() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status)
	for id, f := range t.fields {
		if f.status != Idle {
			out[id] = f.status
		}
	}
	return out
}

// Edit changes the local value without writing it.
func (t *Tracker) Edit(id, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.get(id)
	if f.status == Pending {
		return ErrInFlight
	}
	f.value = value
	f.hasValue = true
	return nil
}

// Replace installs a fresh server snapshot. Fields with a pending write keep
// their optimistic value and status; every other field takes the snapshot
// value and returns to Idle. Value fields missing from the snapshot are
// dropped unless pending.
func (t *Tracker) Replace(values map[string]string) {
	t.mu.Lock()
	var changes []change
	for id, f := range t.fields {
		if !f.hasValue || f.status == Pending {
			continue
		}
		if _, ok := values[id]; !ok {
			f.stopRevert()
			delete(t.fields, id)
		}
	}
	for id, v := range values {
		f := t.get(id)
		if f.status == Pending {
			t.logger.Debugw("refresh skipped pending field", "field", id)
			continue
		}
		f.stopRevert()
		f.value = v
		f.hasValue = true
		f.err = nil
		f.seq++
		if f.status != Idle {
			f.status = Idle
			changes = append(changes, change{id: id, status: Idle})
		}
	}
	l := t.listener
	t.mu.Unlock()
	t.notify(l, changes)
}

// Save applies value locally, marks the field Pending and runs write in the
// background. The returned channel is closed once the outcome is recorded.
func (t *Tracker) Save(ctx context.Context, id, value string, write WriteFunc) (<-chan struct{}, error) {
	return t.start(ctx, id, &value, func(ctx context.Context) error { return write(ctx, value) })
}

// Run tracks a write that has no local value of its own, such as creating
// or deleting a record.
func (t *Tracker) Run(ctx context.Context, id string, write func(ctx context.Context) error) (<-chan struct{}, error) {
	return t.start(ctx, id, nil, write)
}

func (t *Tracker) start(ctx context.Context, id string, value *string, write func(ctx context.Context) error) (<-chan struct{}, error) {
	t.mu.Lock()
	f := t.get(id)
	if f.status == Pending {
		t.mu.Unlock()
		return nil, ErrInFlight
	}
	f.stopRevert()
	if value != nil {
		f.value = *value
		f.hasValue = true
	}
	f.status = Pending
	f.err = nil
	f.seq++
	epoch, seq := t.epoch, f.seq
	l := t.listener
	t.mu.Unlock()
	t.notify(l, []change{{id: id, status: Pending}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := write(ctx)
		t.complete(id, epoch, seq, err)
	}()
	return done, nil
}

func (t *Tracker) complete(id string, epoch, seq uint64, err error) {
	t.mu.Lock()
	f, ok := t.fields[id]
	if epoch != t.epoch || !ok || f.seq != seq {
		t.mu.Unlock()
		t.logger.Debugw("discarding stale save result", "field", id, "error", err)
		return
	}
	var c change
	if err != nil {
		f.status = Failed
		f.err = err
		c = change{id: id, status: Failed, err: err}
		t.logger.Warnw("save failed", "field", id, "error", err)
	} else {
		f.status = Succeeded
		c = change{id: id, status: Succeeded}
		if t.window > 0 {
			f.revert = t.clock.AfterFunc(t.window, func() { t.revertBadge(id, epoch, seq) })
		}
		t.logger.Infow("save succeeded", "field", id)
	}
	l := t.listener
	t.mu.Unlock()
	t.notify(l, []change{c})
}

func (t *Tracker) revertBadge(id string, epoch, seq uint64) {
	t.mu.Lock()
	f, ok := t.fields[id]
	if epoch != t.epoch || !ok || f.seq != seq || f.status != Succeeded {
		t.mu.Unlock()
		return
	}
	f.status = Idle
	f.revert = nil
	l := t.listener
	t.mu.Unlock()
	t.notify(l, []change{{id: id, status: Idle}})
}

// Reset forgets every field. Writes still in flight complete into nothing.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	for _, f := range t.fields {
		f.stopRevert()
	}
	t.fields = make(map[string]*field)
}
