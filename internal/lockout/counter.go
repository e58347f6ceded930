// Package lockout implements the console's brute-force gate: a persisted
// failure counter, the guard that turns login attempts into
// accept/reject/locked outcomes, and the countdown shown while locked.
package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/unnet/isp-console/internal/kvstore"
)

// Persisted keys.
const (
	KeyAttempts  = "login_attempts" // integer string
	KeyLockUntil = "lock_until"     // epoch milliseconds
)

// State is the persisted login attempt state. A zero LockedUntil means no lock.
type State struct {
	FailedCount int
	LockedUntil time.Time
}

// LockedAt reports whether the lock is still in force at now.
func (s State) LockedAt(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Expired reports whether a lock was set and has run out at now.
func (s State) Expired(now time.Time) bool {
	return !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil)
}

// Counter reads and writes State in a kvstore.Store.
type Counter struct {
	store kvstore.Store
}

func NewCounter(store kvstore.Store) *Counter {
	return &Counter{store: store}
}

// Load returns the persisted state. Unparseable values read as absent.
func (c *Counter) Load(ctx context.Context) (State, error) {
	var st State
	raw, ok, err := c.store.Get(ctx, KeyAttempts)
	if err != nil {
		return State{}, fmt.Errorf("load %s: %w", KeyAttempts, err)
	}
	if ok {
		if n, perr := strconv.Atoi(raw); perr == nil && n > 0 {
			st.FailedCount = n
		}
	}
	raw, ok, err = c.store.Get(ctx, KeyLockUntil)
	if err != nil {
		return State{}, fmt.Errorf("load %s: %w", KeyLockUntil, err)
	}
	if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil && ms > 0 {
			st.LockedUntil = time.UnixMilli(ms)
		}
	}
	return st, nil
}

// Save persists st.
func (c *Counter) Save(ctx context.Context, st State) error {
	if err := c.store.Set(ctx, KeyAttempts, strconv.Itoa(st.FailedCount)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAttempts, err)
	}
	if st.LockedUntil.IsZero() {
		if err := c.store.Remove(ctx, KeyLockUntil); err != nil {
			return fmt.Errorf("clear %s: %w", KeyLockUntil, err)
		}
		return nil
	}
	ms := strconv.FormatInt(st.LockedUntil.UnixMilli(), 10)
	if err := c.store.Set(ctx, KeyLockUntil, ms); err != nil {
		return fmt.Errorf("save %s: %w", KeyLockUntil, err)
	}
	return nil
}

// Reset clears both keys, which reads back as {0, no lock}.
func (c *Counter) Reset(ctx context.Context) error {
	if err := c.store.Remove(ctx, KeyAttempts); err != nil {
		return fmt.Errorf("clear %s: %w", KeyAttempts, err)
	}
	if err := c.store.Remove(ctx, KeyLockUntil); err != nil {
		return fmt.Errorf("clear %s: %w", KeyLockUntil, err)
	}
	return nil
}
