package lockout

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("too many failed attempts, login locked")
)

// Outcome is the verdict on one login attempt.
type Outcome int

const (
	Accepted Outcome = iota + 1
	Rejected
	Locked
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Result of Attempt. AttemptsRemaining is set for Rejected,
// RemainingSeconds for Locked.
type Result struct {
	Outcome           Outcome
	AttemptsRemaining int
	RemainingSeconds  int
}

// Err maps the result onto the error taxonomy; Accepted maps to nil.
func (r Result) Err() error {
	switch r.Outcome {
	case Rejected:
		return ErrInvalidCredentials
	case Locked:
		return ErrAccountLocked
	default:
		return nil
	}
}

// Status is a read of the guard without an attempt.
type Status struct {
	Locked            bool
	LockedUntil       time.Time
	RemainingSeconds  int
	AttemptsRemaining int
}

// Remaining returns ceil(until - now) in whole seconds, never negative.
func Remaining(until, now time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Guard decides login attempts. It keeps no state of its own between calls;
// everything lives in the Counter and is written before a result returns.
type Guard struct {
	counter *Counter
	secret  Secret
	logger  *zap.SugaredLogger

	MaxFailed    int
	LockDuration time.Duration
}

func NewGuard(counter *Counter, secret Secret, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{counter: counter, secret: secret, logger: logger, MaxFailed: 3, LockDuration: 5 * time.Minute}
}

// load returns the persisted state, resetting it first when a lock has run out.
func (g *Guard) load(ctx context.Context, now time.Time) (State, error) {
	st, err := g.counter.Load(ctx)
	if err != nil {
		return State{}, err
	}
	if st.Expired(now) {
		if err := g.counter.Reset(ctx); err != nil {
			return State{}, err
		}
		g.logger.Infow("login lock expired", "locked_until", st.LockedUntil)
		return State{}, nil
	}
	return st, nil
}

// Attempt evaluates one password submission at now.
// While locked the password is not looked at and the attempt is not counted.
func (g *Guard) Attempt(ctx context.Context, password string, now time.Time) (Result, error) {
	st, err := g.load(ctx, now)
	if err != nil {
		return Result{}, err
	}
	if st.LockedAt(now) {
		return Result{Outcome: Locked, RemainingSeconds: Remaining(st.LockedUntil, now)}, nil
	}

	if g.secret.Verify(password) {
		if err := g.counter.Reset(ctx); err != nil {
			return Result{}, err
		}
		g.logger.Infow("login accepted")
		return Result{Outcome: Accepted}, nil
	}

	st.FailedCount++
	if st.FailedCount >= g.MaxFailed {
		st.LockedUntil = now.Add(g.LockDuration)
		if err := g.counter.Save(ctx, st); err != nil {
			return Result{}, err
		}
		g.logger.Warnw("login locked", "failed_count", st.FailedCount, "locked_until", st.LockedUntil)
		return Result{Outcome: Locked, RemainingSeconds: Remaining(st.LockedUntil, now)}, nil
	}
	if err := g.counter.Save(ctx, st); err != nil {
		return Result{}, err
	}
	left := g.MaxFailed - st.FailedCount
	g.logger.Infow("login rejected", "failed_count", st.FailedCount, "attempts_remaining", left)
	return Result{Outcome: Rejected, AttemptsRemaining: left}, nil
}

// Status reports the lock state at now. An expired lock is cleared as a side
// effect, so after expiry the full attempt budget is reported.
func (g *Guard) Status(ctx context.Context, now time.Time) (Status, error) {
	st, err := g.load(ctx, now)
	if err != nil {
		return Status{}, err
	}
	left := g.MaxFailed - st.FailedCount
	if left < 0 {
		left = 0
	}
	if st.LockedAt(now) {
		return Status{
			Locked:           true,
			LockedUntil:      st.LockedUntil,
			RemainingSeconds: Remaining(st.LockedUntil, now),
		}, nil
	}
	return Status{AttemptsRemaining: left}, nil
}
