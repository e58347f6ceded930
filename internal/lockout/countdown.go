package lockout

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown recomputes the remaining lock time once per second from the
// clock and the lock expiry. The owner must call Stop on every exit path;
// the countdown also ends on its own after reporting 0.
type Countdown struct {
	clock  clockwork.Clock
	until  time.Time
	onTick func(remaining int)

	mu      sync.Mutex
	timer   clockwork.Timer
	stopped bool
	done    chan struct{}
}

// StartCountdown schedules the first tick one second from now. onTick
// receives the remaining whole seconds; the last call carries 0. onTick is
// called without any countdown lock held and may call Stop.
func StartCountdown(clock clockwork.Clock, until time.Time, onTick func(remaining int)) *Countdown {
	c := &Countdown{clock: clock, until: until, onTick: onTick, done: make(chan struct{})}
	c.mu.Lock()
	c.timer = clock.AfterFunc(time.Second, c.fire)
	c.mu.Unlock()
	return c
}

func (c *Countdown) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	rem := Remaining(c.until, c.clock.Now())
	c.onTick(rem)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if rem == 0 {
		c.stopLocked()
		return
	}
	c.timer = c.clock.AfterFunc(time.Second, c.fire)
}

func (c *Countdown) stopLocked() {
	c.stopped = true
	c.timer.Stop()
	close(c.done)
}

// Stop cancels the countdown. It never waits for a tick in progress, so it
// is safe to call from onTick or while holding a lock onTick also takes.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopLocked()
	}
}

// Done is closed once the countdown has ended or been stopped.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
