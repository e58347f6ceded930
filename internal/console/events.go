package console

import (
	"github.com/unnet/isp-console/internal/fieldsync"
)

// Event is something the operator UI should show.
type Event interface {
	event()
}

type StateChanged struct {
	From, To State
}

// CountdownTick carries the remaining lock time, recomputed every second.
type CountdownTick struct {
	Remaining int
}

type FieldStatus struct {
	Field  string
	Status fieldsync.Status
	Err    error
}

// Alert is a failure that is not tied to one field, such as a failed load.
type Alert struct {
	Message string
	Err     error
}

func (StateChanged) event()  {}
func (CountdownTick) event() {}
func (FieldStatus) event()   {}
func (Alert) event()         {}

// Listener receives events synchronously from whichever goroutine produced
// them. It must not call back into the Controller.
type Listener func(Event)
