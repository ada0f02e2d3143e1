package rangelock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a lock state transition or request outcome.
type EventKind int

const (
	// EventAttempt is emitted when a valid lock request enters the manager.
	EventAttempt EventKind = iota
	// EventBlock is emitted once per request that has to wait.
	EventBlock
	// EventGrant is emitted when a whole range transitions from free to held.
	EventGrant
	// EventRelease is emitted when a range transitions back to free.
	EventRelease
	// EventReject is emitted for malformed ranges. No state changes.
	EventReject
	// EventCancel is emitted when a waiting request gives up because its
	// context ended. No state changes.
	EventCancel
)

var eventKindNames = [...]string{
	EventAttempt: "attempt",
	EventBlock:   "block",
	EventGrant:   "grant",
	EventRelease: "release",
	EventReject:  "reject",
	EventCancel:  "cancel",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	for i, name := range eventKindNames {
		if name == string(b) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("rangelock: unknown event kind %q", b)
}

// Event describes a single step taken by a Manager. Events are delivered in
// the same total order as the state transitions they describe.
type Event struct {
	Kind  EventKind
	Op    string
	Range Range
	// Guard identifies the Guard the event belongs to. It is the zero UUID
	// for plain Lock/Unlock calls.
	Guard uuid.UUID
	// Waiters is the number of suspended requests after the transition.
	Waiters int
	// Held is the number of held indices after the transition.
	Held int
	// Waited is the time spent between EventAttempt and EventGrant or
	// EventCancel.
	Waited time.Duration
	Time   time.Time
	Err    error
}

// Observer receives manager events.
//
// Observe is called synchronously while the manager's internal lock is held.
// Implementations must return quickly, must not call back into the Manager
// and must not panic. A panicking observer is recovered and logged; the
// transition it was told about has already happened.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }
