package rangelock

import "log/slog"

// Fairness selects how waiting requests are ordered.
type Fairness int

const (
	// Arbitrary grants whichever waiter re-tests first after a release.
	Arbitrary Fairness = iota
	// FIFO never lets a request overtake an earlier waiting request whose
	// range overlaps it. Requests with disjoint ranges still proceed
	// independently.
	FIFO
)

func (f Fairness) String() string {
	if f == FIFO {
		return "fifo"
	}
	return "arbitrary"
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers o to receive every event. It can be given more
// than once.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithLogger sets the logger used for rejected and blocked requests.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracing enables OpenTelemetry spans for lock and unlock calls.
func WithTracing() Option {
	return func(m *Manager) {
		m.traceEnabled = true
	}
}

// WithFairness sets the waiter ordering policy. The default is Arbitrary.
func WithFairness(f Fairness) Option {
	return func(m *Manager) {
		m.fairness = f
	}
}
