package rangelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rlerrors "github.com/Victor-Danilov/parallel-computing/v1/errors"
)

var tracer = otel.Tracer("github.com/Victor-Danilov/parallel-computing/v1/rangelock")

type waiter struct {
	ticket uint64
	r      Range
}

// Manager grants exclusive access to contiguous index ranges of a sequence
// of fixed length. The zero value is not usable; create one with New.
type Manager struct {
	mu    sync.Mutex
	held  []bool
	nheld int
	// gate is closed and replaced on every release so that every suspended
	// request re-tests its range.
	gate    chan struct{}
	waiting []*waiter
	ticket  uint64

	fairness     Fairness
	observers    []Observer
	logger       *slog.Logger
	traceEnabled bool
}

// New returns a Manager for a sequence of n indices, all initially free.
// It panics if n is not positive.
func New(n int, opts ...Option) *Manager {
	if n <= 0 {
		panic(fmt.Sprintf("rangelock: non-positive length %d", n))
	}
	m := &Manager{
		held:   make([]bool, n),
		gate:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the length of the guarded sequence.
func (m *Manager) Len() int { return len(m.held) }

// Lock blocks until every index in [from, to] is free and then marks the
// whole range held. A malformed range returns an error matching
// errors.ErrInvalidRange without touching any state.
func (m *Manager) Lock(from, to int) error {
	_, err := m.acquire(context.Background(), "lock", Range{From: from, To: to}, uuid.Nil, true)
	return err
}

// LockContext is like Lock but gives up when ctx ends, returning ctx.Err().
// A request that gives up leaves the lock state unchanged. A ctx that has
// already ended fails even if the range is free.
func (m *Manager) LockContext(ctx context.Context, from, to int) error {
	_, err := m.acquire(ctx, "lock", Range{From: from, To: to}, uuid.Nil, true)
	return err
}

// LockTimeout is like Lock but fails with errors.ErrTimeout once d elapses.
func (m *Manager) LockTimeout(from, to int, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_, err := m.acquire(ctx, "lock", Range{From: from, To: to}, uuid.Nil, true)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rangelock: lock %s: %w after %s", Range{From: from, To: to}, rlerrors.ErrTimeout, d)
	}
	return err
}

// TryLock acquires [from, to] only if it can do so without waiting.
func (m *Manager) TryLock(from, to int) (bool, error) {
	return m.acquire(context.Background(), "trylock", Range{From: from, To: to}, uuid.Nil, false)
}

// Unlock marks every index in [from, to] free and wakes all waiters. The
// caller is trusted to hold the range; holder identity is not checked.
func (m *Manager) Unlock(from, to int) error {
	return m.release(context.Background(), Range{From: from, To: to}, uuid.Nil)
}

// Held returns the currently held indices coalesced into ranges, in
// ascending order. Adjacent grants appear as a single range.
func (m *Manager) Held() []Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Range
	for i := 0; i < len(m.held); i++ {
		if !m.held[i] {
			continue
		}
		r := Range{From: i, To: i}
		for r.To+1 < len(m.held) && m.held[r.To+1] {
			r.To++
		}
		out = append(out, r)
		i = r.To
	}
	return out
}

// Waiters returns the number of requests currently suspended.
func (m *Manager) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

func (m *Manager) acquire(ctx context.Context, op string, r Range, id uuid.UUID, block bool) (bool, error) {
	if err := r.Validate(len(m.held)); err != nil {
		return false, m.reject(op, r, err, id)
	}
	if err := ctx.Err(); err != nil {
		m.mu.Lock()
		m.emit(Event{Kind: EventCancel, Op: op, Range: r, Guard: id, Err: err})
		m.mu.Unlock()
		return false, err
	}

	var span trace.Span
	if m.traceEnabled {
		ctx, span = tracer.Start(ctx, "RangeLock.Lock", trace.WithAttributes(
			attribute.Int("rangelock.from", r.From),
			attribute.Int("rangelock.to", r.To),
			attribute.Bool("rangelock.block", block),
		))
		defer span.End()
	}

	start := time.Now()
	m.mu.Lock()
	m.emit(Event{Kind: EventAttempt, Op: op, Range: r, Guard: id})

	var w *waiter
	for {
		if m.grantable(r, w) {
			for i := r.From; i <= r.To; i++ {
				m.held[i] = true
			}
			m.nheld += r.Len()
			if w != nil {
				m.dequeue(w)
			}
			m.emit(Event{Kind: EventGrant, Op: op, Range: r, Guard: id, Waited: time.Since(start)})
			m.mu.Unlock()
			return true, nil
		}
		if !block {
			m.mu.Unlock()
			return false, nil
		}
		if w == nil {
			m.ticket++
			w = &waiter{ticket: m.ticket, r: r}
			m.waiting = append(m.waiting, w)
			m.emit(Event{Kind: EventBlock, Op: op, Range: r, Guard: id})
			m.logger.Debug("rangelock: waiting for range", "range", r.String(), "waiters", len(m.waiting))
			if span != nil {
				span.AddEvent("blocked")
			}
		}
		gate := m.gate
		m.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			m.mu.Lock()
			m.dequeue(w)
			if m.fairness == FIFO {
				// later overlapping waiters may have been queued behind w
				m.broadcast()
			}
			err := ctx.Err()
			m.emit(Event{Kind: EventCancel, Op: op, Range: r, Guard: id, Waited: time.Since(start), Err: err})
			m.mu.Unlock()
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return false, err
		}
		m.mu.Lock()
	}
}

func (m *Manager) release(ctx context.Context, r Range, id uuid.UUID) error {
	if err := r.Validate(len(m.held)); err != nil {
		return m.reject("unlock", r, err, id)
	}
	if m.traceEnabled {
		var span trace.Span
		_, span = tracer.Start(ctx, "RangeLock.Unlock", trace.WithAttributes(
			attribute.Int("rangelock.from", r.From),
			attribute.Int("rangelock.to", r.To),
		))
		defer span.End()
	}

	m.mu.Lock()
	for i := r.From; i <= r.To; i++ {
		if m.held[i] {
			m.held[i] = false
			m.nheld--
		}
	}
	m.broadcast()
	m.emit(Event{Kind: EventRelease, Op: "unlock", Range: r, Guard: id})
	m.mu.Unlock()
	return nil
}

func (m *Manager) reject(op string, r Range, err error, id uuid.UUID) error {
	var rerr *RangeError
	if errors.As(err, &rerr) {
		rerr.Op = op
	}
	m.logger.Warn("rangelock: invalid range", "op", op, "range", r.String(), "len", len(m.held))
	m.mu.Lock()
	m.emit(Event{Kind: EventReject, Op: op, Range: r, Guard: id, Err: err})
	m.mu.Unlock()
	return err
}

// grantable reports whether r can be granted now to the request w (nil for
// a request that has not queued yet). Must be called with m.mu held.
func (m *Manager) grantable(r Range, w *waiter) bool {
	for i := r.From; i <= r.To; i++ {
		if m.held[i] {
			return false
		}
	}
	if m.fairness != FIFO {
		return true
	}
	for _, q := range m.waiting {
		if q == w {
			// waiting is ordered by ticket
			break
		}
		if q.r.Overlaps(r) {
			return false
		}
	}
	return true
}

func (m *Manager) dequeue(w *waiter) {
	for i, q := range m.waiting {
		if q == w {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return
		}
	}
}

func (m *Manager) broadcast() {
	if len(m.waiting) == 0 {
		return
	}
	close(m.gate)
	m.gate = make(chan struct{})
}

func (m *Manager) emit(e Event) {
	if len(m.observers) == 0 {
		return
	}
	e.Waiters = len(m.waiting)
	e.Held = m.nheld
	e.Time = time.Now()
	for _, o := range m.observers {
		m.notify(o, e)
	}
}

// notify isolates observer panics so the manager's mutex is always released
// and lock state stays consistent.
func (m *Manager) notify(o Observer, e Event) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("rangelock: observer panicked", "event", e.Kind.String(), "range", e.Range.String(), "panic", p)
		}
	}()
	o.Observe(e)
}
