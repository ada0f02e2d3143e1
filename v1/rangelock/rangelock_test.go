package rangelock

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	rlerrors "github.com/Victor-Danilov/parallel-computing/v1/errors"
)

// waitForWaiters polls until n requests are suspended in m.
func waitForWaiters(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for m.Waiters() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d waiters, got %d", n, m.Waiters())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLockUnlock(t *testing.T) {
	m := New(10)
	if err := m.Lock(2, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := m.Held(); !reflect.DeepEqual(got, []Range{{2, 4}}) {
		t.Fatalf("unexpected held ranges %v", got)
	}
	if ok, err := m.TryLock(4, 6); err != nil || ok {
		t.Fatalf("expected overlapping trylock to fail, ok %v err %v", ok, err)
	}
	if err := m.Unlock(2, 4); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("expected nothing held, got %v", got)
	}
	if ok, err := m.TryLock(4, 6); err != nil || !ok {
		t.Fatalf("expected trylock after unlock, ok %v err %v", ok, err)
	}
}

func TestHeldCoalescesAdjacentRanges(t *testing.T) {
	m := New(8)
	for _, r := range []Range{{0, 1}, {2, 3}, {6, 6}} {
		if err := m.Lock(r.From, r.To); err != nil {
			t.Fatalf("lock %v: %v", r, err)
		}
	}
	want := []Range{{0, 3}, {6, 6}}
	if got := m.Held(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestNewPanicsOnNonPositiveLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(0)
}

func TestInvalidRangeLeavesStateUnchanged(t *testing.T) {
	m := New(8)
	cases := []Range{{-1, 3}, {5, 2}, {0, 8}, {8, 8}}
	for _, r := range cases {
		err := m.Lock(r.From, r.To)
		if !errors.Is(err, rlerrors.ErrInvalidRange) {
			t.Fatalf("lock %v: expected ErrInvalidRange, got %v", r, err)
		}
		var rerr *RangeError
		if !errors.As(err, &rerr) || rerr.Range != r || rerr.Len != 8 {
			t.Fatalf("lock %v: unexpected error detail %#v", r, err)
		}
		if err := m.Unlock(r.From, r.To); !errors.Is(err, rlerrors.ErrInvalidRange) {
			t.Fatalf("unlock %v: expected ErrInvalidRange, got %v", r, err)
		}
		if _, err := m.TryLock(r.From, r.To); !errors.Is(err, rlerrors.ErrInvalidRange) {
			t.Fatalf("trylock %v: expected ErrInvalidRange, got %v", r, err)
		}
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("expected nothing held, got %v", got)
	}

	done := make(chan error, 1)
	go func() {
		ok, err := m.TryLock(0, 3)
		if err == nil && !ok {
			err = errors.New("range unexpectedly held")
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("lock from another goroutine: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestMutualExclusion(t *testing.T) {
	const (
		n       = 16
		workers = 12
		rounds  = 200
	)
	m := New(n)
	var occupancy [n]int32
	var violations atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < rounds; i++ {
				from := rnd.Intn(n)
				to := from + rnd.Intn(n-from)
				if err := m.Lock(from, to); err != nil {
					t.Errorf("lock: %v", err)
					return
				}
				for j := from; j <= to; j++ {
					if atomic.AddInt32(&occupancy[j], 1) != 1 {
						violations.Add(1)
					}
				}
				if rnd.Intn(4) == 0 {
					time.Sleep(time.Microsecond)
				}
				for j := from; j <= to; j++ {
					atomic.AddInt32(&occupancy[j], -1)
				}
				if err := m.Unlock(from, to); err != nil {
					t.Errorf("unlock: %v", err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
	if v := violations.Load(); v != 0 {
		t.Fatalf("%d indices were held by two goroutines at once", v)
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("expected nothing held, got %v", got)
	}
}

func TestOverlappingCriticalSectionsDoNotInterleave(t *testing.T) {
	m := New(10)
	type span struct{ start, end time.Time }
	var mu sync.Mutex
	var spans []span

	ranges := []Range{{0, 5}, {3, 7}, {5, 9}, {0, 9}, {5, 5}}
	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Lock(r.From, r.To); err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			s := span{start: time.Now()}
			time.Sleep(5 * time.Millisecond)
			s.end = time.Now()
			mu.Lock()
			spans = append(spans, s)
			mu.Unlock()
			_ = m.Unlock(r.From, r.To)
		}()
	}
	wg.Wait()

	// every range above contains index 5
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start.Before(b.end) && b.start.Before(a.end) {
				t.Fatalf("critical sections %d and %d overlapped in time", i, j)
			}
		}
	}
}

func TestBlockedLockIsGrantedAfterUnlock(t *testing.T) {
	m := New(8)
	if err := m.Lock(0, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	granted := make(chan error, 1)
	go func() { granted <- m.Lock(2, 5) }()
	waitForWaiters(t, m, 1)

	select {
	case <-granted:
		t.Fatal("overlapping lock granted while range held")
	default:
	}
	if err := m.Unlock(0, 3); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by unlock")
	}
	if got := m.Held(); !reflect.DeepEqual(got, []Range{{2, 5}}) {
		t.Fatalf("unexpected held ranges %v", got)
	}
}

func TestDisjointRangesProceedConcurrently(t *testing.T) {
	m := New(10)
	var inside sync.WaitGroup
	inside.Add(2)
	release := make(chan struct{})
	errs := make(chan error, 2)

	for _, r := range []Range{{0, 4}, {5, 9}} {
		go func() {
			if err := m.Lock(r.From, r.To); err != nil {
				errs <- err
				inside.Done()
				return
			}
			inside.Done()
			<-release
			errs <- m.Unlock(r.From, r.To)
		}()
	}

	both := make(chan struct{})
	go func() {
		inside.Wait()
		close(both)
	}()
	select {
	case <-both:
	case <-time.After(time.Second):
		t.Fatal("disjoint ranges did not hold the lock at the same time")
	}
	if m.Waiters() != 0 {
		t.Fatalf("expected no waiters, got %d", m.Waiters())
	}
	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestRangeIsNeverPartiallyGranted(t *testing.T) {
	m := New(8)
	if err := m.Lock(2, 5); err != nil {
		t.Fatalf("lock: %v", err)
	}
	granted := make(chan error, 1)
	go func() { granted <- m.Lock(4, 6) }()
	waitForWaiters(t, m, 1)

	if got := m.Held(); !reflect.DeepEqual(got, []Range{{2, 5}}) {
		t.Fatalf("blocked request changed lock state: %v", got)
	}
	if ok, err := m.TryLock(6, 6); err != nil || !ok {
		t.Fatalf("index 6 should still be free, ok %v err %v", ok, err)
	}
	if err := m.Unlock(6, 6); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if err := m.Unlock(2, 5); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for grant")
	}
	if got := m.Held(); !reflect.DeepEqual(got, []Range{{4, 6}}) {
		t.Fatalf("unexpected held ranges %v", got)
	}
}

func TestLockContextCancel(t *testing.T) {
	m := New(4)
	if err := m.Lock(0, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.LockContext(ctx, 1, 2) }()
	waitForWaiters(t, m, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not wake the waiter")
	}
	if m.Waiters() != 0 {
		t.Fatalf("expected cancelled waiter removed, got %d", m.Waiters())
	}
	if err := m.Unlock(0, 3); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("cancelled request left indices held: %v", got)
	}
}

func TestLockContextAlreadyCancelled(t *testing.T) {
	var kinds []EventKind
	m := New(4, WithObserver(ObserverFunc(func(e Event) { kinds = append(kinds, e.Kind) })))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.LockContext(ctx, 0, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("cancelled request was granted: %v", got)
	}
	if !reflect.DeepEqual(kinds, []EventKind{EventCancel}) {
		t.Fatalf("expected a single cancel event, got %v", kinds)
	}
}

func TestLockTimeout(t *testing.T) {
	m := New(4)
	if err := m.Lock(1, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}
	start := time.Now()
	err := m.LockTimeout(0, 3, 10*time.Millisecond)
	if !errors.Is(err, rlerrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("lock did not respect timeout")
	}
	if err := m.LockTimeout(2, 3, time.Second); err != nil {
		t.Fatalf("free range should be granted: %v", err)
	}
}

func TestObserverSeesOrderedTransitions(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	m := New(4, WithObserver(ObserverFunc(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})))

	if err := m.Lock(0, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.Lock(1, 2) }()
	waitForWaiters(t, m, 1)
	if err := m.Unlock(0, 1); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("lock: %v", err)
	}
	_ = m.Lock(3, 2)

	want := []EventKind{
		EventAttempt, EventGrant,
		EventAttempt, EventBlock,
		EventRelease, EventGrant,
		EventReject,
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("expected %v got %v", want, kinds)
	}
}

func TestObserverPanicDoesNotWedgeManager(t *testing.T) {
	m := New(4, WithObserver(ObserverFunc(func(e Event) {
		if e.Kind == EventGrant {
			panic("observer failure")
		}
	})))

	if err := m.Lock(0, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := m.Held(); !reflect.DeepEqual(got, []Range{{0, 0}}) {
		t.Fatalf("unexpected held ranges %v", got)
	}

	done := make(chan error, 1)
	go func() { done <- m.Lock(3, 3) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("manager mutex left locked after observer panic")
	}
	if err := m.Unlock(0, 3); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got := m.Held(); len(got) != 0 {
		t.Fatalf("expected nothing held, got %v", got)
	}
}

func TestObserverEventCounters(t *testing.T) {
	var last Event
	m := New(6, WithObserver(ObserverFunc(func(e Event) { last = e })))
	if err := m.Lock(1, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if last.Kind != EventGrant || last.Held != 3 || last.Range != (Range{1, 3}) {
		t.Fatalf("unexpected grant event %+v", last)
	}
	if err := m.Unlock(1, 3); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if last.Kind != EventRelease || last.Held != 0 {
		t.Fatalf("unexpected release event %+v", last)
	}
}

func TestFIFODoesNotOvertakeOverlappingWaiter(t *testing.T) {
	m := New(10, WithFairness(FIFO))
	if err := m.Lock(0, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.Lock(0, 9) }()
	waitForWaiters(t, m, 1)

	if ok, err := m.TryLock(5, 5); err != nil || ok {
		t.Fatalf("fifo request overtook earlier waiter, ok %v err %v", ok, err)
	}
	if err := m.Unlock(0, 0); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for grant")
	}
}

func TestArbitraryAllowsFreeRangeWhileOthersWait(t *testing.T) {
	m := New(10)
	if err := m.Lock(0, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.Lock(0, 9) }()
	waitForWaiters(t, m, 1)

	if ok, err := m.TryLock(5, 5); err != nil || !ok {
		t.Fatalf("expected free index to be granted, ok %v err %v", ok, err)
	}
	_ = m.Unlock(5, 5)
	_ = m.Unlock(0, 0)
	if err := <-done; err != nil {
		t.Fatalf("lock: %v", err)
	}
}

func TestFIFOCancelUnblocksQueuedWaiters(t *testing.T) {
	m := New(10, WithFairness(FIFO))
	if err := m.Lock(0, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- m.LockContext(ctx, 0, 5) }()
	waitForWaiters(t, m, 1)

	second := make(chan error, 1)
	go func() { second <- m.Lock(5, 6) }()
	waitForWaiters(t, m, 2)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued waiter stayed blocked after the request ahead of it gave up")
	}
}
