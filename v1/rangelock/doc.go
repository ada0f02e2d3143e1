// Package rangelock provides a lock over contiguous index ranges of a
// fixed-length sequence.
//
// A Manager tracks which indices are held. Lock blocks until every index of
// the requested closed interval [from, to] is free and then marks the whole
// interval held in one step; a range is never partially granted. Unlock frees
// the interval and wakes every waiter so each can re-test its own range.
// Disjoint ranges can be held concurrently by different goroutines.
//
// The manager only gates indices. It never sees the guarded data: callers pair
// it with their own slice, or use package sequence which does that for them.
//
// Waiter ordering is arbitrary unless the manager is created with
// WithFairness(FIFO), in which case a request never overtakes an earlier,
// still-waiting request whose range overlaps it.
//
// Known limitations:
//
//   - Unlock does not check who holds the range. Any goroutine may release
//     indices, the same way a sync.Mutex may be unlocked by another goroutine.
//   - Locking a range that overlaps one the caller already holds blocks
//     forever. Use LockContext or LockTimeout when that cannot be ruled out.
//   - A holder that never unlocks starves every overlapping request. Guard and
//     Do release on every exit path, including panics; raw Lock callers must
//     arrange that themselves.
package rangelock
