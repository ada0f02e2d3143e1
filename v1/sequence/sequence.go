// Package sequence pairs a fixed-length slice with a rangelock.Manager so
// that goroutines can work on disjoint sub-ranges of it concurrently.
package sequence

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Victor-Danilov/parallel-computing/v1/rangelock"
)

// Sequence is a fixed-length sequence of T whose elements are only reachable
// through a held range.
type Sequence[T any] struct {
	items []T
	lock  *rangelock.Manager
}

// New returns a sequence of n copies of def. It panics if n is not positive.
func New[T any](n int, def T, opts ...rangelock.Option) *Sequence[T] {
	lock := rangelock.New(n, opts...)
	items := make([]T, n)
	for i := range items {
		items[i] = def
	}
	return &Sequence[T]{items: items, lock: lock}
}

// FromSlice returns a sequence holding a copy of values. It panics if values
// is empty.
func FromSlice[T any](values []T, opts ...rangelock.Option) *Sequence[T] {
	lock := rangelock.New(len(values), opts...)
	return &Sequence[T]{items: slices.Clone(values), lock: lock}
}

// Len returns the number of elements.
func (s *Sequence[T]) Len() int { return len(s.items) }

// Locker returns the manager guarding the sequence.
func (s *Sequence[T]) Locker() *rangelock.Manager { return s.lock }

// With runs fn on the elements [from, to] while holding that range. view
// aliases the sequence and must not be retained after fn returns.
func (s *Sequence[T]) With(ctx context.Context, from, to int, fn func(view []T) error) error {
	return s.lock.Do(ctx, from, to, func() error {
		return fn(s.items[from : to+1 : to+1])
	})
}

// Get returns the element at i.
func (s *Sequence[T]) Get(ctx context.Context, i int) (T, error) {
	var v T
	err := s.With(ctx, i, i, func(view []T) error {
		v = view[0]
		return nil
	})
	return v, err
}

// Set stores v at i.
func (s *Sequence[T]) Set(ctx context.Context, i int, v T) error {
	return s.With(ctx, i, i, func(view []T) error {
		view[0] = v
		return nil
	})
}

// Snapshot locks the whole sequence and returns a copy of it.
func (s *Sequence[T]) Snapshot(ctx context.Context) ([]T, error) {
	var out []T
	err := s.With(ctx, 0, len(s.items)-1, func(view []T) error {
		out = slices.Clone(view)
		return nil
	})
	return out, err
}

// SortRange sorts [from, to] in place using cmp.
func (s *Sequence[T]) SortRange(ctx context.Context, from, to int, cmp func(a, b T) int) error {
	return s.With(ctx, from, to, func(view []T) error {
		slices.SortFunc(view, cmp)
		return nil
	})
}

// SortPartitions sorts each of parts in its own goroutine and then sorts the
// whole sequence under a full-range lock, so the result is sorted whatever
// the partitions were. The first error cancels the remaining partitions.
func (s *Sequence[T]) SortPartitions(ctx context.Context, parts []rangelock.Range, cmp func(a, b T) int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		g.Go(func() error {
			return s.SortRange(gctx, p.From, p.To, cmp)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.SortRange(ctx, 0, len(s.items)-1, cmp)
}
