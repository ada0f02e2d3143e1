package rangelock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Guard is a granted range. Release it exactly once, typically with defer.
type Guard struct {
	ID    uuid.UUID
	Range Range

	m    *Manager
	ctx  context.Context
	once sync.Once
	err  error
}

// Acquire blocks until [from, to] is granted or ctx ends and returns a Guard
// for the granted range.
func (m *Manager) Acquire(ctx context.Context, from, to int) (*Guard, error) {
	g := &Guard{ID: uuid.New(), Range: Range{From: from, To: to}, m: m, ctx: ctx}
	if _, err := m.acquire(ctx, "acquire", g.Range, g.ID, true); err != nil {
		return nil, err
	}
	return g, nil
}

// Release frees the guarded range. Calls after the first are no-ops that
// return the first call's result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.m.release(context.WithoutCancel(g.ctx), g.Range, g.ID)
	})
	return g.err
}

// Do runs fn while holding [from, to]. The range is released on every exit
// path of fn, including a panic, which is re-raised after the release.
func (m *Manager) Do(ctx context.Context, from, to int, fn func() error) error {
	g, err := m.Acquire(ctx, from, to)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
