package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"papertrader/internal/logger"
	"papertrader/internal/pkg/distlock"
)

// Guard keeps ticks single-flight. The in-process flag is always used; the
// Redis lock is added when several processes share one database.
type Guard struct {
	running atomic.Bool
	dist    *distlock.Locker
}

func NewGuard(dist *distlock.Locker) *Guard {
	return &Guard{dist: dist}
}

// TryEnter never blocks. On success the returned release must be called once.
func (g *Guard) TryEnter(ctx context.Context) (release func(), ok bool) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, false
	}
	if g.dist == nil {
		return func() { g.running.Store(false) }, true
	}
	lock, err := g.dist.TryLock(ctx)
	if err != nil {
		g.running.Store(false)
		if !errors.Is(err, distlock.ErrHeld) {
			logger.Warnf("tick lock unavailable: %v", err)
		}
		return nil, false
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warnf("tick lock release: %v", err)
		}
		g.running.Store(false)
	}, true
}

// Running reports whether a tick is in flight in this process.
func (g *Guard) Running() bool { return g.running.Load() }
