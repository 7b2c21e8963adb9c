package market

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value any
	at    time.Time
}

// ttlCache is a small in-memory cache keyed by request signature.
type ttlCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheEntry
	now   func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]cacheEntry), now: time.Now}
}

func (c *ttlCache) get(key string) (any, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.at) >= c.ttl {
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = cacheEntry{value: value, at: c.now()}
	c.mu.Unlock()
}

// rateGate enforces a minimum spacing between outbound requests of one
// provider, whatever operation issues them. Callers queue on the mutex.
type rateGate struct {
	mu      sync.Mutex
	spacing time.Duration
	last    time.Time
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

func newRateGate(spacing time.Duration) *rateGate {
	return &rateGate{spacing: spacing, now: time.Now, sleep: sleepCtx}
}

func (g *rateGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && g.spacing > 0 {
		if wait := g.spacing - g.now().Sub(g.last); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	g.last = g.now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
