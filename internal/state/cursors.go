package state

import (
	"sync"
	"time"
)

// Cursors is the in-memory cursor map for one service instance. Safe for
// concurrent use; tasks read cursors while the writer commits them.
type Cursors struct {
	mu       sync.Mutex
	byURL    map[string]int64
	lookback time.Duration
	now      func() time.Time
}

// NewCursors builds an empty map with the given first-sync lookback.
func NewCursors(lookback time.Duration) *Cursors {
	return &Cursors{
		byURL:    make(map[string]int64),
		lookback: lookback,
		now:      time.Now,
	}
}

// Cursor returns the last-fully-synced timestamp for a relay, defaulting to
// now minus the lookback when the relay has never completed a sync.
func (c *Cursors) Cursor(url string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.byURL[url]; ok {
		return ts
	}
	return c.now().Add(-c.lookback).Unix()
}

// Commit advances a relay's cursor. Commits below the stored value are
// ignored so a replayed task can never regress progress. Returns whether the
// cursor moved.
func (c *Cursors) Commit(url string, ts int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byURL[url]; ok && ts <= prev {
		return false
	}
	c.byURL[url] = ts
	return true
}

// Reset force-sets a cursor, the only sanctioned way to move one backwards.
func (c *Cursors) Reset(url string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byURL[url] = ts
}

// Snapshot copies the current map for persistence.
func (c *Cursors) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.byURL))
	for k, v := range c.byURL {
		out[k] = v
	}
	return out
}

// Load replaces the map with a persisted snapshot.
func (c *Cursors) Load(m map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byURL = make(map[string]int64, len(m))
	for k, v := range m {
		c.byURL[k] = v
	}
}

// Len reports how many relays have committed cursors.
func (c *Cursors) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byURL)
}
