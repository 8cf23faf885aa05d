package querycache

import (
	"context"
	"fmt"
)

// UpdateFunc returns the optimistic replacement of a cached value and
// whether it differs from old.
type UpdateFunc func(key Key, old any) (any, bool)

// Snapshot holds the values a mutation overwrote so it can undo them.
type Snapshot struct {
	c    *Cache
	prev []entry
}

// Optimistic applies update to every cached entry matched by match and
// returns the previous state.
func (c *Cache) Optimistic(match Matcher, update UpdateFunc) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{c: c}
	for _, e := range c.matchLocked(match) {
		next, changed := update(e.key, e.value)
		if !changed {
			continue
		}
		snap.prev = append(snap.prev, e)

		e.value = next
		e.gen = c.nextGenLocked()
		c.detachLocked(e.key)
		c.putLocked(e)
	}
	return snap
}

// Keys lists the keys the snapshot covers.
func (s *Snapshot) Keys() []Key {
	keys := make([]Key, len(s.prev))
	for i, e := range s.prev {
		keys[i] = e.key
	}
	return keys
}

// Rollback writes the captured values back verbatim, including their fetch
// time and validity. Fetches started before the rollback cannot overwrite
// them.
func (s *Snapshot) Rollback() {
	if s == nil {
		return
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range s.prev {
		e.gen = c.nextGenLocked()
		c.detachLocked(e.key)
		c.putLocked(e)
	}
}

// Get is Fetch with a typed result.
func Get[T any](ctx context.Context, c *Cache, key Key, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, p, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}
