// Package querycache is the client-side query cache: stale-while-revalidate
// reads, deduplicated fetches, prefetching and snapshot/rollback for
// optimistic mutations.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"machine-catalog-backend/internal/metrics"
)

// ErrClosed is returned by fetches issued after Close.
var ErrClosed = errors.New("query cache closed")

// FetchFunc loads the value of one key from the server.
type FetchFunc func(ctx context.Context) (any, error)

// Policy controls how long a fetched value is served without revalidation.
type Policy struct {
	Stale time.Duration
}

// Defaults used by the catalog client.
var (
	DefaultPolicy = Policy{Stale: 5 * time.Minute}
	CatalogPolicy = Policy{Stale: 10 * time.Minute}
)

const (
	DefaultRetention      = 30 * time.Minute
	DefaultPrefetchPerSec = 4
)

// entry is what the backing store holds per key. A removed entry is a
// tombstone that only carries the generation.
type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	invalid   bool
	removed   bool
	gen       uint64
}

// call is one in-flight fetch shared by every waiter of its key.
type call struct {
	key    Key
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	val    any
	err    error
}

// Cache is safe for concurrent use. Its background work is bound to the
// context passed to New and stops at Close.
type Cache struct {
	mu       sync.Mutex
	store    *gocache.Cache
	seq      uint64
	inflight map[string]*call

	retention time.Duration
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithRetention sets how long an unused entry is kept.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithPrefetchLimit bounds how many prefetches may start per second.
func WithPrefetchLimit(perSec float64, burst int) Option {
	return func(c *Cache) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithMetrics records cache events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty cache whose background fetches live until parent is
// done or Close is called.
func New(parent context.Context, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(parent)
	c := &Cache{
		inflight:  make(map[string]*call),
		retention: DefaultRetention,
		limiter:   rate.NewLimiter(DefaultPrefetchPerSec, DefaultPrefetchPerSec),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = gocache.New(c.retention, c.retention/2)
	return c
}

// Close cancels every background fetch and waits for them to return.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

// Fetch returns the value of key. A fresh entry is served as is. An entry
// that is only stale by age is served and refreshed in the background. A
// missing or invalidated entry is fetched while the caller waits; concurrent
// callers of one key share a single fetch.
func (c *Cache) Fetch(ctx context.Context, key Key, p Policy, fn FetchFunc) (any, error) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if e, ok := c.lookupLocked(key); ok && !e.invalid {
		if c.now().Sub(e.fetchedAt) < p.Stale {
			c.mu.Unlock()
			c.metrics.CacheEvent("hit")
			return e.value, nil
		}
		if _, busy := c.inflight[key.String()]; !busy {
			c.startLocked(key, fn)
		}
		c.mu.Unlock()
		c.metrics.CacheEvent("stale")
		return e.value, nil
	}

	cl, shared := c.inflight[key.String()]
	if !shared {
		cl = c.startLocked(key, fn)
	}
	c.mu.Unlock()

	if shared {
		c.metrics.CacheEvent("shared")
	} else {
		c.metrics.CacheEvent("miss")
	}

	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetch warms key in the background. It does nothing when the entry is
// fresh or a fetch is already running, and drops the request when the
// prefetch limiter has no token. It reports whether a fetch was started.
func (c *Cache) Prefetch(key Key, p Policy, fn FetchFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return false
	}
	if e, ok := c.lookupLocked(key); ok && !e.invalid && c.now().Sub(e.fetchedAt) < p.Stale {
		return false
	}
	if _, busy := c.inflight[key.String()]; busy {
		return false
	}
	if !c.limiter.Allow() {
		c.metrics.CacheEvent("prefetch_dropped")
		return false
	}
	c.startLocked(key, fn)
	c.metrics.CacheEvent("prefetch")
	return true
}

// Peek returns the cached value of key without fetching, whether or not it
// is stale.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key as freshly fetched. In-flight fetches of key
// started earlier will not overwrite it.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked(key)
	c.putLocked(entry{key: key, value: value, fetchedAt: c.now(), gen: c.nextGenLocked()})
}

// Invalidate marks every matching entry as needing a blocking refetch and
// discards the results of fetches already running for them.
func (c *Cache) Invalidate(match Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.matchLocked(match) {
		e.invalid = true
		e.gen = c.nextGenLocked()
		c.putLocked(e)
	}
	for _, cl := range c.inflightLocked(match) {
		c.detachLocked(cl.key)
		c.bumpLocked(cl.key)
	}
}

// Remove drops every matching entry.
func (c *Cache) Remove(match Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.matchLocked(match) {
		c.detachLocked(e.key)
		c.putLocked(entry{key: e.key, removed: true, gen: c.nextGenLocked()})
	}
	for _, cl := range c.inflightLocked(match) {
		c.detachLocked(cl.key)
		c.bumpLocked(cl.key)
	}
}

// Cancel aborts running fetches of matching keys; their results are never
// written. Cached values are kept.
func (c *Cache) Cancel(match Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cl := range c.inflightLocked(match) {
		cl.cancel()
		c.detachLocked(cl.key)
		c.bumpLocked(cl.key)
	}
}

// startLocked launches the fetch of key and registers it as in flight.
func (c *Cache) startLocked(key Key, fn FetchFunc) *call {
	ctx, cancel := context.WithCancel(c.ctx)
	cl := &call{
		key:    key,
		gen:    c.genLocked(key),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight[key.String()] = cl

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		val, err := safeFetch(ctx, fn)

		c.mu.Lock()
		if err == nil && ctx.Err() == nil && c.genLocked(key) == cl.gen {
			c.putLocked(entry{key: key, value: val, fetchedAt: c.now(), gen: cl.gen})
		}
		if c.inflight[key.String()] == cl {
			delete(c.inflight, key.String())
		}
		c.mu.Unlock()

		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		cl.val, cl.err = val, err
		close(cl.done)
	}()
	return cl
}

func safeFetch(ctx context.Context, fn FetchFunc) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query fetch panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *Cache) lookupLocked(key Key) (entry, bool) {
	v, ok := c.store.Get(key.String())
	if !ok {
		return entry{}, false
	}
	e := v.(entry)
	if e.removed {
		return entry{}, false
	}
	return e, true
}

func (c *Cache) genLocked(key Key) uint64 {
	v, ok := c.store.Get(key.String())
	if !ok {
		return 0
	}
	return v.(entry).gen
}

// bumpLocked gives key a new generation, keeping whatever it holds.
func (c *Cache) bumpLocked(key Key) {
	v, ok := c.store.Get(key.String())
	if !ok {
		c.putLocked(entry{key: key, removed: true, gen: c.nextGenLocked()})
		return
	}
	e := v.(entry)
	e.gen = c.nextGenLocked()
	c.putLocked(e)
}

func (c *Cache) nextGenLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Cache) putLocked(e entry) {
	c.store.Set(e.key.String(), e, c.retention)
}

// detachLocked forgets the in-flight fetch of key so the next reader starts
// a new one.
func (c *Cache) detachLocked(key Key) {
	delete(c.inflight, key.String())
}

func (c *Cache) matchLocked(match Matcher) []entry {
	var out []entry
	for _, item := range c.store.Items() {
		e := item.Object.(entry)
		if !e.removed && match(e.key) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) inflightLocked(match Matcher) []*call {
	var out []*call
	for _, cl := range c.inflight {
		if match(cl.key) {
			out = append(out, cl)
		}
	}
	return out
}
