// Package cache is the client-side query cache: keyed results with
// freshness windows, prefix invalidation, de-duplicated fetches with
// retry, and optimistic writes that can be rolled back.
package cache

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/lox/topografia/internal/metrics"
	"github.com/lox/topografia/internal/querykeys"
)

// Freshness classes for queries.
const (
	Short    = 2 * time.Minute
	Medium   = 5 * time.Minute
	Long     = 10 * time.Minute
	VeryLong = 30 * time.Minute
)

const (
	DefaultStaleTime = Medium
	DefaultCacheTime = Long
	DefaultRetries   = 3

	maxRetryDelay = 30 * time.Second
)

// RetryPolicy decides whether a failed fetch is retried. failureCount is
// the number of failures before this one.
type RetryPolicy func(failureCount int, err error) bool

// StatusError is implemented by errors that carry an HTTP status.
type StatusError interface {
	HTTPStatus() int
}

// DefaultRetry never retries client errors (4xx, including 404) and
// otherwise retries up to DefaultRetries times.
func DefaultRetry(failureCount int, err error) bool {
	var se StatusError
	if errors.As(err, &se) {
		if s := se.HTTPStatus(); s >= 400 && s < 500 {
			return false
		}
	}
	return failureCount < DefaultRetries
}

// NoRetry disables retries, used for mutations.
func NoRetry(int, error) bool { return false }

// Options configures a Client.
type Options struct {
	StaleTime time.Duration
	CacheTime time.Duration
	Retry     RetryPolicy
}

// FetchOptions overrides client defaults for one query.
type FetchOptions struct {
	StaleTime time.Duration
	CacheTime time.Duration
	Retry     RetryPolicy
}

type entry struct {
	key         querykeys.Key
	data        any
	updatedAt   time.Time
	lastUsed    time.Time
	cacheTime   time.Duration
	invalidated bool
}

// Client holds cached query results.
type Client struct {
	mu       sync.Mutex
	entries  map[string]*entry
	versions map[string]uint64
	group    singleflight.Group
	opts     Options

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// New returns a Client with defaults filled in.
func New(opts Options) *Client {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = DefaultCacheTime
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetry
	}
	return &Client{
		entries:    make(map[string]*entry),
		versions:   make(map[string]uint64),
		opts:       opts,
		now:        time.Now,
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff waits min(1s * 2^n, 30s) between attempts.
func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = 0
	return bo
}

func (c *Client) resolve(o FetchOptions) FetchOptions {
	if o.StaleTime <= 0 {
		o.StaleTime = c.opts.StaleTime
	}
	if o.CacheTime <= 0 {
		o.CacheTime = c.opts.CacheTime
	}
	if o.Retry == nil {
		o.Retry = c.opts.Retry
	}
	return o
}

// bump records a write to key. Callers hold c.mu.
func (c *Client) bump(id string) {
	c.versions[id]++
}

// Get returns the cached data for key, fresh or not.
func (c *Client) Get(key querykeys.Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.ID()]
	if !ok {
		return nil, false
	}
	e.lastUsed = c.now()
	return e.data, true
}

// Set stores data for key as fresh.
func (c *Client) Set(key querykeys.Key, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, data, c.opts.CacheTime)
}

func (c *Client) setLocked(key querykeys.Key, data any, cacheTime time.Duration) {
	id := key.ID()
	now := c.now()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(querykeys.Key(nil), key...), cacheTime: cacheTime}
		c.entries[id] = e
	}
	e.data = data
	e.updatedAt = now
	e.lastUsed = now
	e.invalidated = false
	c.bump(id)
}

// Update replaces the data for key with fn(old). fn must return a new
// value rather than mutating old. If fn reports false nothing is written.
func (c *Client) Update(key querykeys.Key, fn func(old any, ok bool) (any, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var old any
	e, ok := c.entries[key.ID()]
	if ok {
		old = e.data
	}
	next, write := fn(old, ok)
	if !write {
		return
	}
	cacheTime := c.opts.CacheTime
	if ok {
		cacheTime = e.cacheTime
	}
	c.setLocked(key, next, cacheTime)
}

// Invalidate marks every entry under prefix as stale so the next Fetch
// goes to the network. In-flight fetches for those keys will not
// overwrite the cache.
func (c *Client) Invalidate(prefix querykeys.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			e.invalidated = true
			c.bump(id)
		}
	}
}

// Remove drops every entry under prefix.
func (c *Client) Remove(prefix querykeys.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, id)
			c.bump(id)
		}
	}
}

// Prune drops entries not used for longer than their cache time and
// returns how many were removed.
func (c *Client) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.lastUsed) > e.cacheTime {
			delete(c.entries, id)
			removed++
		}
	}
	for id := range c.versions {
		if _, ok := c.entries[id]; !ok {
			delete(c.versions, id)
		}
	}
	return removed
}

// PruneEvery runs Prune every interval until ctx is done.
func (c *Client) PruneEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(); n > 0 {
				log.Printf("cache: pruned %d unused entries", n)
			}
		}
	}
}

// Keys returns every cached key in stable order.
func (c *Client) Keys() []querykeys.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]querykeys.Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID() < keys[j].ID() })
	return keys
}

// IsStale reports whether key is missing, invalidated, or older than staleTime.
func (c *Client) IsStale(key querykeys.Key, staleTime time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, fresh := c.freshLocked(key.ID(), staleTime)
	return !fresh
}

func (c *Client) freshLocked(id string, staleTime time.Duration) (*entry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e, !e.invalidated && c.now().Sub(e.updatedAt) < staleTime
}

// Snapshot captures the current state of key and returns a function that
// restores it: the previous data if there was any, otherwise removal.
func (c *Client) Snapshot(key querykeys.Key) (rollback func()) {
	c.mu.Lock()
	prev, had := c.entries[key.ID()]
	var saved entry
	if had {
		saved = *prev
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		id := key.ID()
		if !had {
			delete(c.entries, id)
			c.bump(id)
			return
		}
		restored := saved
		restored.lastUsed = c.now()
		c.entries[id] = &restored
		c.bump(id)
	}
}

// Optimistic applies apply to key immediately, then runs mutate. If mutate
// fails the key is rolled back to its previous state. settle always runs
// afterwards, typically to invalidate related queries.
func (c *Client) Optimistic(ctx context.Context, key querykeys.Key, apply func(old any, ok bool) (any, bool), mutate func(ctx context.Context) error, settle func()) error {
	rollback := c.Snapshot(key)
	c.Update(key, apply)

	err := mutate(ctx)
	if err != nil {
		log.Printf("cache: optimistic update of %s failed, rolling back: %v", key, err)
		rollback()
	}
	if settle != nil {
		settle()
	}
	return err
}

type fetchResult struct {
	data any
}

// Fetch returns the cached value for key when it is fresh, otherwise runs
// fn. Concurrent callers for the same key share one call to fn. Failed
// calls are retried according to the retry policy.
func Fetch[T any](ctx context.Context, c *Client, key querykeys.Key, opts FetchOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = c.resolve(opts)
	id := key.ID()

	c.mu.Lock()
	if e, fresh := c.freshLocked(id, opts.StaleTime); fresh {
		if v, ok := e.data.(T); ok {
			e.lastUsed = c.now()
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues(key.Root(), "hit").Inc()
			return v, nil
		}
	} else if e != nil {
		metrics.CacheLookups.WithLabelValues(key.Root(), "stale").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(key.Root(), "miss").Inc()
	}
	c.mu.Unlock()

	// The shared call outlives any one caller; each caller still stops
	// waiting when its own ctx is done.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		c.mu.Lock()
		version := c.versions[id]
		c.mu.Unlock()

		data, err := c.run(shared, key, opts.Retry, func(ctx context.Context) (any, error) {
			v, err := fn(ctx)
			return v, err
		})
		if err != nil {
			metrics.CacheFetches.WithLabelValues(key.Root(), "error").Inc()
			return nil, err
		}
		metrics.CacheFetches.WithLabelValues(key.Root(), "ok").Inc()

		c.mu.Lock()
		if c.versions[id] == version {
			c.setLocked(key, data, opts.CacheTime)
		} else {
			log.Printf("cache: %s changed during fetch, keeping local value", key)
		}
		c.mu.Unlock()
		return fetchResult{data: data}, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(fetchResult).data.(T)
		return v, nil
	}
}

func (c *Client) run(ctx context.Context, key querykeys.Key, policy RetryPolicy, fn func(ctx context.Context) (any, error)) (any, error) {
	var (
		data     any
		failures int
	)
	operation := func() error {
		v, err := fn(ctx)
		if err == nil {
			data = v
			return nil
		}
		if ctx.Err() != nil || !policy(failures, err) {
			return backoff.Permanent(err)
		}
		failures++
		log.Printf("cache: fetch %s failed (attempt %d), retrying: %v", key, failures, err)
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		log.Printf("cache: fetch %s failed: %v", key, err)
		return nil, err
	}
	return data, nil
}
