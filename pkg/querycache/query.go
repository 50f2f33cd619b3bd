package querycache

import (
	"context"
	"sync"
	"time"
)

// Snapshot is what a caller renders: the data, whether a fetch is in
// flight, and the error of the last fetch. Data holds the placeholder
// until a fetch succeeds and again after one fails.
type Snapshot[T any] struct {
	Data      T
	IsLoading bool
	Err       error
	UpdatedAt time.Time
}

// Query is a cached read with a fixed key and stale window.
type Query[T any] struct {
	cache       *Cache
	key         string
	stale       time.Duration
	placeholder T
	fn          func(ctx context.Context) (T, error)

	mu   sync.RWMutex
	snap Snapshot[T]
}

func NewQuery[T any](c *Cache, key string, stale time.Duration, placeholder T, fn func(ctx context.Context) (T, error)) *Query[T] {
	return &Query[T]{
		cache:       c,
		key:         key,
		stale:       stale,
		placeholder: placeholder,
		fn:          fn,
		snap:        Snapshot[T]{Data: placeholder},
	}
}

func (q *Query[T]) Key() string { return q.key }

// Fetch serves from the cache when fresh.
func (q *Query[T]) Fetch(ctx context.Context) Snapshot[T] {
	q.mu.Lock()
	q.snap.IsLoading = true
	q.mu.Unlock()

	v, err := Fetch(ctx, q.cache, q.key, q.stale, q.fn)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.snap.IsLoading = false
	q.snap.Err = err
	if err != nil {
		q.snap.Data = q.placeholder
	} else {
		q.snap.Data = v
	}
	q.snap.UpdatedAt = q.cache.now()
	return q.snap
}

// Refetch drops the cached entry and fetches again.
func (q *Query[T]) Refetch(ctx context.Context) Snapshot[T] {
	if err := q.cache.Forget(ctx, q.key); err != nil {
		q.cache.logger.Warn("cache forget failed", "key", q.key, "error", err)
	}
	return q.Fetch(ctx)
}

// Snapshot returns the last state without fetching.
func (q *Query[T]) Snapshot() Snapshot[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.snap
}
