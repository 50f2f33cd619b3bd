// Package querycache is the process-wide cache of fetched results shared
// by the derived-state services.
//
// Entries are keyed by family and parameters ("daily-stats:<company>:<day>").
// A fetch returns the cached value while it is younger than the caller's
// stale window and runs the fetch function otherwise; concurrent fetches
// of one key share a single call. Mutations invalidate whole families.
// There is no locking across keys: staleness is bounded only by the stale
// windows and by invalidation.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kuppel/kuppel.go/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Key families invalidated by mutations.
const (
	FamilyDailyStats   = "daily-stats"
	FamilyCashSession  = "cash-session"
	FamilyExpenses     = "expenses"
	FamilyVotes        = "votes"
	FamilyLimits       = "company-limits"
	FamilyVariantTypes = "variant-types"
	FamilyTour         = "tour"
)

// Key joins a family and its parameters.
func Key(family string, parts ...any) string {
	var b strings.Builder
	b.WriteString(family)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

type Cache struct {
	store  Store
	group  singleflight.Group
	logger logger.Logger
	now    func() time.Time
}

type Option func(c *Cache)

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, logger: logger.Nop(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the value under key if it is younger than stale, and
// otherwise calls fn and caches its result. Failed calls are not cached.
// A failing store degrades to calling fn every time.
func Fetch[T any](ctx context.Context, c *Cache, key string, stale time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if ok && c.now().Sub(e.StoredAt) < stale {
		var v T
		if err := json.Unmarshal(e.Value, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("dropping undecodable cache entry", "key", key)
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, Entry{Value: data, StoredAt: c.now()}); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// Invalidate drops every key of the given families.
func (c *Cache) Invalidate(ctx context.Context, families ...string) error {
	for _, f := range families {
		if err := c.store.Delete(ctx, f); err != nil {
			return err
		}
		if err := c.store.DeletePrefix(ctx, f+":"); err != nil {
			return err
		}
		c.logger.Debug("cache invalidated", "family", f)
	}
	return nil
}

// Forget drops a single key.
func (c *Cache) Forget(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
