// mxCache wraps the teacher's internal/cache.Cache pattern — a
// ristretto instance addressed by a namespace:key string — around MX
// answers specifically, so a burst of queued mail to the same
// recipient domain within the cache window resolves once instead of
// once per task (spec §4.5 step 2).
package relay

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

const (
	mxCacheCost int64         = 1
	mxCacheTTL  time.Duration = 5 * time.Minute
)

type mxCache struct {
	c *ristretto.Cache
}

func newMXCache() (*mxCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "NewCache")
	}
	return &mxCache{c: c}, nil
}

func (c *mxCache) get(host string) ([]string, bool) {
	v, ok := c.c.Get(host)
	if !ok {
		return nil, false
	}
	mx, ok := v.([]string)
	return mx, ok
}

func (c *mxCache) set(host string, mx []string) {
	c.c.SetWithTTL(host, mx, mxCacheCost, mxCacheTTL)
}

// cachingResolver fronts a Resolver with mxCache, falling back to
// [host] on an empty or errored lookup per spec §4.5.
type cachingResolver struct {
	inner Resolver
	cache *mxCache
}

func newCachingResolver(inner Resolver) (*cachingResolver, error) {
	cache, err := newMXCache()
	if err != nil {
		return nil, err
	}
	return &cachingResolver{inner: inner, cache: cache}, nil
}

func (c *cachingResolver) MX(host string) ([]string, error) {
	if mx, ok := c.cache.get(host); ok {
		return mx, nil
	}

	mx, err := c.inner.MX(host)
	if err != nil || len(mx) == 0 {
		mx = []string{host}
	}

	c.cache.set(host, mx)
	return mx, nil
}
