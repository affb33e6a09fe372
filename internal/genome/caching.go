package genome

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seqfold/snpbatch/internal/cache"
)

// CachingSource wraps a Source with the window-namespace content cache:
// a fetch first consults the store and only falls through to the
// underlying source on a miss, persisting what it retrieved. A write
// failure disables persistence for the rest of the run and is logged
// once; retrieval keeps working.
type CachingSource struct {
	src      Source
	store    *cache.Store
	genome   string
	disabled atomic.Bool
	logger   atomic.Pointer[zap.Logger]
}

// NewCachingSource wraps src with the window store for a genome build.
func NewCachingSource(src Source, store *cache.Store, genome string) *CachingSource {
	c := &CachingSource{src: src, store: store, genome: genome}
	c.logger.Store(zap.NewNop())
	return c
}

// SetLogger sets the logger used for cache warnings.
func (c *CachingSource) SetLogger(logger *zap.Logger) {
	c.logger.Store(logger)
}

// Fetch returns the bases of [start, end) on chrom, from the window
// cache when present.
func (c *CachingSource) Fetch(ctx context.Context, chrom string, start, end int64) (string, error) {
	key := cache.WindowKey(c.genome, chrom, start, end)

	payload, err := c.store.Get(key)
	if err == nil {
		return string(payload), nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		// Unreadable entry: refetch and overwrite below.
		c.logger.Load().Warn("unreadable window cache entry, refetching",
			zap.String("key", key),
			zap.Error(err))
	}

	seq, err := c.src.Fetch(ctx, chrom, start, end)
	if err != nil {
		return "", err
	}

	if !c.disabled.Load() {
		if err := c.store.Put(key, []byte(seq)); err != nil {
			if c.disabled.CompareAndSwap(false, true) {
				c.logger.Load().Warn("window cache not writable, caching disabled for this run",
					zap.String("dir", c.store.Dir()),
					zap.Error(err))
			}
		}
	}

	return seq, nil
}
