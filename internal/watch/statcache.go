package watch

import (
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// statKey is the (size, mtime) pair used to pre-validate modify events.
type statKey struct {
	size  int64
	mtime time.Time
}

// StatCache remembers the last observed (size, mtime) per path so that
// modify events with no visible stat change can be dropped before they
// reach the tracker. Readers tolerate stale entries; a false positive
// only costs one redundant hash check downstream.
type StatCache struct {
	cache *lru.Cache[string, statKey]
}

// NewStatCache creates a bounded stat cache.
func NewStatCache(size int) *StatCache {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, statKey](size)
	return &StatCache{cache: c}
}

// Changed stats path and reports whether (size, mtime) differs from the
// cached value, updating the cache. Unknown paths and stat errors count
// as changed.
func (c *StatCache) Changed(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		c.cache.Remove(path)
		return true
	}
	key := statKey{size: info.Size(), mtime: info.ModTime()}
	prev, ok := c.cache.Get(path)
	c.cache.Add(path, key)
	if !ok {
		return true
	}
	return prev != key
}

// Forget drops the cached entry for path.
func (c *StatCache) Forget(path string) {
	c.cache.Remove(path)
}
