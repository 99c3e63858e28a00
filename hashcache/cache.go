// Package hashcache holds the process-wide URI→hash store shared by all
// callers. The cache is loaded from one or more JSON backing stores,
// refreshed wholesale on a time budget, and flushed back to the most recent
// store after enough new entries accumulate.
package hashcache

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"imagefliter/logging"
)

const (
	// DefaultHashSize is the bits-per-dimension parameter of the pHash.
	DefaultHashSize    = 10
	DefaultHashVersion = 1

	// DefaultRefreshTTL is how long a loaded snapshot stays valid before
	// the backing stores are re-read.
	DefaultRefreshTTL = 30 * time.Minute

	// DefaultFlushInterval and DefaultFlushThreshold bound how long new
	// entries stay memory-only: a flush happens after this many new
	// hashes or after this much time, whichever comes first.
	DefaultFlushInterval  = 5 * time.Minute
	DefaultFlushThreshold = 10
)

// Params are the hash-algorithm parameters recorded in every store file.
type Params struct {
	HashSize    int
	HashVersion int
}

// String renders the parameters in store-file form.
func (p Params) String() string {
	return fmt.Sprintf("hash_size=%d;hash_version=%d", p.HashSize, p.HashVersion)
}

// ParseParams parses a "_hash_params" value. Missing or malformed fields
// fall back to the defaults.
func ParseParams(s string) Params {
	p := Params{HashSize: DefaultHashSize, HashVersion: DefaultHashVersion}
	for _, part := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "hash_size":
			p.HashSize = n
		case "hash_version":
			p.HashVersion = n
		}
	}
	return p
}

// CacheIOError reports an unreadable or unwritable backing store. It is
// always non-fatal: the cache behaves as empty or unchanged.
type CacheIOError struct {
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("hash store %s: %v", e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

// Options configures a Cache. Zero values select the defaults above.
type Options struct {
	// StorePaths are the backing JSON stores, loaded in order on refresh.
	// Flushes go to the last path in the list.
	StorePaths     []string
	RefreshTTL     time.Duration
	FlushInterval  time.Duration
	FlushThreshold int
	Params         Params
}

// Cache is the shared URI→hash map. Safe for concurrent use: reads take a
// read lock, the periodic reload swaps the whole map so readers never
// observe a half-loaded state.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]string
	dirty       int
	lastRefresh time.Time
	lastFlush   time.Time
	opts        Options
}

// New builds a cache and performs the initial load. Missing or malformed
// backing stores are logged and skipped; the cache then starts empty.
func New(opts Options) *Cache {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.Params.HashSize == 0 {
		opts.Params.HashSize = DefaultHashSize
	}
	if opts.Params.HashVersion == 0 {
		opts.Params.HashVersion = DefaultHashVersion
	}

	c := &Cache{
		entries:   make(map[string]string),
		lastFlush: time.Now(),
		opts:      opts,
	}
	c.Refresh()
	return c
}

// Get returns the cached hash for a URI. A stale snapshot triggers a
// refresh first.
func (c *Cache) Get(uri string) (string, bool) {
	c.maybeRefresh()

	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[uri]
	return h, ok
}

// Put records a newly computed hash and schedules a flush once enough new
// entries have accumulated. Never fails: write errors are logged inside
// Flush.
func (c *Cache) Put(uri, hash string) {
	c.mu.Lock()
	c.entries[uri] = hash
	c.dirty++
	c.mu.Unlock()

	c.Flush(false)
}

// Refresh reloads the backing stores and atomically replaces the in-memory
// map. If nothing loads, the current snapshot is kept.
func (c *Cache) Refresh() {
	loaded := make(map[string]string)
	any := false
	for _, path := range c.opts.StorePaths {
		_, hashes, err := LoadStore(path)
		if err != nil {
			logging.LogWarning("skipping hash store: %v", &CacheIOError{Path: path, Err: err})
			continue
		}
		for uri, h := range hashes {
			loaded[uri] = h
		}
		any = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if any {
		c.entries = loaded
		c.dirty = 0
	}
	c.lastRefresh = time.Now()
}

// Flush writes the current snapshot to the most recent backing store. With
// force=false the write only happens when the dirty count or the flush
// interval budget is exceeded. Returns whether a write was performed.
func (c *Cache) Flush(force bool) bool {
	c.mu.RLock()
	dirty := c.dirty
	due := dirty >= c.opts.FlushThreshold || time.Since(c.lastFlush) >= c.opts.FlushInterval
	if !force && (dirty == 0 || !due) {
		c.mu.RUnlock()
		return false
	}
	snapshot := make(map[string]string, len(c.entries))
	for uri, h := range c.entries {
		snapshot[uri] = h
	}
	c.mu.RUnlock()

	if len(c.opts.StorePaths) == 0 {
		return false
	}
	target := c.opts.StorePaths[len(c.opts.StorePaths)-1]
	if err := WriteStore(target, c.opts.Params, snapshot); err != nil {
		logging.LogError("flush failed: %v", &CacheIOError{Path: target, Err: err})
		return false
	}

	c.mu.Lock()
	c.dirty = 0
	c.lastFlush = time.Now()
	c.mu.Unlock()

	logging.LogCacheFlush(len(snapshot), dirty, force)
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Params returns the hash-algorithm parameters the cache was built with.
func (c *Cache) Params() Params {
	return c.opts.Params
}

func (c *Cache) maybeRefresh() {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > c.opts.RefreshTTL
	c.mu.RUnlock()
	if stale {
		c.Refresh()
	}
}
