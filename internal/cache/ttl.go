package cache

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 10
)

// Observer is told about every lookup outcome.
type Observer interface {
	CacheHit(key string)
	CacheMiss(key string)
}

// Options configures a TTLCache. Zero values take the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
	Observer   Observer
}

// Entry is one cached value.
type Entry struct {
	Data      interface{}
	StoredAt  time.Time
	ExpiresAt time.Time
}

// TTLCache is a bounded key/value cache with lazy expiry. When full it evicts
// the entry that was inserted first, regardless of how recently it was read.
// Values are snapshots: callers must not use a hit to decide a write.
type TTLCache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*Entry
	order   []string
}

// New creates an isolated cache.
func New(opts Options) *TTLCache {
	c := &TTLCache{}
	c.Init(opts)
	return c
}

// Init (re)configures the cache and drops every entry.
func (c *TTLCache) Init(opts Options) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
	c.entries = make(map[string]*Entry, opts.MaxEntries)
	c.order = c.order[:0]
}

// Get returns the value for key. Expired entries are evicted and reported as
// a miss.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.opts.Now().Before(e.ExpiresAt) {
		c.removeLocked(key)
		ok = false
	}
	obs := c.opts.Observer
	c.mu.Unlock()

	if obs != nil {
		if ok {
			obs.CacheHit(key)
		} else {
			obs.CacheMiss(key)
		}
	}
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Peek is Get without telling the observer. Background patchers use it so
// their lookups do not count as reads.
func (c *TTLCache) Peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.opts.Now().Before(e.ExpiresAt) {
		return nil, false
	}
	return e.Data, true
}

// GetAs is Get with a type assertion; a value of another type is a miss.
func GetAs[T any](c *TTLCache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Set stores value with the default TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value for ttl (default TTL when ttl <= 0).
func (c *TTLCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		ttl = c.opts.TTL
	}
	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	for len(c.entries) >= c.opts.MaxEntries && len(c.order) > 0 {
		c.removeLocked(c.order[0])
	}
	now := c.opts.Now()
	c.entries[key] = &Entry{Data: value, StoredAt: now, ExpiresAt: now.Add(ttl)}
	c.order = append(c.order, key)
}

// Delete removes key and reports whether it was present.
func (c *TTLCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// InvalidatePattern removes every key containing pattern and returns how many
// were removed.
func (c *TTLCache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var doomed []string
	for _, k := range c.order {
		if strings.Contains(k, pattern) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		c.removeLocked(k)
	}
	return len(doomed)
}

// Reset drops every entry and keeps the configuration.
func (c *TTLCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry, c.opts.MaxEntries)
	c.order = c.order[:0]
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// OfferKey and friends namespace entries per offer. All keys of one offer
// share the OfferKey prefix, so InvalidatePattern(OfferKey(id)) clears them all.
func OfferKey(offerID string) string          { return "offer_" + offerID }
func DocumentsKey(offerID string) string      { return OfferKey(offerID) + "_documents" }
func CommunicationsKey(offerID string) string { return OfferKey(offerID) + "_communications" }
