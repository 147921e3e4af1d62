package cache

import (
	"sync"
	"time"

	"tokenflow/internal/market"
	"tokenflow/logger"
)

// Entry is one cached value together with its freshness bookkeeping. The
// refreshInFlight flag is the only coordination point between concurrent
// callers: at most one background refresh may run per key, and a second
// request while one is in flight is suppressed, not queued.
type Entry struct {
	Data            market.TokenMarketData
	Source          string
	FetchedAt       time.Time
	TTL             time.Duration
	RefreshInFlight bool
}

// State classifies an entry's age relative to its freshness windows.
type State int

const (
	StateMissing State = iota
	StateFresh
	StateStale   // past ttl but inside the grace window, still servable
	StateExpired // past the grace window, treated like a miss
)

// Cache is the per-resource store with category-scoped TTLs and an extended
// staleness grace window (ttl multiplied by staleBound). It owns its entries
// exclusively; writers never hold references across blocking operations.
type Cache struct {
	mu         sync.Mutex
	entries    map[market.ResourceKey]*Entry
	ttls       map[market.Category]time.Duration
	staleBound float64
	now        func() time.Time
	log        *logger.Log
}

// Default freshness windows per category, taken from how volatile each fact
// is: prices churn every block, supply and pair metadata barely move.
var defaultTTLs = map[market.Category]time.Duration{
	market.CategoryTokenPrice:     1 * time.Second,
	market.CategoryReferencePrice: 3 * time.Second,
	market.CategoryAccountBalance: 5 * time.Second,
	market.CategoryTokenSupply:    30 * time.Second,
	market.CategoryPairMetadata:   60 * time.Second,
}

type Options struct {
	TTLs       map[market.Category]time.Duration
	StaleBound float64
	Now        func() time.Time
}

func New(opts Options) *Cache {
	ttls := make(map[market.Category]time.Duration, len(defaultTTLs))
	for category, ttl := range defaultTTLs {
		ttls[category] = ttl
	}
	for category, ttl := range opts.TTLs {
		if ttl > 0 {
			ttls[category] = ttl
		}
	}
	if opts.StaleBound < 1.0 {
		opts.StaleBound = 3.0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Cache{
		entries:    make(map[market.ResourceKey]*Entry),
		ttls:       ttls,
		staleBound: opts.StaleBound,
		now:        opts.Now,
		log:        logger.GetLogger(),
	}
}

// TTLFor returns the freshness window for a category.
func (c *Cache) TTLFor(category market.Category) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return 30 * time.Second
}

// Get returns a copy of the entry and its freshness state. The copy keeps
// callers from mutating cache-owned state.
func (c *Cache) Get(key market.ResourceKey) (Entry, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, StateMissing
	}

	age := c.now().Sub(entry.FetchedAt)
	switch {
	case age < entry.TTL:
		return *entry, StateFresh
	case float64(age) < float64(entry.TTL)*c.staleBound:
		return *entry, StateStale
	default:
		return *entry, StateExpired
	}
}

// Put stores a resolved value under the category's TTL, clearing any refresh
// flag left by a previous entry.
func (c *Cache) Put(key market.ResourceKey, data market.TokenMarketData, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{
		Data:      data,
		Source:    source,
		FetchedAt: c.now(),
		TTL:       c.TTLFor(key.Category),
	}
}

// Invalidate drops the entry for a key.
func (c *Cache) Invalidate(key market.ResourceKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// TryMarkRefresh atomically sets the refresh flag for a key. It reports false
// when a refresh is already in flight, which is the de-duplication guarantee
// concurrent stale readers rely on.
func (c *Cache) TryMarkRefresh(key market.ResourceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.RefreshInFlight {
		return false
	}
	entry.RefreshInFlight = true
	return true
}

// ClearRefresh resets the refresh flag. It runs in a defer around every
// refresh job so a failed fetch can never leave the flag stuck.
func (c *Cache) ClearRefresh(key market.ResourceKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.RefreshInFlight = false
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes entries older than their grace window. The engine runs this
// periodically so abandoned keys do not accumulate.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for key, entry := range c.entries {
		if entry.RefreshInFlight {
			continue
		}
		// Reference prices outlive their grace window: an expired entry is
		// the last-resort answer when every live source is down.
		if key.Category == market.CategoryReferencePrice {
			continue
		}
		if float64(now.Sub(entry.FetchedAt)) >= float64(entry.TTL)*c.staleBound {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.log.WithComponent("cache").WithFields(logger.Fields{"removed": removed}).Debug("cache sweep")
	}
	return removed
}
