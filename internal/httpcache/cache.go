// Package httpcache is a bounded, content-addressable store of fetched
// responses keyed by canonicalized request, with freshness rules and LRU
// eviction.
package httpcache

import (
	"container/list"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

// Entry is a cached response with optional validators.
type Entry struct {
	Body         []byte
	StatusCode   int
	ContentType  string
	RetrievedAt  time.Time
	ETag         string
	LastModified string
}

// HasValidator reports whether the entry can be conditionally revalidated.
func (e Entry) HasValidator() bool {
	return e.ETag != "" || e.LastModified != ""
}

// Freshness is the verdict of a cache lookup.
type Freshness int

// Lookup verdicts.
const (
	Miss Freshness = iota
	Fresh
	Stale
)

// String returns the metrics label for the verdict.
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "hit"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Config bounds the cache.
type Config struct {
	// MaxEntries caps the entry count; least-recently-used drop first.
	MaxEntries int
	// MaxAge drops entries outright regardless of validators.
	MaxAge time.Duration
	// FreshnessWindow is how long an entry is served without revalidation.
	FreshnessWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1024
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 15 * time.Minute
	}
	return c
}

// Cache is a thread-safe LRU response cache.
type Cache struct {
	cfg   Config
	clock scrape.Clock

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type item struct {
	key   string
	entry Entry
}

// New creates a Cache.
func New(cfg Config, clock scrape.Clock) *Cache {
	return &Cache{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Key canonicalizes a request into a cache key: uppercased method plus the
// URL with sorted query and no fragment.
func Key(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToUpper(method) + " " + rawURL
	}
	u.Fragment = ""
	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	u.Host = strings.ToLower(u.Host)
	return strings.ToUpper(method) + " " + u.String()
}

// Get returns the entry for key and its freshness verdict. Entries past
// MaxAge are removed and reported as misses.
func (c *Cache) Get(key string) (Entry, Freshness) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Entry{}, Miss
	}
	it := el.Value.(*item)
	age := c.clock.Now().Sub(it.entry.RetrievedAt)
	if age >= c.cfg.MaxAge {
		c.removeLocked(el)
		return Entry{}, Miss
	}
	c.order.MoveToFront(el)
	if age < c.cfg.FreshnessWindow {
		return it.entry, Fresh
	}
	return it.entry, Stale
}

// Put stores an entry, evicting least-recently-used entries over capacity.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*item).entry = entry
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&item{key: key, entry: entry})
	c.entries[key] = el
	for c.order.Len() > c.cfg.MaxEntries {
		c.removeLocked(c.order.Back())
	}
}

// Touch refreshes an entry's retrieval timestamp without rewriting the body,
// as after a 304 revalidation. Returns false if the key is absent.
func (c *Cache) Touch(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	el.Value.(*item).entry.RetrievedAt = now
	c.order.MoveToFront(el)
	return true
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(c.entries, el.Value.(*item).key)
	c.order.Remove(el)
}
