package httpcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(cfg, clock), clock
}

func TestKeyCanonicalization(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		Key("get", "https://Example.com/teams?b=2&a=1"),
		Key("GET", "https://example.com/teams?a=1&b=2"))
	require.Equal(t,
		Key("GET", "https://example.com/teams#frag"),
		Key("GET", "https://example.com/teams"))
	require.NotEqual(t,
		Key("GET", "https://example.com/teams"),
		Key("GET", "https://example.com/players"))
}

func TestCache_RoundTripWithinFreshnessWindow(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{FreshnessWindow: 10 * time.Minute})
	key := Key("GET", "https://example.com/teams")
	body := []byte("<html>teams</html>")

	c.Put(key, Entry{Body: body, StatusCode: 200, RetrievedAt: clock.Now()})

	got, verdict := c.Get(key)
	require.Equal(t, Fresh, verdict)
	require.Equal(t, body, got.Body)

	clock.Advance(9 * time.Minute)
	_, verdict = c.Get(key)
	require.Equal(t, Fresh, verdict)
}

func TestCache_StaleAfterFreshnessWindow(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{FreshnessWindow: 10 * time.Minute})
	key := Key("GET", "https://example.com/teams")
	c.Put(key, Entry{Body: []byte("x"), StatusCode: 200, RetrievedAt: clock.Now(), ETag: `"v1"`})

	clock.Advance(11 * time.Minute)
	got, verdict := c.Get(key)
	require.Equal(t, Stale, verdict)
	require.True(t, got.HasValidator())
}

func TestCache_TouchRefreshesWithoutRewritingBody(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{FreshnessWindow: 10 * time.Minute})
	key := Key("GET", "https://example.com/teams")
	c.Put(key, Entry{Body: []byte("original"), StatusCode: 200, RetrievedAt: clock.Now()})

	clock.Advance(11 * time.Minute)
	_, verdict := c.Get(key)
	require.Equal(t, Stale, verdict)

	require.True(t, c.Touch(key, clock.Now()))
	got, verdict := c.Get(key)
	require.Equal(t, Fresh, verdict)
	require.Equal(t, []byte("original"), got.Body)

	require.False(t, c.Touch("absent", clock.Now()))
}

func TestCache_MaxAgeDropsEntry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{FreshnessWindow: time.Minute, MaxAge: time.Hour})
	key := Key("GET", "https://example.com/teams")
	c.Put(key, Entry{Body: []byte("x"), StatusCode: 200, RetrievedAt: clock.Now(), ETag: `"v1"`})

	clock.Advance(2 * time.Hour)
	_, verdict := c.Get(key)
	require.Equal(t, Miss, verdict)
	require.Zero(t, c.Len())
}

func TestCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{MaxEntries: 3})
	keys := make([]string, 4)
	for i := range keys {
		keys[i] = Key("GET", fmt.Sprintf("https://example.com/p/%d", i))
	}
	for _, k := range keys[:3] {
		c.Put(k, Entry{Body: []byte(k), StatusCode: 200, RetrievedAt: clock.Now()})
	}

	// Touch key 0 so key 1 becomes the LRU victim.
	_, verdict := c.Get(keys[0])
	require.Equal(t, Fresh, verdict)

	c.Put(keys[3], Entry{Body: []byte("new"), StatusCode: 200, RetrievedAt: clock.Now()})
	require.Equal(t, 3, c.Len())

	_, verdict = c.Get(keys[1])
	require.Equal(t, Miss, verdict)
	_, verdict = c.Get(keys[0])
	require.Equal(t, Fresh, verdict)
}

func TestCache_PutReplacesExisting(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(Config{})
	key := Key("GET", "https://example.com/teams")
	c.Put(key, Entry{Body: []byte("v1"), StatusCode: 200, RetrievedAt: clock.Now()})
	c.Put(key, Entry{Body: []byte("v2"), StatusCode: 200, RetrievedAt: clock.Now()})

	got, _ := c.Get(key)
	require.Equal(t, []byte("v2"), got.Body)
	require.Equal(t, 1, c.Len())
}
