// Package cache is an in-memory LRU cache with per-entry time-to-live.
//
// Entries expire lazily when read and are also removed by a background sweep
// so keys written once and never read again do not pin memory until they are
// pushed out by capacity. Recency is tracked by an explicit doubly-linked list
// (hashicorp simplelru), never by map iteration order.
//
// Single process only, nothing survives a restart.
package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/ring"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

const (
	DefaultMaxSize       = 100
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 10 * time.Second

	// responseSamples bounds the latency window used by Stats
	responseSamples = 100
)

// EvictReason labels why an entry left the cache.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictExpired  EvictReason = "expired"
	EvictSwept    EvictReason = "swept"
)

type entry[V any] struct {
	value          V
	createdAt      time.Time
	lastAccessedAt time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size                int    `json:"size"`
	MaxSize             int    `json:"maxSize"`
	Hits                uint64 `json:"hits"`
	Misses              uint64 `json:"misses"`
	HitRate             string `json:"hitRate"`
	AverageResponseTime string `json:"averageResponseTime"`
}

// Cache is safe for concurrent use. The zero value is not usable, use New.
type Cache[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry[V]]
	hits    uint64
	misses  uint64
	samples *ring.Buffer[float64]

	maxSize       int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        log.Logger
	onEvict       func(reason EvictReason, n int)

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type config struct {
	maxSize       int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        log.Logger
	onEvict       func(EvictReason, int)
}

type Option func(*config)

// WithMaxSize caps the number of entries. Values < 1 keep the default.
func WithMaxSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTL sets how long an entry stays valid after it was written.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithSweepInterval sets how often the background sweep runs, 0 disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithClock replaces time.Now, used by tests to move time forward.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithOnEvict is called outside the lock whenever entries are removed for
// capacity or expiry. Explicit Delete and Clear do not fire it.
func WithOnEvict(fn func(reason EvictReason, n int)) Option {
	return func(c *config) { c.onEvict = fn }
}

// New creates a cache and starts its sweep goroutine, which runs until ctx is
// cancelled or StopCleanup is called.
func New[V any](ctx context.Context, opts ...Option) *Cache[V] {
	cfg := config{
		maxSize:       DefaultMaxSize,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        log.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	// only fails for size <= 0, which WithMaxSize rules out
	lru, err := simplelru.NewLRU[string, *entry[V]](cfg.maxSize, nil)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}

	c := &Cache[V]{
		lru:           lru,
		samples:       ring.New[float64](responseSamples),
		maxSize:       cfg.maxSize,
		ttl:           cfg.ttl,
		sweepInterval: cfg.sweepInterval,
		now:           cfg.now,
		logger:        cfg.logger,
		onEvict:       cfg.onEvict,
		done:          make(chan struct{}),
	}

	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if c.sweepInterval > 0 {
		go c.sweepLoop(sctx)
	} else {
		close(c.done)
	}
	return c
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) > c.ttl
}

// Get returns the value for key. A hit makes key the most recently used entry.
// Absent and expired keys count as misses, expired ones are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.now()

	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if c.expired(e, now) {
		c.lru.Remove(key)
		c.misses++
		c.mu.Unlock()
		c.notify(EvictExpired, 1)
		return zero, false
	}
	e.lastAccessedAt = now
	c.hits++
	v := e.value
	c.mu.Unlock()
	return v, true
}

// Set inserts or overwrites key, resetting its age. Adding a new key to a
// full cache evicts the least recently used entry.
func (c *Cache[V]) Set(key string, value V) {
	now := c.now()

	c.mu.Lock()
	evicted := c.lru.Add(key, &entry[V]{value: value, createdAt: now, lastAccessedAt: now})
	c.mu.Unlock()

	if evicted {
		c.notify(EvictCapacity, 1)
	}
}

// Has reports whether key holds a live entry. It removes an expired entry but
// leaves recency order and hit/miss counters alone.
func (c *Cache[V]) Has(key string) bool {
	now := c.now()

	c.mu.Lock()
	e, ok := c.lru.Peek(key)
	if !ok {
		c.mu.Unlock()
		return false
	}
	if c.expired(e, now) {
		c.lru.Remove(key)
		c.mu.Unlock()
		c.notify(EvictExpired, 1)
		return false
	}
	c.mu.Unlock()
	return true
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Len counts stored entries, including expired ones not yet removed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys lists stored keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Clear empties the cache and resets counters and latency samples.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.hits, c.misses = 0, 0
	c.samples.Reset()
}

// RecordResponseTime adds a latency sample (milliseconds) for Stats. It does
// not influence caching.
func (c *Cache[V]) RecordResponseTime(ms float64) {
	c.mu.Lock()
	c.samples.Push(ms)
	c.mu.Unlock()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:                c.lru.Len(),
		MaxSize:             c.maxSize,
		Hits:                c.hits,
		Misses:              c.misses,
		HitRate:             "0%",
		AverageResponseTime: "0ms",
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = fixed2(float64(c.hits)/float64(total)*100) + "%"
	}
	if n := c.samples.Len(); n > 0 {
		var sum float64
		c.samples.Each(func(v float64) bool {
			sum += v
			return true
		})
		s.AverageResponseTime = fixed2(sum/float64(n)) + "ms"
	}
	return s
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.notify(EvictSwept, removed)
	}
	return removed
}

// StopCleanup stops the sweep goroutine and waits for it to exit. Safe to
// call more than once.
func (c *Cache[V]) StopCleanup() {
	c.stopOnce.Do(c.cancel)
	<-c.done
}

// Done is closed once the sweep goroutine has exited.
func (c *Cache[V]) Done() <-chan struct{} { return c.done }

func (c *Cache[V]) sweepLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeSweep(ctx)
		}
	}
}

// safeSweep keeps a panicking sweep (or OnEvict hook) from taking down the process
func (c *Cache[V]) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, xerrors.Newf("cache sweep panic: %v", r), "cache sweep aborted")
		}
	}()
	if n := c.Sweep(); n > 0 {
		c.logger.Debug(ctx, "cache sweep removed stale entries", "removed", n)
	}
}

func (c *Cache[V]) notify(reason EvictReason, n int) {
	if c.onEvict != nil {
		c.onEvict(reason, n)
	}
}

// fixed2 formats v with two decimals, rounding ties away from zero
func fixed2(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}
