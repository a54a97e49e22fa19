// Package urlcache holds resolved delivery URLs in front of the resolver.
//
// Entries are keyed by normalized path, transform and access class, and are
// recorded with an expiry a safety margin ahead of the URL's real expiry, so
// a hit is always usable. The cache is an explicitly constructed component:
// New, Start, Close. Writes to the persister are coalesced over a debounce
// window and run off the request path.
package urlcache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"Fanvault/logger"
	"Fanvault/metrics"
)

// ErrQuotaExceeded is returned by a Persister whose backing store is full.
var ErrQuotaExceeded = errors.New("urlcache: storage quota exceeded")

// Key identifies one resolved URL.
type Key struct {
	Path        string
	Transform   string
	AccessClass string
}

// String is the persisted form of the key.
func (k Key) String() string {
	return k.AccessClass + "|" + k.Path + "|" + k.Transform
}

// Entry is a cached URL. Handle is process-local and never persisted.
type Entry struct {
	URL         string
	ExpiresAt   time.Time
	CachedAt    time.Time
	AccessClass string
	Handle      any
}

// Record is the persisted shape of an entry.
type Record struct {
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CachedAt    time.Time `json:"cachedAt"`
	AccessClass string    `json:"accessClass"`
}

// Persister stores snapshots of the cache. Save replaces the whole snapshot.
type Persister interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, records map[string]Record) error
	Clear(ctx context.Context) error
}

// Options tunes a Cache. Zero values pick defaults.
type Options struct {
	SafetyMargin  time.Duration
	Debounce      time.Duration
	BudgetBytes   int64
	MaxEntries    int
	SweepInterval time.Duration
	Now           func() time.Time
}

const (
	// Snapshots above highWater of the budget are trimmed to lowWater
	// before they are written.
	highWater = 0.9
	lowWater  = 0.7
	// recordOverhead approximates the JSON punctuation around each record.
	recordOverhead = 6
)

func (o *Options) setDefaults() {
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = 5 * time.Minute
	}
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.BudgetBytes <= 0 {
		o.BudgetBytes = 4 << 20
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 5000
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Flushes   uint64 `json:"flushes"`
	Bytes     int64  `json:"bytes"`
}

type item struct {
	key   string
	entry Entry
	size  int64
}

// Cache is an LRU of resolved URLs with debounced persistence.
type Cache struct {
	opts      Options
	persister Persister

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front is most recently used
	bytes   int64
	stats   Stats
	dirty   bool
	timer   *time.Timer
	closed  bool

	// flushMu orders persister writes against each other and against Clear.
	flushMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// New creates a cache. persister may be nil for a memory-only cache.
func New(opts Options, persister Persister) *Cache {
	opts.setDefaults()
	return &Cache{
		opts:      opts,
		persister: persister,
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
	}
}

// Start loads persisted entries, dropping any that have expired, and starts
// the periodic sweep. A failed load leaves the cache empty but usable.
func (c *Cache) Start(ctx context.Context) error {
	var loadErr error
	if c.persister != nil {
		if err := c.load(ctx); err != nil {
			logger.Warn("url cache load failed, starting empty", logger.ErrorField(err))
			loadErr = err
		}
	}

	c.mu.Lock()
	if c.stop == nil {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.sweepLoop(c.stop, c.done)
	}
	c.mu.Unlock()
	return loadErr
}

// Close stops the sweep and the pending debounce timer, then writes a final
// snapshot. The cache must not be used afterwards.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stop, done := c.stop, c.done
	dirty := c.dirty
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if dirty {
		return c.Flush(ctx)
	}
	return nil
}

func (c *Cache) load(ctx context.Context) error {
	records, err := c.persister.Load(ctx)
	if err != nil {
		return err
	}

	type kr struct {
		key string
		rec Record
	}
	fresh := make([]kr, 0, len(records))
	now := c.opts.Now()
	dropped := 0
	for k, r := range records {
		if !r.ExpiresAt.After(now) || r.URL == "" {
			dropped++
			continue
		}
		fresh = append(fresh, kr{k, r})
	}
	// Oldest first so the most recently cached ends up at the front.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].rec.CachedAt.Before(fresh[j].rec.CachedAt) })

	c.mu.Lock()
	for _, f := range fresh {
		c.insertLocked(f.key, Entry{
			URL:         f.rec.URL,
			ExpiresAt:   f.rec.ExpiresAt,
			CachedAt:    f.rec.CachedAt,
			AccessClass: f.rec.AccessClass,
		})
	}
	for c.lru.Len() > c.opts.MaxEntries {
		c.evictOldestLocked("lru")
	}
	if dropped > 0 {
		c.stats.Evictions += uint64(dropped)
		metrics.URLCacheEvictionsTotal.WithLabelValues("expired").Add(float64(dropped))
		c.markDirtyLocked()
	}
	metrics.URLCacheEntries.Set(float64(c.lru.Len()))
	c.mu.Unlock()

	logger.Info("url cache loaded",
		logger.Int("entries", len(fresh)),
		logger.Int("droppedExpired", dropped))
	return nil
}

// Get returns the entry for key. An entry past its recorded expiry is evicted
// and reported absent.
func (c *Cache) Get(key Key) (Entry, bool) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[k]
	if !ok {
		c.stats.Misses++
		metrics.URLCacheRequestsTotal.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	it := el.Value.(*item)
	if !c.opts.Now().Before(it.entry.ExpiresAt) {
		c.removeLocked(el)
		c.stats.Misses++
		c.stats.Evictions++
		metrics.URLCacheRequestsTotal.WithLabelValues("expired").Inc()
		metrics.URLCacheEvictionsTotal.WithLabelValues("expired").Inc()
		c.markDirtyLocked()
		return Entry{}, false
	}
	c.lru.MoveToFront(el)
	c.stats.Hits++
	metrics.URLCacheRequestsTotal.WithLabelValues("hit").Inc()
	return it.entry, true
}

// Set caches e. e.ExpiresAt is the URL's real expiry; the recorded expiry is
// the safety margin earlier. URLs that would already be stale are not
// cached, and Set reports false.
func (c *Cache) Set(key Key, e Entry) bool {
	now := c.opts.Now()
	e.ExpiresAt = e.ExpiresAt.Add(-c.opts.SafetyMargin)
	if !e.ExpiresAt.After(now) || e.URL == "" {
		return false
	}
	if e.CachedAt.IsZero() {
		e.CachedAt = now
	}
	if e.AccessClass == "" {
		e.AccessClass = key.AccessClass
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.insertLocked(key.String(), e)
	for c.lru.Len() > c.opts.MaxEntries {
		c.evictOldestLocked("lru")
	}
	metrics.URLCacheEntries.Set(float64(c.lru.Len()))
	c.markDirtyLocked()
	return true
}

// SafetyMargin is how much earlier than the URL's real expiry an entry
// stops being served. Entry.ExpiresAt plus the margin is the real expiry.
func (c *Cache) SafetyMargin() time.Duration {
	return c.opts.SafetyMargin
}

// Delete drops one key.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key.String()]; ok {
		c.removeLocked(el)
		metrics.URLCacheEntries.Set(float64(c.lru.Len()))
		c.markDirtyLocked()
	}
}

// Clear wipes memory and persisted state.
func (c *Cache) Clear(ctx context.Context) error {
	c.clearMemory()
	if c.persister == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.persister.Clear(ctx)
}

func (c *Cache) clearMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lru.Len()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.bytes = 0
	c.dirty = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.stats.Evictions += uint64(n)
	metrics.URLCacheEvictionsTotal.WithLabelValues("clear").Add(float64(n))
	metrics.URLCacheEntries.Set(0)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.Bytes = c.bytes
	return s
}

// Sweep evicts every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*item).entry.ExpiresAt) {
			c.removeLocked(el)
			n++
		}
		el = prev
	}
	if n > 0 {
		c.stats.Evictions += uint64(n)
		metrics.URLCacheEvictionsTotal.WithLabelValues("expired").Add(float64(n))
		metrics.URLCacheEntries.Set(float64(c.lru.Len()))
		c.markDirtyLocked()
	}
	return n
}

func (c *Cache) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logger.Debug("url cache sweep", logger.Int("evicted", n))
			}
		}
	}
}

// Flush writes a snapshot now, trimming to the budget first. Quota errors
// from the persister trigger eviction and one retry, then a full clear.
func (c *Cache) Flush(ctx context.Context) error {
	if c.persister == nil {
		c.mu.Lock()
		c.dirty = false
		c.mu.Unlock()
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	c.dirty = false
	if float64(c.bytes) > highWater*float64(c.opts.BudgetBytes) {
		c.trimLocked(int64(lowWater*float64(c.opts.BudgetBytes)), "quota")
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	err := c.persister.Save(ctx, snapshot)
	if errors.Is(err, ErrQuotaExceeded) {
		logger.Warn("url cache persist hit quota, evicting", logger.Int("entries", len(snapshot)))
		c.mu.Lock()
		c.trimLocked(c.bytes/2, "quota")
		snapshot = c.snapshotLocked()
		c.mu.Unlock()
		err = c.persister.Save(ctx, snapshot)
		if errors.Is(err, ErrQuotaExceeded) {
			logger.Error("url cache persist still over quota, clearing")
			c.clearMemory()
			metrics.URLCacheFlushesTotal.WithLabelValues("error").Inc()
			if clearErr := c.persister.Clear(ctx); clearErr != nil {
				return clearErr
			}
			return err
		}
	}
	if err != nil {
		metrics.URLCacheFlushesTotal.WithLabelValues("error").Inc()
		return err
	}

	c.mu.Lock()
	c.stats.Flushes++
	c.mu.Unlock()
	metrics.URLCacheFlushesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Cache) scheduledFlush() {
	c.mu.Lock()
	c.timer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.Flush(context.Background()); err != nil {
		logger.Warn("url cache flush failed", logger.ErrorField(err))
	}
}

// markDirtyLocked arms the debounce timer unless one is already pending, so
// a burst of writes produces one flush.
func (c *Cache) markDirtyLocked() {
	c.dirty = true
	if c.persister == nil || c.closed || c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.opts.Debounce, c.scheduledFlush)
}

func (c *Cache) insertLocked(k string, e Entry) {
	size := recordSize(k, e)
	if el, ok := c.entries[k]; ok {
		it := el.Value.(*item)
		c.bytes += size - it.size
		it.entry = e
		it.size = size
		c.lru.MoveToFront(el)
		return
	}
	c.entries[k] = c.lru.PushFront(&item{key: k, entry: e, size: size})
	c.bytes += size
}

func (c *Cache) removeLocked(el *list.Element) {
	it := el.Value.(*item)
	c.lru.Remove(el)
	delete(c.entries, it.key)
	c.bytes -= it.size
}

func (c *Cache) evictOldestLocked(reason string) {
	el := c.lru.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.stats.Evictions++
	metrics.URLCacheEvictionsTotal.WithLabelValues(reason).Inc()
}

func (c *Cache) trimLocked(target int64, reason string) {
	for c.bytes > target && c.lru.Len() > 0 {
		c.evictOldestLocked(reason)
	}
	metrics.URLCacheEntries.Set(float64(c.lru.Len()))
}

func (c *Cache) snapshotLocked() map[string]Record {
	out := make(map[string]Record, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		it := el.Value.(*item)
		out[it.key] = toRecord(it.entry)
	}
	return out
}

func toRecord(e Entry) Record {
	return Record{
		URL:         e.URL,
		ExpiresAt:   e.ExpiresAt,
		CachedAt:    e.CachedAt,
		AccessClass: e.AccessClass,
	}
}

// recordSize is the serialized size of one persisted record.
func recordSize(k string, e Entry) int64 {
	raw, err := json.Marshal(toRecord(e))
	if err != nil {
		return int64(len(k) + len(e.URL) + 128)
	}
	return int64(len(k)+len(raw)) + recordOverhead
}
