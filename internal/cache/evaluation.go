package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

// ErrAbandoned is returned to waiters when the owner of a claim gave up
// without producing an evaluation
var ErrAbandoned = errors.New("evaluation abandoned")

// entryOverhead approximates the fixed cost of one entry in bytes
const entryOverhead = 256

// Options configures an EvaluationCache
type Options struct {
	TTL        time.Duration // Hard age limit measured from creation; 0 disables
	MaxEntries int           // 0 = unbounded
	MaxBytes   int64         // 0 = unbounded
	Backend    Backend       // nil = NopBackend
	Logger     *zap.Logger
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Entries  int
	Bytes    int64
	Hits     int64
	Misses   int64
	Expired  int64
	Evicted  int64
	InFlight int
}

// ClaimState says what a Claim handed back
type ClaimState int

const (
	// ClaimHit means the evaluation was cached
	ClaimHit ClaimState = iota
	// ClaimOwner means the caller must compute and then Complete or Abandon
	ClaimOwner
	// ClaimWait means another caller is computing; use Ticket.Wait
	ClaimWait
)

// Ticket is the result of Claim
type Ticket struct {
	State      ClaimState
	Evaluation model.Evaluation // Set for ClaimHit
	call       *call
}

// Wait blocks until the owning computation finishes or ctx is done.
// Only meaningful for ClaimWait tickets.
func (t *Ticket) Wait(ctx context.Context) (model.Evaluation, error) {
	switch t.State {
	case ClaimHit:
		return t.Evaluation, nil
	case ClaimOwner:
		return model.Evaluation{}, errors.New("wait on an owned claim")
	}
	select {
	case <-t.call.done:
		if t.call.err != nil {
			return model.Evaluation{}, t.call.err
		}
		return t.call.eval.Clone(), nil
	case <-ctx.Done():
		return model.Evaluation{}, ctx.Err()
	}
}

type call struct {
	done chan struct{}
	eval model.Evaluation
	err  error
}

// EvaluationCache is a bounded LRU of evaluations with a hard TTL and at
// most one in-flight computation per fingerprint. Safe for concurrent use.
type EvaluationCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU
	size     int64
	inflight map[model.Fingerprint]*call

	ttl        time.Duration
	maxEntries int
	maxBytes   int64
	backend    Backend
	logger     *zap.Logger
	now        func() time.Time

	hits, misses, expired, evicted int64
}

// New creates an evaluation cache
func New(opts Options) (*EvaluationCache, error) {
	c := &EvaluationCache{
		inflight:   make(map[model.Fingerprint]*call),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		backend:    opts.Backend,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if c.backend == nil {
		c.backend = NopBackend{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	size := opts.MaxEntries
	if size <= 0 {
		size = math.MaxInt32
	}
	lru, err := simplelru.NewLRU(size, func(_ interface{}, value interface{}) {
		c.size -= entrySize(value.(*model.CacheEntry))
	})
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	c.lru = lru
	return c, nil
}

// Get returns a copy of the cached evaluation. Entries older than the TTL
// are removed and reported absent no matter how recently they were read.
func (c *EvaluationCache) Get(fp model.Fingerprint) (model.Evaluation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(fp)
}

func (c *EvaluationCache) getLocked(fp model.Fingerprint) (model.Evaluation, bool) {
	v, ok := c.lru.Get(fp)
	if !ok {
		c.misses++
		return model.Evaluation{}, false
	}
	entry := v.(*model.CacheEntry)
	now := c.now()
	if c.isExpired(entry, now) {
		c.lru.Remove(fp)
		c.expired++
		c.misses++
		return model.Evaluation{}, false
	}
	entry.LastAccessedAt = now
	c.hits++
	return entry.Evaluation.Clone(), true
}

// Put stores a fresh entry and writes it through to the backend. A backend
// failure returns an ErrCacheUnavailable-marked error; the entry is kept
// in memory regardless.
func (c *EvaluationCache) Put(ctx context.Context, fp model.Fingerprint, eval model.Evaluation) error {
	now := c.now()
	entry := &model.CacheEntry{
		Fingerprint:    fp,
		Evaluation:     eval.Clone(),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	c.mu.Lock()
	c.addLocked(entry)
	persisted := *entry
	persisted.Evaluation = entry.Evaluation.Clone()
	c.mu.Unlock()

	if err := c.backend.Save(ctx, persisted, c.ttl); err != nil {
		c.logger.Warn("cache write-through failed",
			zap.String("fingerprint", fp.String()), zap.Error(err))
		return errors.Mark(errors.Wrap(err, "persist evaluation"), errors.ErrCacheUnavailable)
	}
	return nil
}

func (c *EvaluationCache) addLocked(entry *model.CacheEntry) {
	if c.lru.Contains(entry.Fingerprint) {
		c.lru.Remove(entry.Fingerprint)
	}
	c.size += entrySize(entry)
	if c.lru.Add(entry.Fingerprint, entry) {
		c.evicted++
	}
	c.enforceBoundsLocked()
}

// Evict purges TTL-expired entries and enforces the size bounds. It returns
// the number of entries removed.
func (c *EvaluationCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if c.isExpired(v.(*model.CacheEntry), now) {
			c.lru.Remove(k)
			c.expired++
			removed++
		}
	}
	return removed + c.enforceBoundsLocked()
}

// enforceBoundsLocked drops least-recently-used entries until both bounds hold
func (c *EvaluationCache) enforceBoundsLocked() int {
	removed := 0
	for c.lru.Len() > 0 &&
		((c.maxEntries > 0 && c.lru.Len() > c.maxEntries) || (c.maxBytes > 0 && c.size > c.maxBytes)) {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evicted++
		removed++
	}
	return removed
}

// Claim looks fp up and, on a miss, either makes the caller the owner of
// its computation or attaches it to the computation already in flight.
// Owners must call Complete or Abandon exactly once.
func (c *EvaluationCache) Claim(fp model.Fingerprint) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eval, ok := c.getLocked(fp); ok {
		return &Ticket{State: ClaimHit, Evaluation: eval}
	}
	if cl, ok := c.inflight[fp]; ok {
		return &Ticket{State: ClaimWait, call: cl}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[fp] = cl
	return &Ticket{State: ClaimOwner, call: cl}
}

// Complete stores the owner's evaluation and releases waiters with it.
// The Put error, if any, is returned after waiters are released.
func (c *EvaluationCache) Complete(ctx context.Context, fp model.Fingerprint, eval model.Evaluation) error {
	err := c.Put(ctx, fp, eval)
	c.release(fp, eval.Clone(), nil)
	return err
}

// Abandon releases waiters with err (ErrAbandoned if nil). Nothing is cached.
func (c *EvaluationCache) Abandon(fp model.Fingerprint, err error) {
	if err == nil {
		err = ErrAbandoned
	}
	c.release(fp, model.Evaluation{}, err)
}

func (c *EvaluationCache) release(fp model.Fingerprint, eval model.Evaluation, err error) {
	c.mu.Lock()
	cl, ok := c.inflight[fp]
	if ok {
		delete(c.inflight, fp)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	cl.eval = eval
	cl.err = err
	close(cl.done)
}

// Do returns the cached evaluation for fp or computes it with fn. Among
// concurrent callers for the same fingerprint fn runs once; the others wait
// for its result. A failed fn is not cached. When the evaluation was
// computed but could not be persisted, it is returned together with an
// ErrCacheUnavailable-marked error.
func (c *EvaluationCache) Do(ctx context.Context, fp model.Fingerprint, fn func(context.Context) (model.Evaluation, error)) (model.Evaluation, error) {
	t := c.Claim(fp)
	switch t.State {
	case ClaimHit:
		return t.Evaluation, nil
	case ClaimWait:
		return t.Wait(ctx)
	}

	done := false
	defer func() {
		if !done {
			c.Abandon(fp, ErrAbandoned)
		}
	}()

	eval, err := fn(ctx)
	if err != nil {
		done = true
		c.Abandon(fp, err)
		return model.Evaluation{}, err
	}
	done = true
	return eval, c.Complete(ctx, fp, eval)
}

// Load restores unexpired entries from the backend, most recently accessed
// last so they rank as most recent in the LRU. Returns the number kept.
func (c *EvaluationCache) Load(ctx context.Context) (int, error) {
	entries, err := c.backend.LoadAll(ctx)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "load cache"), errors.ErrCacheUnavailable)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i := range entries {
		e := entries[i]
		if e.Fingerprint == "" || c.isExpired(&e, now) {
			continue
		}
		c.addLocked(&e)
	}
	return c.lru.Len(), nil
}

// Purge empties the cache and its backend
func (c *EvaluationCache) Purge(ctx context.Context) error {
	c.mu.Lock()
	c.lru.Purge()
	c.size = 0
	c.mu.Unlock()

	if err := c.backend.Clear(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "clear backend"), errors.ErrCacheUnavailable)
	}
	return nil
}

// Stats returns current counters
func (c *EvaluationCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  c.lru.Len(),
		Bytes:    c.size,
		Hits:     c.hits,
		Misses:   c.misses,
		Expired:  c.expired,
		Evicted:  c.evicted,
		InFlight: len(c.inflight),
	}
}

// Close releases the backend
func (c *EvaluationCache) Close() error {
	return c.backend.Close()
}

func (c *EvaluationCache) isExpired(e *model.CacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl
}

func entrySize(e *model.CacheEntry) int64 {
	ev := e.Evaluation
	n := entryOverhead + len(e.Fingerprint) + len(ev.Summary) + len(ev.WhyItMatters) +
		len(ev.Topic) + len(ev.Audience) + len(ev.Reasoning)
	for _, t := range ev.Tags {
		n += len(t) + 16
	}
	for _, d := range ev.DegradedNotes {
		n += len(d) + 16
	}
	return int64(n)
}
