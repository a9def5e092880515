// Package memory bounds the working set of a run: article lists are walked
// in fixed-size chunks, and concurrent batches share a weighted byte budget.
package memory

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/aidigest/internal/model"
)

// Range is a half-open index range [Start, End)
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range
func (r Range) Len() int { return r.End - r.Start }

// Chunks splits n items into consecutive ranges of at most size items.
// A non-positive size yields a single range.
func Chunks(n, size int) []Range {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}

// Budget is a weighted semaphore over bytes held by in-flight work.
// A nil Budget never blocks.
type Budget struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	peak     atomic.Int64
}

// NewBudget creates a budget of capacity bytes; capacity <= 0 returns nil
func NewBudget(capacity int64) *Budget {
	if capacity <= 0 {
		return nil
	}
	return &Budget{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Acquire blocks until n bytes are available or ctx is done. Requests larger
// than the capacity are clamped so a single oversized batch can still run
// alone. It returns the amount actually held, which must be passed to Release.
func (b *Budget) Acquire(ctx context.Context, n int64) (int64, error) {
	if b == nil {
		return n, ctx.Err()
	}
	if n <= 0 {
		n = 1
	}
	if n > b.capacity {
		n = b.capacity
	}
	if err := b.sem.Acquire(ctx, n); err != nil {
		return 0, err
	}
	cur := b.inUse.Add(n)
	for {
		p := b.peak.Load()
		if cur <= p || b.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	return n, nil
}

// Release returns n bytes to the budget
func (b *Budget) Release(n int64) {
	if b == nil || n <= 0 {
		return
	}
	b.inUse.Add(-n)
	b.sem.Release(n)
}

// Capacity returns the configured byte budget (0 for a nil budget)
func (b *Budget) Capacity() int64 {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Peak returns the highest number of bytes held at once
func (b *Budget) Peak() int64 {
	if b == nil {
		return 0
	}
	return b.peak.Load()
}

// ArticleBytes approximates the memory an article's text occupies
func ArticleBytes(a model.Article) int64 {
	return int64(len(a.ID) + len(a.URL) + len(a.Title) + len(a.Body) + len(a.Source))
}
