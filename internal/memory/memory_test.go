package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/aidigest/internal/model"
)

func TestChunks(t *testing.T) {
	assert.Nil(t, Chunks(0, 10))
	assert.Equal(t, []Range{{0, 3}}, Chunks(3, 0))
	assert.Equal(t, []Range{{0, 3}}, Chunks(3, 50))

	got := Chunks(23, 5)
	require.Len(t, got, 5)
	assert.Equal(t, Range{20, 23}, got[4])

	total := 0
	for _, r := range got {
		total += r.Len()
	}
	assert.Equal(t, 23, total)
}

func TestBudget_BoundsConcurrentHolders(t *testing.T) {
	b := NewBudget(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := b.Acquire(ctx, 40)
			if !assert.NoError(t, err) {
				return
			}
			time.Sleep(5 * time.Millisecond)
			b.Release(n)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Peak(), int64(100))
	assert.GreaterOrEqual(t, b.Peak(), int64(40))
}

func TestBudget_ClampsOversizedRequest(t *testing.T) {
	b := NewBudget(10)
	n, err := b.Acquire(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	b.Release(n)
}

func TestBudget_AcquireHonorsContext(t *testing.T) {
	b := NewBudget(10)
	held, err := b.Acquire(context.Background(), 10)
	require.NoError(t, err)
	defer b.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBudget_Nil(t *testing.T) {
	b := NewBudget(0)
	assert.Nil(t, b)

	n, err := b.Acquire(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), n)
	b.Release(n)
	assert.Equal(t, int64(0), b.Capacity())
	assert.Equal(t, int64(0), b.Peak())
}

func TestArticleBytes(t *testing.T) {
	a := model.Article{ID: "ab", Title: "cde", Body: "fghij"}
	assert.Equal(t, int64(10), ArticleBytes(a))
	assert.Equal(t, int64(5), ArticleBytes(a.Slim()))
}
