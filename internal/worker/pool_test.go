package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockResult implements Result
type mockResult struct {
	err error
}

func (r *mockResult) GetError() error {
	return r.err
}

// mockJob implements Job
type mockJob struct {
	duration  time.Duration
	shouldErr bool
	executed  *int32 // atomic counter
}

func (j *mockJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		atomic.AddInt32(j.executed, 1)
	}
	if j.duration > 0 {
		select {
		case <-time.After(j.duration):
		case <-ctx.Done():
			return &mockResult{err: ctx.Err()}
		}
	}
	if j.shouldErr {
		return &mockResult{err: errors.New("job error")}
	}
	return &mockResult{err: nil}
}

func TestNewPool(t *testing.T) {
	p1 := NewPool(context.Background(), 5)
	if p1.workers != 5 {
		t.Errorf("expected 5 workers, got %d", p1.workers)
	}

	p2 := NewPool(context.Background(), 0)
	if p2.workers != 1 {
		t.Errorf("expected default 1 worker for 0 input, got %d", p2.workers)
	}

	p3 := NewPool(context.Background(), -1)
	if p3.workers != 1 {
		t.Errorf("expected default 1 worker for negative input, got %d", p3.workers)
	}
}

func TestPool_Execution(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	var executed int32
	count := 10

	for i := 0; i < count; i++ {
		pool.Submit(&mockJob{executed: &executed})
	}

	results := pool.Wait()

	if len(results) != count {
		t.Errorf("expected %d results, got %d", count, len(results))
	}

	if atomic.LoadInt32(&executed) != int32(count) {
		t.Errorf("expected %d executed jobs, got %d", count, executed)
	}
}

// Many more jobs than queue slots must not deadlock
func TestPool_ManyJobs(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	count := 200
	for i := 0; i < count; i++ {
		pool.Submit(&mockJob{})
	}

	if got := len(pool.Wait()); got != count {
		t.Errorf("expected %d results, got %d", count, got)
	}
}

func TestPool_Concurrency(t *testing.T) {
	workers := 10
	pool := NewPool(context.Background(), workers)
	pool.Start()

	totalJobs := 50
	for i := 0; i < totalJobs; i++ {
		pool.Submit(&mockJob{duration: 10 * time.Millisecond})
	}

	results := pool.Wait()
	if len(results) != totalJobs {
		t.Errorf("expected %d completed jobs, got %d", totalJobs, len(results))
	}

	max := pool.MaxActive()
	if max > workers {
		t.Errorf("max concurrency %d exceeded workers %d", max, workers)
	}
	if max <= 1 {
		t.Logf("Warning: max concurrency was %d, expected > 1", max)
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	pool.Submit(&mockJob{shouldErr: true})
	pool.Submit(&mockJob{shouldErr: false})

	results := pool.Wait()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	errs := 0
	for _, res := range results {
		if res.GetError() != nil {
			errs++
		}
	}

	if errs != 1 {
		t.Errorf("expected 1 error, got %d", errs)
	}
}

func TestResultCollector(t *testing.T) {
	c := NewResultCollector()
	c.Add(&mockResult{})
	c.Add(&mockResult{err: errors.New("err")})

	res := c.Results()
	if len(res) != 2 {
		t.Errorf("expected 2 results, got %d", len(res))
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()
	pool.Shutdown()

	done := make(chan bool)
	go func() {
		done <- pool.Submit(&mockJob{})
	}()

	select {
	case accepted := <-done:
		if accepted {
			t.Error("expected Submit after shutdown to be rejected")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPool_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	pool.Submit(&mockJob{duration: 5 * time.Second})
	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan []Result)
	go func() { done <- pool.Wait() }()

	select {
	case results := <-done:
		if len(results) != 1 || !errors.Is(results[0].GetError(), context.Canceled) {
			t.Errorf("expected one canceled result, got %v", results)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Wait did not return after parent cancel")
	}
}
