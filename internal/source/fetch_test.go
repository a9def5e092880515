package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
)

func noFetchSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func TestGetWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()

	f := NewFetcher(nil, 5*time.Second, "test-agent", 1<<20)
	body, err := f.GetWithRetry(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(body) != "OK" {
		t.Errorf("Unexpected body: %s", body)
	}
}

func TestGetWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()
	noFetchSleep(t)

	f := NewFetcher(nil, 5*time.Second, "test-agent", 1<<20)
	if _, err := f.GetWithRetry(context.Background(), server.URL, ""); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestGetWithRetry_PermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	noFetchSleep(t)

	f := NewFetcher(nil, 5*time.Second, "test-agent", 1<<20)
	_, err := f.GetWithRetry(context.Background(), server.URL, "")
	if err == nil {
		t.Fatal("Expected error for 404, got nil")
	}
	if !errors.IsPermanent(err) {
		t.Errorf("404 should be permanent: %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("404 is not retryable, got %d attempts", attempts.Load())
	}
}

func TestGetWithRetry_AllRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	noFetchSleep(t)

	f := NewFetcher(nil, 5*time.Second, "test-agent", 1<<20)
	_, err := f.GetWithRetry(context.Background(), server.URL, "")
	if err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if !errors.IsTransient(err) {
		t.Errorf("429 should be transient: %v", err)
	}
	if attempts.Load() != fetchAttempts {
		t.Errorf("Expected %d attempts, got %d", fetchAttempts, attempts.Load())
	}
}

func TestGet_MaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	f := NewFetcher(nil, 5*time.Second, "test-agent", 10)
	body, err := f.Get(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(body) != 10 {
		t.Errorf("expected body capped at 10 bytes, got %d", len(body))
	}
}

func TestGet_TooManyRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	f := NewFetcher(nil, 5*time.Second, "test-agent", 1<<20)
	if _, err := f.Get(context.Background(), server.URL+"/a", ""); err == nil {
		t.Fatal("expected redirect loop to fail")
	}
}
