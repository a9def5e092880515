package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
)

const (
	fetchAttempts    = 3
	fetchBaseBackoff = 500 * time.Millisecond
	maxRedirects     = 3
)

// fetchSleepFunc is swapped out in tests
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusError is a non-2xx HTTP response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Fetcher performs bounded GET requests for feeds and APIs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
}

// NewFetcher wraps client (nil gets a client with the given timeout).
// Redirect chains longer than three hops are refused.
func NewFetcher(client *http.Client, timeout time.Duration, userAgent string, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &Fetcher{httpClient: &c, userAgent: userAgent, maxBytes: maxBytes}
}

// Get fetches rawURL once
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Transient(fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &StatusError{URL: rawURL, Code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.Transient(serr)
		}
		return nil, errors.Permanent(serr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, errors.Transient(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// GetWithRetry retries transient failures with exponential backoff
func (f *Fetcher) GetWithRetry(ctx context.Context, rawURL, accept string) ([]byte, error) {
	var lastErr error
	delay := fetchBaseBackoff
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		body, err := f.Get(ctx, rawURL, accept)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !errors.IsTransient(err) || attempt == fetchAttempts {
			break
		}
		if err := fetchSleepFunc(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}
