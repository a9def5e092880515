package util

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker answers whether a feed or API URL may be fetched by our
// user agent. Rules are fetched once per scheme+host and kept in memory.
type RobotsChecker struct {
	rules      map[string]*robotstxt.RobotsData
	mu         sync.RWMutex
	httpClient *http.Client
	userAgent  string
	agentToken string
}

// NewRobotsChecker creates a checker using client for robots.txt requests.
// A nil client gets a plain client with the given timeout.
func NewRobotsChecker(userAgent string, client *http.Client, timeout time.Duration) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RobotsChecker{
		rules:      make(map[string]*robotstxt.RobotsData),
		httpClient: client,
		userAgent:  userAgent,
		agentToken: AgentToken(userAgent),
	}
}

// Check reports whether rawURL may be fetched and the crawl delay to honour.
// Unreachable robots.txt files allow the fetch.
func (r *RobotsChecker) Check(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Host == "" {
		return false, 0, fmt.Errorf("parse URL: missing host in %q", rawURL)
	}

	origin := parsed.Scheme + "://" + parsed.Host
	data, err := r.rulesFor(ctx, origin)
	if err != nil {
		return true, 0, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}

	group := data.FindGroup(r.agentToken)
	if group == nil {
		return true, 0, nil
	}
	return group.Test(path), group.CrawlDelay, nil
}

// Allowed is Check without the delay and error
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) bool {
	ok, _, _ := r.Check(ctx, rawURL)
	return ok
}

func (r *RobotsChecker) rulesFor(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.rules[origin]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	r.mu.Lock()
	r.rules[origin] = data
	r.mu.Unlock()
	return data, nil
}

// AgentToken extracts the product token ("aidigest" from "aidigest/0.1 (+url)")
func AgentToken(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
