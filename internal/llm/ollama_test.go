package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("Expected json format, got %q", req.Format)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}

		resp := ollamaResponse{
			Model:           "llama3.1",
			Response:        `{"items":[{"id":"a"}]}`,
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{
		BaseURL: server.URL,
		Model:   "llama3.1",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "evaluate", JSON: true})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != `{"items":[{"id":"a"}]}` {
		t.Errorf("Unexpected text: %s", resp.Text)
	}
	if resp.TokensUsed != 30 {
		t.Errorf("Unexpected token usage: %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_EstimatesTokensWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: "m", Response: "12345678", Done: true})
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "m"})
	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "abcd"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.TokensUsed != 3 {
		t.Errorf("Expected estimated 3 tokens, got %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_Complete_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "nope"})
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not found message, got %v", err)
	}
	if !errors.IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1", Model: "m", Timeout: time.Second})
	if provider.IsAvailable(context.Background()) {
		t.Error("Expected unreachable server to be unavailable")
	}
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if err == nil || !errors.IsTransient(err) {
		t.Errorf("Expected transient connection error, got %v", err)
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Expected /api/tags, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "m"})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected provider to be available")
	}
}

func TestNewOllamaProvider_RequiresModel(t *testing.T) {
	if _, err := NewOllamaProvider(Config{}); err == nil {
		t.Error("Expected error without a model")
	}
}
