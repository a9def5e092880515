package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

func testBatch() *model.DigestBatch {
	return &model.DigestBatch{
		RunID:       "run-1",
		GeneratedAt: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
		Entries: []model.ScoredArticle{{
			Article:    model.Article{ID: "rss:a", Title: "A headline here", Source: "blog"},
			Evaluation: model.Evaluation{Summary: "summary", Rating: 4, Tags: []string{"llm"}},
		}},
	}
}

func TestFileDeliverer_WritesBoth(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d := NewFileDeliverer(dir)
	batch := testBatch()

	if err := d.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	jsonPath, mdPath := d.Paths(batch)
	if filepath.Base(jsonPath) != "digest_20260302T083000Z.json" {
		t.Errorf("json path = %s", jsonPath)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var got model.DigestBatch
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if got.RunID != "run-1" || len(got.Entries) != 1 {
		t.Errorf("unexpected digest: %+v", got)
	}

	md, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("read md: %v", err)
	}
	if !strings.Contains(string(md), "A headline here") {
		t.Errorf("markdown missing entry: %s", md)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 files, got %d", len(entries))
	}
}

func TestFileDeliverer_FailureIsDeliveryError(t *testing.T) {
	// a regular file where the output directory should be
	parent := t.TempDir()
	blocker := filepath.Join(parent, "out")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewFileDeliverer(blocker).Deliver(context.Background(), testBatch())
	if err == nil {
		t.Fatal("expected delivery failure")
	}
	if !errors.Is(err, errors.ErrDelivery) {
		t.Errorf("expected ErrDelivery, got %v", err)
	}
}

func TestFileDeliverer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	err := NewFileDeliverer(dir).Deliver(ctx, testBatch())
	if !errors.Is(err, errors.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("canceled delivery wrote %d files", len(entries))
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterDeliverer(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriterDeliverer(&buf).Deliver(context.Background(), testBatch()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Errorf("output is not JSON: %s", buf.String())
	}

	err := NewWriterDeliverer(failWriter{}).Deliver(context.Background(), testBatch())
	if !errors.Is(err, errors.ErrDelivery) {
		t.Errorf("expected ErrDelivery, got %v", err)
	}
}

func TestNew(t *testing.T) {
	if d, err := New("", t.TempDir(), nil); err != nil {
		t.Errorf("default kind: %v", err)
	} else if _, ok := d.(*FileDeliverer); !ok {
		t.Errorf("default kind = %T", d)
	}
	if d, err := New("stdout", "", &bytes.Buffer{}); err != nil {
		t.Errorf("stdout kind: %v", err)
	} else if _, ok := d.(*WriterDeliverer); !ok {
		t.Errorf("stdout kind = %T", d)
	}
	if _, err := New("telegram", "", nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}
