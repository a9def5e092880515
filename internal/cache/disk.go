package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/aidigest/internal/model"
)

// tempPrefix names files that are still being written
const tempPrefix = ".entry-"

// DiskBackend persists one JSON file per fingerprint
type DiskBackend struct {
	dir string
	now func() time.Time
}

// NewDiskBackend creates a disk backend rooted at dir
func NewDiskBackend(dir string) *DiskBackend {
	return &DiskBackend{
		dir: dir,
		now: time.Now,
	}
}

type diskRecord struct {
	Entry     model.CacheEntry `json:"entry"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Save writes the entry atomically: temp file in the same dir, then rename
func (b *DiskBackend) Save(_ context.Context, entry model.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(diskRecord{
		Entry:     entry,
		ExpiresAt: entry.CreatedAt.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	return writeFileAtomic(b.path(entry.Fingerprint), data)
}

// writeFileAtomic writes data to a temp file beside path, then renames it
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Delete removes a persisted entry; a missing file is not an error
func (b *DiskBackend) Delete(_ context.Context, fp model.Fingerprint) error {
	if err := os.Remove(b.path(fp)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadAll reads every unexpired entry. Expired and corrupt files are removed.
func (b *DiskBackend) LoadAll(ctx context.Context) ([]model.CacheEntry, error) {
	files, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	now := b.now()
	var out []model.CacheEntry
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		path := filepath.Join(b.dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var rec diskRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.Entry.Fingerprint == "" {
			_ = os.Remove(path)
			continue
		}
		if now.After(rec.ExpiresAt) {
			_ = os.Remove(path)
			continue
		}
		out = append(out, rec.Entry)
	}
	return out, nil
}

// Clear removes cached entries and leftover temp files. Anything else in
// the directory is left alone.
func (b *DiskBackend) Clear(ctx context.Context) error {
	files, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := f.Name()
		if f.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasPrefix(name, tempPrefix)) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cache file: %w", err)
		}
	}
	return nil
}

func (b *DiskBackend) Close() error { return nil }

// path maps a fingerprint to a file name safe on every filesystem
func (b *DiskBackend) path(fp model.Fingerprint) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(string(fp))
	return filepath.Join(b.dir, name+".json")
}
