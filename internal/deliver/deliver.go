// Package deliver hands a finished digest to its destination. Delivery is
// all-or-nothing per run.
package deliver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ppiankov/aidigest/internal/digest"
	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

// Deliverer accepts a whole digest or reports an ErrDelivery-marked failure
type Deliverer interface {
	Deliver(ctx context.Context, batch *model.DigestBatch) error
}

// FileDeliverer writes digest_<stamp>.json and digest_<stamp>.md into a
// directory
type FileDeliverer struct {
	dir string
}

// NewFileDeliverer creates a deliverer writing into dir
func NewFileDeliverer(dir string) *FileDeliverer {
	return &FileDeliverer{dir: dir}
}

// Paths returns the files a batch is written to
func (d *FileDeliverer) Paths(batch *model.DigestBatch) (jsonPath, mdPath string) {
	stem := "digest_" + batch.GeneratedAt.UTC().Format("20060102T150405Z")
	return filepath.Join(d.dir, stem+".json"), filepath.Join(d.dir, stem+".md")
}

// Deliver writes both renderings to temp files and renames them into place
// only after both were written
func (d *FileDeliverer) Deliver(ctx context.Context, batch *model.DigestBatch) error {
	if err := ctx.Err(); err != nil {
		return delivery(err, "delivery canceled")
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return delivery(err, "create output dir")
	}

	js, err := digest.RenderJSON(batch)
	if err != nil {
		return delivery(err, "render json")
	}
	md := digest.RenderMarkdown(batch)

	jsonPath, mdPath := d.Paths(batch)
	files := []struct {
		path string
		data []byte
	}{{jsonPath, js}, {mdPath, md}}

	temps := make([]string, 0, len(files))
	cleanup := func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}

	for _, f := range files {
		tmp, err := writeTemp(d.dir, f.data)
		if err != nil {
			cleanup()
			return delivery(err, "write "+filepath.Base(f.path))
		}
		temps = append(temps, tmp)
	}
	for i, f := range files {
		if err := os.Rename(temps[i], f.path); err != nil {
			cleanup()
			// roll back files already renamed so the run leaves nothing behind
			for _, done := range files[:i] {
				_ = os.Remove(done.path)
			}
			return delivery(err, "rename "+filepath.Base(f.path))
		}
	}
	return nil
}

func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".digest-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// WriterDeliverer writes the JSON rendering to w
type WriterDeliverer struct {
	w io.Writer
}

// NewWriterDeliverer creates a deliverer writing to w
func NewWriterDeliverer(w io.Writer) *WriterDeliverer {
	return &WriterDeliverer{w: w}
}

// Deliver renders the full document before writing so encoding errors never
// produce partial output
func (d *WriterDeliverer) Deliver(ctx context.Context, batch *model.DigestBatch) error {
	if err := ctx.Err(); err != nil {
		return delivery(err, "delivery canceled")
	}
	js, err := digest.RenderJSON(batch)
	if err != nil {
		return delivery(err, "render json")
	}
	if _, err := d.w.Write(js); err != nil {
		return delivery(err, "write digest")
	}
	return nil
}

// New selects a deliverer by kind: "file" (default) or "stdout"
func New(kind, outputDir string, stdout io.Writer) (Deliverer, error) {
	switch kind {
	case "", "file":
		return NewFileDeliverer(outputDir), nil
	case "stdout":
		return NewWriterDeliverer(stdout), nil
	default:
		return nil, fmt.Errorf("unknown delivery kind %q (want file or stdout)", kind)
	}
}

func delivery(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrDelivery)
}
