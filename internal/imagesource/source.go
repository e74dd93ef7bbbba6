package imagesource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/facegate/internal/faceid"
)

// Frame is one encoded image delivered by a Source.
type Frame struct {
	Seq  int
	Data []byte
	Name string
}

// Source delivers images one at a time. Next returns io.EOF when exhausted and
// an error wrapping faceid.ErrCancelled when the operator stops it.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Frame, error)
	Close() error
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// DirSource reads image files from a directory in lexical order.
type DirSource struct {
	dir   string
	files []string
	next  int
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (d *DirSource) Open(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", faceid.ErrCapture, err)
	}
	d.files = d.files[:0]
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		d.files = append(d.files, filepath.Join(d.dir, entry.Name()))
	}
	sort.Strings(d.files)
	d.next = 0
	return nil
}

// Len is the number of images found by Open.
func (d *DirSource) Len() int { return len(d.files) }

func (d *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", faceid.ErrCancelled, err)
	}
	if d.next >= len(d.files) {
		return Frame{}, io.EOF
	}
	path := d.files[d.next]
	d.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", faceid.ErrCapture, err)
	}
	return Frame{Seq: d.next, Data: data, Name: filepath.Base(path)}, nil
}

func (d *DirSource) Close() error { return nil }

// Overlay is what gets drawn over a displayed frame.
type Overlay struct {
	Label    string
	Box      *faceid.Box
	Accepted bool
}
