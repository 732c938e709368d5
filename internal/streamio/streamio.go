// Package streamio implements streaming reads and writes over cached
// payloads: a zero-copy Reader over already-mapped bytes, and a
// Writer that buffers to a temporary file and commits it atomically
// into the object store on Commit, mirroring the write-temp-then-rename
// discipline internal/storage uses for Put.
//
// © 2025 cachekit authors. MIT License.
package streamio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// releaser is satisfied by hottier.MmapView; kept as a narrow local
// interface so this package does not import hottier and create a
// cycle back through pkg/cache.go.
type releaser interface {
	Release() error
}

// Reader streams a cached value's bytes without an intermediate copy
// when the value is backed by a memory-mapped view: it wraps a
// bytes.Reader over the view's slice and releases the view's
// reference on Close.
type Reader struct {
	*bytes.Reader
	view releaser
}

// NewReader wraps data for streaming reads. If view is non-nil, Close
// releases the caller's reference on it (the caller should have
// acquired a fresh reference before constructing the Reader, since the
// Reader takes ownership of exactly one release).
func NewReader(data []byte, view releaser) *Reader {
	return &Reader{Reader: bytes.NewReader(data), view: view}
}

// Close releases the backing mmap reference, if any. Safe to call on a
// Reader built over an inline ([]byte) value, where view is nil.
func (r *Reader) Close() error {
	if r.view == nil {
		return nil
	}
	return r.view.Release()
}

// Writer buffers a streamed value into a temporary file in destPath's
// directory and
// publishes it atomically into place on Commit.
type Writer struct {
	f        *os.File
	tmpPath  string
	destPath string
	n        int64
	done     bool
}

const copyBufferSize = 64 << 10

// NewWriter opens a temporary file in the same directory as destPath
// (same-filesystem rename is required for atomic.WriteFile's
// temp+rename to be atomic).
func NewWriter(destPath string) (*Writer, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("streamio: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".streamio-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("streamio: create temp: %w", err)
	}
	return &Writer{f: f, tmpPath: f.Name(), destPath: destPath}, nil
}

// ReadFrom copies src into the temporary file in copyBufferSize chunks,
// satisfying io.ReaderFrom so callers (and io.Copy) can stream large
// payloads without loading them fully into memory first.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	n, err := io.CopyBuffer(w.f, src, make([]byte, copyBufferSize))
	w.n += n
	if err != nil {
		return n, fmt.Errorf("streamio: copy: %w", err)
	}
	return n, nil
}

// Write implements io.Writer directly for callers that already have
// bytes in hand rather than a Reader to stream from.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.n
}

// Commit fsyncs the temporary file, closes it, and atomically
// publishes it to destPath.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("streamio: writer already finished")
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("streamio: fsync temp: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("streamio: close temp: %w", err)
	}

	f, err := os.Open(w.tmpPath)
	if err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("streamio: reopen temp for publish: %w", err)
	}
	defer f.Close()
	defer os.Remove(w.tmpPath)

	if err := atomic.WriteFile(w.destPath, f); err != nil {
		return fmt.Errorf("streamio: publish %s: %w", w.destPath, err)
	}
	return nil
}

// Abort discards the temporary file without publishing it.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.tmpPath)
}
