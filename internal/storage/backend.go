// Package storage implements the on-disk two-tier storage backend:
// atomic two-file (data+metadata) writes coordinated with the
// write-ahead log, plus WAL-driven crash recovery on open.
//
// Commit order is WAL -> data -> metadata, so "metadata present implies
// data present" is always a safe invariant for replay and for readers:
// orphan data without metadata is garbage that a future sweep may reap,
// but orphan metadata without data must never happen.
//
// © 2025 cachekit authors. MIT License.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/cachekit/cachekit/internal/codec"
	"github.com/cachekit/cachekit/internal/model"
	"github.com/cachekit/cachekit/internal/pathhash"
	"github.com/cachekit/cachekit/internal/wal"
)

const lockStripes = 256

// Record is what the backend hands back to the caller when it re-applies a
// WAL write during replay, so the hot tier can be warmed without a second
// disk read.
type Record struct {
	Key  string
	Meta model.Metadata
	Wire []byte // codec-wrapped payload bytes, as stored on disk
}

// ReplayResult summarizes what happened when a Backend was opened against
// an existing directory.
type ReplayResult struct {
	RecordsApplied int
	TailTruncated  bool
	Writes         []Record
	Cleared        bool
}

// Backend coordinates the WAL and the sharded on-disk object/metadata
// store for one cache instance.
type Backend struct {
	baseDir     string
	walDir      string
	w           *wal.Writer
	logger      *zap.Logger
	hashAlgo    pathhash.Algorithm
	versionSalt uint32

	locks [lockStripes]sync.Mutex

	checksumFailures uint64
}

// Options configures a Backend.
type Options struct {
	HashAlgorithm pathhash.Algorithm
	VersionSalt   uint32
	Logger        *zap.Logger
	MaxRecordSize int
}

// Open creates (if needed) the on-disk layout under baseDir, replays the
// WAL, and returns a ready Backend plus a summary of what replay found.
func Open(baseDir string, opts Options) (*Backend, ReplayResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{
		baseDir:     baseDir,
		walDir:      filepath.Join(baseDir, "wal"),
		logger:      logger,
		hashAlgo:    opts.HashAlgorithm,
		versionSalt: opts.VersionSalt,
	}

	if err := b.ensureDirs(); err != nil {
		return nil, ReplayResult{}, err
	}

	result, lastSeq, err := b.replay(opts.MaxRecordSize)
	if err != nil {
		return nil, ReplayResult{}, err
	}

	w, err := wal.Open(b.walDir, logger)
	if err != nil {
		return nil, ReplayResult{}, err
	}
	w.SetNextSeq(lastSeq + 1)
	if _, err := w.Checkpoint(); err != nil {
		w.Close()
		return nil, ReplayResult{}, fmt.Errorf("storage: post-replay checkpoint: %w", err)
	}
	b.w = w

	return b, result, nil
}

func (b *Backend) ensureDirs() error {
	for _, top := range []string{pathhash.ObjectsDir, pathhash.MetaDir} {
		for _, shard := range pathhash.AllShards() {
			if err := os.MkdirAll(filepath.Join(b.baseDir, top, shard), 0o755); err != nil {
				return fmt.Errorf("storage: mkdir %s/%s: %w", top, shard, err)
			}
		}
	}
	if err := os.MkdirAll(b.walDir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir wal: %w", err)
	}
	return nil
}

// replay re-performs the terminal filesystem effect of every WAL record in
// order, before the Backend's own writer is opened. It returns the records
// that produced a live Write so the caller (Cache.New) can warm the hot
// tier without a second disk read.
func (b *Backend) replay(maxRecordSize int) (ReplayResult, uint64, error) {
	var result ReplayResult
	var lastSeq uint64
	live := make(map[string]Record)

	count, truncated, err := wal.Replay(b.walDir, maxRecordSize, func(rec wal.Record) error {
		lastSeq = rec.Seq
		switch rec.Op.Kind {
		case wal.OpWrite:
			if err := writeFileAtomic(rec.Op.DataPath, rec.Op.DataBytes); err != nil {
				return err
			}
			if err := writeFileAtomic(rec.Op.MetaPath, rec.Op.MetaBytes); err != nil {
				return err
			}
			var meta model.Metadata
			if err := codec.DecodeValue(rec.Op.MetaBytes, &meta); err != nil {
				b.logger.Warn("storage: skipping entry with undecodable replayed metadata", zap.String("key", rec.Op.Key), zap.Error(err))
				return nil
			}
			live[rec.Op.Key] = Record{Key: rec.Op.Key, Meta: meta, Wire: rec.Op.DataBytes}
		case wal.OpRemove:
			_ = os.Remove(rec.Op.MetaPath)
			_ = os.Remove(rec.Op.DataPath)
			delete(live, rec.Op.Key)
		case wal.OpClear:
			if err := os.RemoveAll(filepath.Join(b.baseDir, pathhash.ObjectsDir)); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(b.baseDir, pathhash.MetaDir)); err != nil {
				return err
			}
			if err := b.ensureDirs(); err != nil {
				return err
			}
			for k := range live {
				delete(live, k)
			}
			result.Cleared = true
		case wal.OpCheckpoint:
			// no-op: re-application of prior records is idempotent, so we
			// do not special-case checkpoints during replay.
		}
		return nil
	})
	if err != nil {
		return result, lastSeq, fmt.Errorf("storage: replay: %w", err)
	}

	result.RecordsApplied = count
	result.TailTruncated = truncated
	if truncated {
		b.checksumFailures++
		b.logger.Warn("storage: wal tail truncated during replay, recovering valid prefix", zap.Int("records_applied", count))
	}
	for _, rec := range live {
		result.Writes = append(result.Writes, rec)
	}
	return result, lastSeq, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func (b *Backend) lockFor(digest string) *sync.Mutex {
	idx := byte(0)
	if len(digest) >= 2 {
		idx = hexByte(digest[0])<<4 | hexByte(digest[1])
	}
	return &b.locks[int(idx)%lockStripes]
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// Digest exposes the path/hash digest for a key, the same identifier
// used to build its on-disk paths. Cache records it as the entry's
// ContentHash; the hot tier and fast path are keyed by the key itself.
func (b *Backend) Digest(key string) string {
	return pathhash.Digest([]byte(key), b.versionSalt, b.hashAlgo)
}

// Put performs the durable two-file write for key, coordinated with the
// WAL. wire is the already-encoded (and possibly compressed) payload.
func (b *Backend) Put(key string, wire []byte, meta model.Metadata) error {
	digest := b.Digest(key)
	lock := b.lockFor(digest)
	lock.Lock()
	defer lock.Unlock()

	dataPath := pathhash.DataPath(b.baseDir, digest)
	metaPath := pathhash.MetaPath(b.baseDir, digest)

	metaBytes, err := codec.EncodeValue(meta)
	if err != nil {
		return fmt.Errorf("storage: encode metadata: %w", err)
	}

	if _, err := b.w.Append(wal.Operation{
		Kind:      wal.OpWrite,
		Key:       key,
		MetaPath:  metaPath,
		DataPath:  dataPath,
		MetaBytes: metaBytes,
		DataBytes: wire,
	}); err != nil {
		return fmt.Errorf("storage: wal append: %w", err)
	}

	if err := writeFileAtomic(dataPath, wire); err != nil {
		return fmt.Errorf("storage: write data: %w", err)
	}

	if err := writeFileAtomic(metaPath, metaBytes); err != nil {
		// Data without metadata is reapable garbage, so the data file is
		// left in place; only a half-written metadata artifact must go.
		_ = os.Remove(metaPath)
		return fmt.Errorf("storage: write metadata: %w", err)
	}

	return nil
}

// Remove deletes key's on-disk files (metadata first, then data, so a
// crash mid-removal never leaves metadata pointing at a missing payload).
// It returns whether anything was actually present.
func (b *Backend) Remove(key string) (bool, error) {
	digest := b.Digest(key)
	lock := b.lockFor(digest)
	lock.Lock()
	defer lock.Unlock()

	dataPath := pathhash.DataPath(b.baseDir, digest)
	metaPath := pathhash.MetaPath(b.baseDir, digest)

	_, statErr := os.Stat(metaPath)
	existed := statErr == nil

	if _, err := b.w.Append(wal.Operation{
		Kind:     wal.OpRemove,
		Key:      key,
		MetaPath: metaPath,
		DataPath: dataPath,
	}); err != nil {
		return false, fmt.Errorf("storage: wal append remove: %w", err)
	}

	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return existed, fmt.Errorf("storage: remove metadata: %w", err)
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return existed, fmt.Errorf("storage: remove data: %w", err)
	}
	return existed, nil
}

// Clear appends a Clear WAL record and recreates the on-disk directory
// structure from scratch.
func (b *Backend) Clear() error {
	if _, err := b.w.Append(wal.Operation{Kind: wal.OpClear}); err != nil {
		return fmt.Errorf("storage: wal append clear: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(b.baseDir, pathhash.ObjectsDir)); err != nil {
		return fmt.Errorf("storage: clear objects: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(b.baseDir, pathhash.MetaDir)); err != nil {
		return fmt.Errorf("storage: clear metadata: %w", err)
	}
	return b.ensureDirs()
}

// ReadMeta reads and decodes key's metadata file without touching the
// payload, for Cache.Metadata and for cold-path existence checks.
func (b *Backend) ReadMeta(key string) (model.Metadata, bool, error) {
	digest := b.Digest(key)
	metaPath := pathhash.MetaPath(b.baseDir, digest)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Metadata{}, false, nil
		}
		return model.Metadata{}, false, fmt.Errorf("storage: read metadata: %w", err)
	}
	var meta model.Metadata
	if err := codec.DecodeValue(raw, &meta); err != nil {
		return model.Metadata{}, false, fmt.Errorf("storage: decode metadata: %w", err)
	}
	return meta, true, nil
}

// DataPath returns the on-disk payload path for key, for the hot tier's
// mmap loader.
func (b *Backend) DataPath(key string) string {
	return pathhash.DataPath(b.baseDir, b.Digest(key))
}

// ChecksumFailures returns the number of WAL tail-corruption events
// observed since Open, for Cache.Statistics.
func (b *Backend) ChecksumFailures() uint64 {
	return b.checksumFailures
}

// Close shuts down the WAL writer.
func (b *Backend) Close() error {
	return b.w.Close()
}

// RotateWAL exposes manual log rotation, used by Cache when the active
// log grows past a configured size.
func (b *Backend) RotateWAL() error {
	return b.w.Rotate()
}

// WALSize returns the active WAL file's current size in bytes.
func (b *Backend) WALSize() int64 {
	return b.w.Size()
}
