// Package wal implements the append-only, crash-recoverable write-ahead log
// that backs internal/storage. Every mutation is serialized as a
// length-prefixed record carrying a strictly increasing sequence number, a
// timestamp, the operation, and a CRC32C checksum computed over the record
// with the checksum field excluded from the hashed preimage.
//
// Replay follows a valid-prefix policy: the first structurally broken
// record (short read, oversize length, decode failure, or CRC mismatch)
// stops replay at the last known-good offset. Tail corruption never
// prevents startup.
//
// © 2025 cachekit authors. MIT License.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxRecordSize bounds the size of any single WAL record to cap
// recovery memory.
const DefaultMaxRecordSize = 10 << 20

const headerSize = 8 + 8 + 1 // seq + timestamp + kind, excludes length prefix and crc suffix

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Writer is the single-writer append log. All exported methods are safe
// for concurrent use; an internal mutex serializes appends.
type Writer struct {
	mu            sync.Mutex
	dir           string
	path          string
	file          *os.File
	bw            *bufio.Writer
	size          int64
	seq           atomic.Uint64
	maxRecordSize int
	logger        *zap.Logger
}

// Open creates or opens the active WAL file at dir/log.
func Open(dir string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}
	path := filepath.Join(dir, "log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}
	w := &Writer{
		dir:           dir,
		path:          path,
		file:          f,
		bw:            bufio.NewWriterSize(f, 64<<10),
		size:          info.Size(),
		maxRecordSize: DefaultMaxRecordSize,
		logger:        logger,
	}
	return w, nil
}

// SetNextSeq primes the sequence counter, called once after replay so newly
// appended records continue the sequence rather than restarting at zero.
func (w *Writer) SetNextSeq(next uint64) {
	w.seq.Store(next)
}

// Append serializes op with a fresh sequence number and the current time,
// writes it, flushes the buffered writer, and fsyncs. Every append must be
// durable before the caller proceeds to its filesystem rename.
func (w *Writer) Append(op Operation) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.seq.Add(1)
	ts := time.Now()
	rec := encodeRecord(seq, ts, op)

	if len(rec) > w.maxRecordSize+4 {
		return 0, fmt.Errorf("wal: record too large: %d bytes", len(rec))
	}
	n, err := w.bw.Write(rec)
	if err != nil {
		return 0, fmt.Errorf("wal: write: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return 0, fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal: fsync: %w", err)
	}
	w.size += int64(n)
	return seq, nil
}

// Checkpoint appends a marker meaning all earlier operations are
// materialized on disk.
func (w *Writer) Checkpoint() (uint64, error) {
	return w.Append(Operation{Kind: OpCheckpoint})
}

// Size returns the current size of the active log file in bytes.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Rotate closes the current log file, renames it to a timestamped archive,
// and opens a fresh active log.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("wal: flush before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close before rotate: %w", err)
	}

	archive := filepath.Join(w.dir, fmt.Sprintf("log.%d", time.Now().Unix()))
	if err := os.Rename(w.path, archive); err != nil {
		return fmt.Errorf("wal: rename archive: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen: %w", err)
	}
	w.file = f
	w.bw = bufio.NewWriterSize(f, 64<<10)
	w.size = 0
	w.logger.Info("wal rotated", zap.String("archive", archive))
	return nil
}

// Close flushes and closes the active log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// encodeRecord serializes one record: length | seq | timestamp | kind |
// payload | crc32c.
func encodeRecord(seq uint64, ts time.Time, op Operation) []byte {
	payload := encodeOp(op)
	body := make([]byte, 0, headerSize+len(payload))
	var seqB [8]byte
	binary.LittleEndian.PutUint64(seqB[:], seq)
	body = append(body, seqB[:]...)
	var tsB [8]byte
	binary.LittleEndian.PutUint64(tsB[:], uint64(ts.UnixNano()))
	body = append(body, tsB[:]...)
	body = append(body, byte(op.Kind))
	body = append(body, payload...)

	crc := crc32.Checksum(body, crc32cTable)

	out := make([]byte, 4+len(body)+4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)+4))
	copy(out[4:], body)
	binary.LittleEndian.PutUint32(out[4+len(body):], crc)
	return out
}

// Replay reads records sequentially from dir/log and invokes cb for each
// one in order. It stops at the first corrupt or truncated record without
// returning an error — that is the valid-prefix recovery policy. The
// returned truncated flag tells the caller whether the tail was discarded,
// and count is the number of records successfully replayed.
func Replay(dir string, maxRecordSize int, cb func(Record) error) (count int, truncated bool, err error) {
	if maxRecordSize <= 0 {
		maxRecordSize = DefaultMaxRecordSize
	}
	path := filepath.Join(dir, "log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("wal: open for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	for {
		rec, ok, recErr := readRecord(r, maxRecordSize)
		if recErr != nil {
			return count, true, nil // valid-prefix: swallow the error, stop here
		}
		if !ok {
			return count, false, nil // clean EOF
		}
		if err := cb(rec); err != nil {
			return count, false, fmt.Errorf("wal: replay callback: %w", err)
		}
		count++
	}
}

// readRecord reads exactly one record. ok=false with err=nil means a clean
// EOF (no more records). err != nil means the record was structurally
// invalid (short read, oversize length, or CRC mismatch); the caller
// interprets this as "stop, tail is corrupt".
func readRecord(r *bufio.Reader, maxRecordSize int) (rec Record, ok bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return rec, false, nil
		}
		return rec, false, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < headerSize+4 || int(n) > maxRecordSize+4 {
		return rec, false, fmt.Errorf("wal: invalid record length %d", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return rec, false, fmt.Errorf("wal: short record body: %w", err)
	}

	payloadAndHeader := body[:len(body)-4]
	wantCRC := binary.LittleEndian.Uint32(body[len(body)-4:])
	gotCRC := crc32.Checksum(payloadAndHeader, crc32cTable)
	if wantCRC != gotCRC {
		return rec, false, fmt.Errorf("wal: crc mismatch")
	}

	seq := binary.LittleEndian.Uint64(payloadAndHeader[0:8])
	tsNano := int64(binary.LittleEndian.Uint64(payloadAndHeader[8:16]))
	kind := OpKind(payloadAndHeader[16])
	op, err := decodeOp(kind, payloadAndHeader[17:])
	if err != nil {
		return rec, false, err
	}

	rec = Record{
		Seq:       seq,
		Timestamp: time.Unix(0, tsNano),
		Op:        op,
	}
	return rec, true, nil
}
