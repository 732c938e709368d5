// Package codec serializes cache values and optionally compresses the
// encoded bytes above a configurable size threshold. The stored payload
// always carries a one-byte tag naming the codec used so a reader can
// decompress without any external state.
//
// Compression uses klauspost/compress's S2 codec, a stream-capable
// LZ-class compressor that is API-compatible with Snappy but materially
// faster.
//
// © 2025 cachekit authors. MIT License.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/s2"
)

// tag identifies how the bytes following it were produced.
type tag byte

const (
	tagNone tag = iota
	tagS2
)

// Options configures the compression behaviour of a Codec.
type Options struct {
	// CompressionEnabled turns on S2 compression for payloads at or
	// above CompressionMinSize bytes.
	CompressionEnabled bool
	// CompressionMinSize is the smallest encoded payload, in bytes, that
	// is eligible for compression.
	CompressionMinSize int
	// CompressionLevel selects between S2's default and "better" modes.
	// Level 0 uses s2.Encode (fastest); any positive level uses
	// s2.EncodeBetter (smaller output, more CPU).
	CompressionLevel int
}

// DefaultOptions mirrors the conservative defaults a production embedder
// would pick: compression off until the caller opts in.
func DefaultOptions() Options {
	return Options{
		CompressionEnabled: false,
		CompressionMinSize: 4096,
		CompressionLevel:   0,
	}
}

// Codec encodes/decodes typed values and raw byte payloads, applying
// transparent compression to the wire bytes.
type Codec struct {
	opts Options

	// bytesIn/bytesOut are cumulative counters used to compute an
	// accurate compression_ratio statistic rather than a stubbed value.
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// New constructs a Codec with the given options.
func New(opts Options) *Codec {
	return &Codec{opts: opts}
}

// EncodeValue gob-encodes an arbitrary Go value, used by the typed Put[T]
// API. Callers that already hold raw bytes should use Wrap directly.
func EncodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("codec: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeValue gob-decodes raw bytes into *v.
func DecodeValue(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("codec: decode value: %w", err)
	}
	return nil
}

// Wrap applies transparent compression (if enabled and data is large
// enough) and returns the on-wire payload: a one-byte tag followed by the
// (possibly compressed) data.
func (c *Codec) Wrap(data []byte) []byte {
	c.bytesIn.Add(uint64(len(data)))

	if !c.opts.CompressionEnabled || len(data) < c.opts.CompressionMinSize {
		out := make([]byte, 1+len(data))
		out[0] = byte(tagNone)
		copy(out[1:], data)
		c.bytesOut.Add(uint64(len(out)))
		return out
	}

	var compressed []byte
	if c.opts.CompressionLevel > 0 {
		compressed = s2.EncodeBetter(nil, data)
	} else {
		compressed = s2.Encode(nil, data)
	}

	out := make([]byte, 1+len(compressed))
	out[0] = byte(tagS2)
	copy(out[1:], compressed)
	c.bytesOut.Add(uint64(len(out)))
	return out
}

// Unwrap reverses Wrap: it reads the leading tag and decompresses if
// necessary. It never consults external configuration, only the tag byte,
// so it works during WAL replay before any Codec options are known.
func Unwrap(wire []byte) ([]byte, error) {
	if len(wire) == 0 {
		return nil, fmt.Errorf("codec: empty payload")
	}
	switch tag(wire[0]) {
	case tagNone:
		return wire[1:], nil
	case tagS2:
		out, err := s2.Decode(nil, wire[1:])
		if err != nil {
			return nil, fmt.Errorf("codec: s2 decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown tag %d", wire[0])
	}
}

// IsCompressed reports whether wire (a Wrap'd payload) was produced with
// S2 compression, for callers that want to special-case the uncompressed
// case to avoid an extra copy (e.g. streamio zero-copy reads).
func IsCompressed(wire []byte) bool {
	return len(wire) > 0 && tag(wire[0]) == tagS2
}

// CompressionRatio returns bytesOut/bytesIn observed so far, or 1.0 if
// nothing has been encoded yet.
func (c *Codec) CompressionRatio() float64 {
	in := c.bytesIn.Load()
	if in == 0 {
		return 1.0
	}
	return float64(c.bytesOut.Load()) / float64(in)
}
