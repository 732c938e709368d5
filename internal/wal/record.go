package wal

import (
	"encoding/binary"
	"fmt"
	"time"
)

// OpKind enumerates the mutations a WAL record can carry.
type OpKind uint8

const (
	// OpWrite records a durable put: the full metadata and payload
	// bytes are embedded so replay can re-create both files even if the
	// process crashed before either rename completed.
	OpWrite OpKind = iota + 1
	// OpRemove records a key removal.
	OpRemove
	// OpClear records a full-cache clear.
	OpClear
	// OpCheckpoint marks "everything before this record is already
	// materialized on disk" — replay can skip re-applying records prior
	// to the most recent checkpoint it encounters, though our reference
	// replay re-applies unconditionally since re-application is
	// idempotent (see storage's Backend.replay).
	OpCheckpoint
)

func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "Write"
	case OpRemove:
		return "Remove"
	case OpClear:
		return "Clear"
	case OpCheckpoint:
		return "Checkpoint"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Operation is the payload of a WAL record.
type Operation struct {
	Kind OpKind

	Key      string // Write, Remove
	MetaPath string // Write, Remove
	DataPath string // Write, Remove

	MetaBytes []byte // Write only
	DataBytes []byte // Write only
}

// Record is one full WAL entry, as delivered to a replay callback.
type Record struct {
	Seq       uint64
	Timestamp time.Time
	Op        Operation
}

// encodeOp serializes an Operation's variable-length fields. The Kind byte
// itself is written by the caller as part of the fixed record header.
func encodeOp(op Operation) []byte {
	switch op.Kind {
	case OpWrite:
		buf := make([]byte, 0, 2+len(op.Key)+2+len(op.MetaPath)+2+len(op.DataPath)+4+len(op.MetaBytes)+4+len(op.DataBytes))
		buf = appendString16(buf, op.Key)
		buf = appendString16(buf, op.MetaPath)
		buf = appendString16(buf, op.DataPath)
		buf = appendBytes32(buf, op.MetaBytes)
		buf = appendBytes32(buf, op.DataBytes)
		return buf
	case OpRemove:
		buf := make([]byte, 0, 2+len(op.Key)+2+len(op.MetaPath)+2+len(op.DataPath))
		buf = appendString16(buf, op.Key)
		buf = appendString16(buf, op.MetaPath)
		buf = appendString16(buf, op.DataPath)
		return buf
	case OpClear, OpCheckpoint:
		return nil
	default:
		return nil
	}
}

// decodeOp parses an Operation from the payload bytes following the Kind
// byte. It returns an error if the payload is structurally inconsistent;
// callers treat that as CRC-grade corruption and stop replay.
func decodeOp(kind OpKind, payload []byte) (Operation, error) {
	op := Operation{Kind: kind}
	switch kind {
	case OpWrite:
		rest := payload
		var err error
		if op.Key, rest, err = readString16(rest); err != nil {
			return op, err
		}
		if op.MetaPath, rest, err = readString16(rest); err != nil {
			return op, err
		}
		if op.DataPath, rest, err = readString16(rest); err != nil {
			return op, err
		}
		if op.MetaBytes, rest, err = readBytes32(rest); err != nil {
			return op, err
		}
		if op.DataBytes, _, err = readBytes32(rest); err != nil {
			return op, err
		}
		return op, nil
	case OpRemove:
		rest := payload
		var err error
		if op.Key, rest, err = readString16(rest); err != nil {
			return op, err
		}
		if op.MetaPath, rest, err = readString16(rest); err != nil {
			return op, err
		}
		if op.DataPath, _, err = readString16(rest); err != nil {
			return op, err
		}
		return op, nil
	case OpClear, OpCheckpoint:
		return op, nil
	default:
		return op, fmt.Errorf("wal: unknown op kind %d", kind)
	}
}

func appendString16(buf []byte, s string) []byte {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	buf = append(buf, s...)
	return buf
}

func readString16(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("wal: truncated string length")
	}
	n := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("wal: truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

func appendBytes32(buf, data []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	buf = append(buf, data...)
	return buf
}

func readBytes32(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("wal: truncated bytes length")
	}
	n := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	if len(b) < n {
		return nil, nil, fmt.Errorf("wal: truncated bytes body")
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, b[n:], nil
}
