// Package pathhash maps a cache key to a deterministic, sharded path on
// disk. Hashing mixes the key bytes with the configured cache-version salt
// so that bumping the version invalidates on-disk data wholesale without a
// migration step.
//
// The package is pure: no I/O, no locking, no shared state.
//
// © 2025 cachekit authors. MIT License.
package pathhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Algorithm selects the digest function used to map keys to paths.
type Algorithm uint8

const (
	// XXHash64 is the default: a fast, SIMD-friendly, non-cryptographic
	// mix. Sufficient for path sharding; two keys with the same digest
	// share one on-disk path.
	XXHash64 Algorithm = iota
	// SHA256 is the cryptographic fallback for deployments that cannot
	// tolerate even a theoretical non-crypto collision in the shard
	// key-space.
	SHA256
)

// ObjectsDir and MetaDir are the two top-level directories the on-disk
// layout contract (see package storage) always creates under a cache's
// base directory.
const (
	ObjectsDir = "objects"
	MetaDir    = "metadata"
)

// Digest returns the hex digest of key mixed with versionSalt using algo.
// XXHash64 digests are 16 hex characters; SHA256 digests are 64.
func Digest(key []byte, versionSalt uint32, algo Algorithm) string {
	switch algo {
	case SHA256:
		h := sha256.New()
		h.Write(key)
		var salt [4]byte
		binary.LittleEndian.PutUint32(salt[:], versionSalt)
		h.Write(salt[:])
		return hex.EncodeToString(h.Sum(nil))
	default:
		d := xxhash.New()
		d.Write(key)
		var salt [4]byte
		binary.LittleEndian.PutUint32(salt[:], versionSalt)
		d.Write(salt[:])
		return hex.EncodeToString(encodeUint64(d.Sum64()))
	}
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// Shard returns the 256-way shard directory name for a digest: its first
// byte, rendered as two lowercase hex characters.
func Shard(digestHex string) string {
	if len(digestHex) < 2 {
		return "00"
	}
	return digestHex[0:2]
}

// DataPath returns the payload file path for key's digest under baseDir.
func DataPath(baseDir, digestHex string) string {
	return filepath.Join(baseDir, ObjectsDir, Shard(digestHex), digestHex)
}

// MetaPath returns the metadata file path for key's digest under baseDir.
func MetaPath(baseDir, digestHex string) string {
	return filepath.Join(baseDir, MetaDir, Shard(digestHex), digestHex+".meta")
}

// AllShards returns the 256 two-hex-digit shard names, used to pre-create
// the shard directory tree on Open/Clear.
func AllShards() []string {
	shards := make([]string, 256)
	for i := 0; i < 256; i++ {
		shards[i] = hex.EncodeToString([]byte{byte(i)})
	}
	return shards
}
