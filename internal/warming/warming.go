// Package warming implements cache warming: a durable record of access
// frequency, kept in an embedded BadgerDB store so the cache can reload
// its hottest keys into the hot tier right after opening instead of
// starting stone cold. The history lives under its own subdirectory
// because the object/metadata/wal layout is a stable contract with no
// room for an unbounded access log.
//
// © 2025 cachekit authors. MIT License.
package warming

import (
	"encoding/binary"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

// Tracker records per-key access counts durably and can report the
// current top-N hottest keys.
type Tracker struct {
	db *badger.DB
}

// Open opens (creating if needed) the access-history store at dir.
func Open(dir string) (*Tracker, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("warming: open badger: %w", err)
	}
	return &Tracker{db: db}, nil
}

// RecordAccess increments key's durable access counter. Called from
// Cache.Get on a hit; warming tracks reads, not writes, so Put never
// touches it.
func (t *Tracker) RecordAccess(key string) error {
	return t.db.Update(func(txn *badger.Txn) error {
		var count uint64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				if len(v) >= 8 {
					count = binary.LittleEndian.Uint64(v)
				}
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			// first access, count stays 0 before the increment below
		default:
			return err
		}
		count++
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], count)
		return txn.Set([]byte(key), buf[:])
	})
}

// Ranked is one entry in a warm-set report.
type Ranked struct {
	Key   string
	Count uint64
}

// TopN returns the n keys with the highest recorded access count,
// descending. Used on Cache.New to decide which keys to proactively
// load into the hot tier.
func (t *Tracker) TopN(n int) ([]Ranked, error) {
	var all []Ranked
	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var count uint64
			if err := item.Value(func(v []byte) error {
				if len(v) >= 8 {
					count = binary.LittleEndian.Uint64(v)
				}
				return nil
			}); err != nil {
				return err
			}
			all = append(all, Ranked{Key: key, Count: count})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("warming: scan: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// Forget removes a key's access history, called when the cache itself
// removes the key so a long-gone entry does not keep warming back in.
func (t *Tracker) Forget(key string) error {
	return t.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// RunGC runs Badger's value-log garbage collection once, discarding
// space from superseded access-count versions. Intended to be called
// periodically (e.g. from the same loop that drives cleanup.Sweeper)
// rather than on every write.
func (t *Tracker) RunGC(discardRatio float64) error {
	err := t.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.db.Close()
}
