package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	require.NoError(t, err)

	ops := []Operation{
		{Kind: OpWrite, Key: "a", MetaPath: "m/a", DataPath: "d/a", MetaBytes: []byte("meta-a"), DataBytes: []byte("data-a")},
		{Kind: OpWrite, Key: "b", MetaPath: "m/b", DataPath: "d/b", MetaBytes: []byte("meta-b"), DataBytes: []byte("data-b")},
		{Kind: OpRemove, Key: "a", MetaPath: "m/a", DataPath: "d/a"},
		{Kind: OpClear},
	}
	var lastSeq uint64
	for _, op := range ops {
		seq, err := w.Append(op)
		require.NoError(t, err)
		require.Greater(t, seq, lastSeq)
		lastSeq = seq
	}
	require.NoError(t, w.Close())

	var replayed []Record
	count, truncated, err := Replay(dir, 0, func(r Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, len(ops), count)
	require.Len(t, replayed, len(ops))

	require.Equal(t, OpWrite, replayed[0].Op.Kind)
	require.Equal(t, "a", replayed[0].Op.Key)
	require.Equal(t, []byte("data-a"), replayed[0].Op.DataBytes)
	require.Equal(t, OpClear, replayed[3].Op.Kind)

	// sequence numbers strictly increase across the file
	for i := 1; i < len(replayed); i++ {
		require.Greater(t, replayed[i].Seq, replayed[i-1].Seq)
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	count, truncated, err := Replay(dir, 0, func(Record) error { return nil })
	require.NoError(t, err)
	require.False(t, truncated)
	require.Zero(t, count)
}

func TestReplayTailCorruptionStopsAtLastGoodRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = w.Append(Operation{Kind: OpWrite, Key: "good", MetaPath: "m", DataPath: "d", MetaBytes: []byte("m"), DataBytes: []byte("d")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Append garbage bytes simulating a torn write at process crash.
	f, err := os.OpenFile(filepath.Join(dir, "log"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var replayed []Record
	count, truncated, err := Replay(dir, 0, func(r Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, 1, count)
	require.Equal(t, "good", replayed[0].Op.Key)
}

func TestRotateArchivesAndResets(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = w.Append(Operation{Kind: OpClear})
	require.NoError(t, err)
	require.Positive(t, w.Size())

	require.NoError(t, w.Rotate())
	require.Zero(t, w.Size())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawArchive, sawActive bool
	for _, e := range entries {
		if e.Name() == "log" {
			sawActive = true
		} else if filepath.Ext(e.Name()) != "" || e.Name() != "log" {
			sawArchive = true
		}
	}
	require.True(t, sawActive)
	require.True(t, sawArchive)
}

func TestCRCMismatchTruncates(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = w.Append(Operation{Kind: OpWrite, Key: "a", MetaPath: "m", DataPath: "d", MetaBytes: []byte("m"), DataBytes: []byte("d")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "log"))
	require.NoError(t, err)
	// Flip the last body byte before the trailing CRC so the stored CRC
	// no longer matches.
	data[len(data)-5] ^= 0xFF
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log"), data, 0o644))

	count, truncated, err := Replay(dir, 0, func(Record) error { return nil })
	require.NoError(t, err)
	require.True(t, truncated)
	require.Zero(t, count)
}
