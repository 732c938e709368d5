package streamio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeView struct {
	released bool
}

func (f *fakeView) Release() error {
	f.released = true
	return nil
}

func TestReaderWrapsInlineBytes(t *testing.T) {
	r := NewReader([]byte("hello"), nil)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.NoError(t, r.Close())
}

func TestReaderReleasesViewOnClose(t *testing.T) {
	view := &fakeView{}
	r := NewReader([]byte("mapped"), view)
	_, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.True(t, view.released)
}

func TestWriterCommitPublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "objects", "payload")

	w, err := NewWriter(dest)
	require.NoError(t, err)
	n, err := w.ReadFrom(bytes.NewReader([]byte("streamed-content")))
	require.NoError(t, err)
	require.EqualValues(t, len("streamed-content"), n)

	require.NoError(t, w.Commit())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("streamed-content"), got)
}

func TestWriterAbortLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "payload")

	w, err := NewWriter(dest)
	require.NoError(t, err)
	_, err = w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err))
}

func TestWriterCommitTwiceErrors(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "payload")
	w, err := NewWriter(dest)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	require.Error(t, w.Commit())
}
