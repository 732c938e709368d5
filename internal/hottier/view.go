package hottier

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MmapView is a refcounted, read-only memory-mapped view of an on-disk
// payload file. Multiple Entry readers can hold a reference
// concurrently; the mapping is only unmapped once the last reference is
// released, so an in-flight GetReader streaming from the mapped bytes
// is never invalidated by an eviction that happens mid-read.
type MmapView struct {
	data []byte
	refs atomic.Int32
}

// OpenMmapView maps path read-only. A zero-length file maps to an empty,
// unmapped view (mmap of length 0 is not portable, and there is nothing
// to read anyway).
func OpenMmapView(path string) (*MmapView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hottier: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("hottier: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		v := &MmapView{data: nil}
		v.refs.Store(1)
		return v, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hottier: mmap %s: %w", path, err)
	}

	v := &MmapView{data: data}
	v.refs.Store(1)
	return v, nil
}

// Acquire increments the refcount and returns the same view, for a
// second concurrent reader of the same cached entry.
func (v *MmapView) Acquire() *MmapView {
	v.refs.Add(1)
	return v
}

// Bytes returns the mapped region. The caller must hold a reference
// (via Acquire or the initial Open) for as long as it reads from the
// slice.
func (v *MmapView) Bytes() []byte {
	return v.data
}

// Release drops a reference, unmapping the region once the last holder
// releases it.
func (v *MmapView) Release() error {
	if v.refs.Add(-1) > 0 {
		return nil
	}
	if v.data == nil {
		return nil
	}
	return unix.Munmap(v.data)
}
