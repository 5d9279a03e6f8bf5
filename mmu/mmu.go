// Package mmu provides the flat-address memory manager for the RV64I
// emulator core: a byte-addressable DRAM region paired with a
// byte-parallel permission vector, growable up to a fixed cap. Reads
// (PermGet, DramRead) use wraparound ("circular") addressing when their
// size fits within the current DRAM size; writes (PermSet, DramWrite,
// DramSet) grow DRAM to fit instead of wrapping, and fail when that
// would exceed SizeMax.
package mmu

import "fmt"

const (
	// SizeInitial is the DRAM size a freshly constructed MMU starts with.
	SizeInitial = 1024 * 1024 // 1 MiB

	// SizeMax is the hard cap DRAM growth never exceeds.
	SizeMax = SizeInitial * 8 // 8 MiB
)

// Permission bits, one set per DRAM byte, stored in the parallel perm
// vector.
const (
	PermR byte = 1 << 0
	PermW byte = 1 << 1
	PermX byte = 1 << 2
)

// IndexOutOfBoundsError reports an access whose end offset exceeds
// SizeMax even after growth, or a read whose size exceeds the current
// DRAM size.
type IndexOutOfBoundsError struct {
	End uint64
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("mmu: index out of bounds: %d", e.End)
}

// MMU is the RV64I core's memory manager. The zero value is not
// usable; construct with New.
type MMU struct {
	dram []byte
	perm []byte
}

// New returns an MMU with SizeInitial bytes of zeroed DRAM and
// permissions.
func New() *MMU {
	return &MMU{
		dram: make([]byte, SizeInitial),
		perm: make([]byte, SizeInitial),
	}
}

// Len reports the current DRAM size in bytes.
func (m *MMU) Len() uint64 {
	return uint64(len(m.dram))
}

// boundCheck reports whether end exceeds the given size without
// growing anything.
func boundCheck(end, size uint64) error {
	if end > size {
		return &IndexOutOfBoundsError{End: end}
	}
	return nil
}

// growToFit doubles dram/perm until end fits, capped at SizeMax. It
// reports IndexOutOfBoundsError if end can never fit.
func (m *MMU) growToFit(end uint64) error {
	for boundCheck(end, uint64(len(m.dram))) != nil {
		next := uint64(len(m.dram)) * 2
		if next > SizeMax {
			return &IndexOutOfBoundsError{End: end}
		}
		grownDram := make([]byte, next)
		copy(grownDram, m.dram)
		m.dram = grownDram

		grownPerm := make([]byte, next)
		copy(grownPerm, m.perm)
		m.perm = grownPerm
	}
	return nil
}

// wrap returns the byte offsets an access of the given size at vaddr
// touches, wrapping around the end of DRAM when the access fits
// within the current DRAM size. An access whose size exceeds the
// current DRAM size can never be satisfied and reports
// IndexOutOfBoundsError.
func (m *MMU) wrap(vaddr, size uint64) ([]int, error) {
	dramLen := uint64(len(m.dram))
	if size > dramLen {
		return nil, &IndexOutOfBoundsError{End: vaddr + size}
	}
	offsets := make([]int, size)
	for i := uint64(0); i < size; i++ {
		offsets[i] = int((vaddr + i) % dramLen)
	}
	return offsets, nil
}

// Grow ensures DRAM is large enough to hold [vaddr, vaddr+size)
// without wrapping, growing it if needed. It writes or checks no
// bytes. Exported so a caller that must permission-check a growing
// write (a store) can grow first and then check against the same
// addresses the write will actually touch, rather than checking
// wrapped offsets into DRAM as it stood before the grow.
func (m *MMU) Grow(vaddr, size uint64) error {
	return m.growToFit(vaddr + size)
}

// PermGet returns the permission bytes for [vaddr, vaddr+size). It
// does not grow DRAM; a range past the end wraps around to the start,
// and only a size larger than the current DRAM size fails.
func (m *MMU) PermGet(vaddr, size uint64) ([]byte, error) {
	offsets, err := m.wrap(vaddr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(offsets))
	for i, off := range offsets {
		out[i] = m.perm[off]
	}
	return out, nil
}

// PermSet sets the permission byte for every address in
// [vaddr, vaddr+size) to perm, growing DRAM if needed.
func (m *MMU) PermSet(vaddr, size uint64, perm byte) error {
	if err := m.growToFit(vaddr + size); err != nil {
		return err
	}
	offsets, err := m.wrap(vaddr, size)
	if err != nil {
		return err
	}
	for _, off := range offsets {
		m.perm[off] = perm
	}
	return nil
}

// DramWrite copies data into DRAM starting at vaddr, growing DRAM if
// needed.
func (m *MMU) DramWrite(vaddr uint64, data []byte) error {
	if err := m.growToFit(vaddr + uint64(len(data))); err != nil {
		return err
	}
	offsets, err := m.wrap(vaddr, uint64(len(data)))
	if err != nil {
		return err
	}
	for i, off := range offsets {
		m.dram[off] = data[i]
	}
	return nil
}

// DramSet fills [vaddr, vaddr+size) with val, growing DRAM if needed.
func (m *MMU) DramSet(vaddr, size uint64, val byte) error {
	if err := m.growToFit(vaddr + size); err != nil {
		return err
	}
	offsets, err := m.wrap(vaddr, size)
	if err != nil {
		return err
	}
	for _, off := range offsets {
		m.dram[off] = val
	}
	return nil
}

// DramRead returns a copy of the size bytes starting at vaddr. It does
// not grow DRAM; a read past the end wraps around to the start, and
// only a size larger than the current DRAM size fails.
func (m *MMU) DramRead(vaddr, size uint64) ([]byte, error) {
	offsets, err := m.wrap(vaddr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(offsets))
	for i, off := range offsets {
		out[i] = m.dram[off]
	}
	return out, nil
}

// Snapshot returns a deep copy of the MMU's DRAM and permission state.
func (m *MMU) Snapshot() *MMU {
	dram := make([]byte, len(m.dram))
	copy(dram, m.dram)
	perm := make([]byte, len(m.perm))
	copy(perm, m.perm)
	return &MMU{dram: dram, perm: perm}
}
