// Package loader parses an ELF64 RISC-V executable from disk and
// wires its loadable segments into an mmu.MMU.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/rv64emu/mmu"
)

// UnableToReadFileError wraps a failure to open or read the ELF file.
type UnableToReadFileError struct{ Cause error }

func (e *UnableToReadFileError) Error() string {
	return fmt.Sprintf("unable to read file: %v", e.Cause)
}
func (e *UnableToReadFileError) Unwrap() error { return e.Cause }

// UnsupportedFileTypeError reports an ELF file that is not a 64-bit,
// little-endian, EXEC, RISC-V binary.
type UnsupportedFileTypeError struct{ Reason string }

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Reason)
}

// InvalidFileError reports a structurally broken ELF file (a
// truncated or short segment read, for instance).
type InvalidFileError struct{ Reason string }

func (e *InvalidFileError) Error() string {
	return fmt.Sprintf("invalid file: %s", e.Reason)
}

// Segment is one PT_LOAD program header, translated into the
// {vaddr, file_bytes, mem_size, flags} shape the core's MMU expects.
type Segment struct {
	VirtAddr uint64
	Data     []byte
	MemSize  uint64
	Flags    byte // mmu.PermR / mmu.PermW / mmu.PermX bitmask
}

// Program is a parsed ELF binary ready to be wired into an mmu.MMU.
type Program struct {
	EntryPoint uint64
	Segments   []Segment
}

// Load opens and validates path as an ELF64 LE RISC-V EXEC binary and
// extracts its PT_LOAD segments. It does not touch any MMU; call
// LoadInto with the result to do that.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &UnableToReadFileError{Cause: err}
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, &UnsupportedFileTypeError{Reason: "not a 64-bit ELF file"}
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, &UnsupportedFileTypeError{Reason: "not a little-endian ELF file"}
	}
	if f.Type != elf.ET_EXEC {
		return nil, &UnsupportedFileTypeError{Reason: fmt.Sprintf("not an EXEC file (type: %v)", f.Type)}
	}
	if f.Machine != elf.EM_RISCV {
		return nil, &UnsupportedFileTypeError{Reason: fmt.Sprintf("not a RISC-V ELF file (machine: %v)", f.Machine)}
	}
	if f.Entry == 0 {
		return nil, &InvalidFileError{Reason: "entry point is zero"}
	}

	prog := &Program{EntryPoint: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, &InvalidFileError{
					Reason: fmt.Sprintf("failed to read segment at 0x%x: %v", phdr.Vaddr, err),
				}
			}
			if uint64(n) != phdr.Filesz {
				return nil, &InvalidFileError{
					Reason: fmt.Sprintf("short read for segment at 0x%x: got %d bytes, expected %d",
						phdr.Vaddr, n, phdr.Filesz),
				}
			}
		}

		var flags byte
		if phdr.Flags&elf.PF_R != 0 {
			flags |= mmu.PermR
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= mmu.PermW
		}
		if phdr.Flags&elf.PF_X != 0 {
			flags |= mmu.PermX
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// LoadInto writes every segment's file bytes and BSS tail into mem and
// applies each segment's permission mask, per the spec's loader
// algorithm: dram_write the file contents, dram_set(0, ...) the
// memsize-filesize tail, then perm_set the flags over the whole
// segment.
func (p *Program) LoadInto(mem *mmu.MMU) error {
	for _, seg := range p.Segments {
		if len(seg.Data) > 0 {
			if err := mem.DramWrite(seg.VirtAddr, seg.Data); err != nil {
				return err
			}
		}
		if bssLen := seg.MemSize - uint64(len(seg.Data)); bssLen > 0 {
			if err := mem.DramSet(seg.VirtAddr+uint64(len(seg.Data)), bssLen, 0); err != nil {
				return err
			}
		}
		if err := mem.PermSet(seg.VirtAddr, seg.MemSize, seg.Flags); err != nil {
			return err
		}
	}
	return nil
}
