// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"

	mmap "github.com/edsrzf/mmap-go"
)

// ImageBaseRelocationEntryType is the Type nibble of a base relocation
// entry; it says how the delta should be folded into the field at Offset.
type ImageBaseRelocationEntryType uint8

const (
	ImageRelBasedAbsolute = ImageBaseRelocationEntryType(0) // padding; skipped
	ImageRelBasedHigh     = ImageBaseRelocationEntryType(1)
	ImageRelBasedLow      = ImageBaseRelocationEntryType(2)
	ImageRelBasedHighLow  = ImageBaseRelocationEntryType(3) // full 32-bit field
	ImageRelBasedHighAdj  = ImageBaseRelocationEntryType(4)
	ImageRelBasedDir64    = ImageBaseRelocationEntryType(10) // full 64-bit field
)

// maxRelocEntriesCount bounds how many entries a single block may claim,
// guarding against malformed or hostile binaries that declare a
// fake-huge block to stall a parser.
const maxRelocEntriesCount = 0x10000

// ImageBaseRelocation is the IMAGE_BASE_RELOCATION block header: every
// chunk of the .reloc directory opens with one of these.
type ImageBaseRelocation struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

// ImageBaseRelocationEntry is one fixup within a relocation block.
type ImageBaseRelocationEntry struct {
	Offset uint16 // low 12 bits of the packed Type/Offset word
	Type   ImageBaseRelocationEntryType
}

// Relocation is one parsed base-relocation block: its header plus entries.
type Relocation struct {
	Data    ImageBaseRelocation
	Entries []ImageBaseRelocationEntry
}

func (img *Image) parseRelocations(rva, size uint32) ([]ImageBaseRelocationEntry, error) {
	var entries []ImageBaseRelocationEntry
	count := size / 2
	if count > maxRelocEntriesCount {
		count = maxRelocEntriesCount
	}
	offset := img.GetOffsetFromRva(rva)
	for i := uint32(0); i < count; i++ {
		word, err := img.ReadUint16(offset + i*2)
		if err != nil {
			break
		}
		entries = append(entries, ImageBaseRelocationEntry{
			Type:   ImageBaseRelocationEntryType(word >> 12),
			Offset: word & 0x0fff,
		})
	}
	return entries, nil
}

// parseRelocDirectory parses the .reloc directory into img.Relocations.
// It does not apply anything; Relocate does that against a chosen delta.
func (img *Image) parseRelocDirectory(rva, size uint32) error {
	sizeOfImage := img.GetSize()
	relocHeaderSize := uint32(binary.Size(ImageBaseRelocation{}))
	end := rva + size

	for rva < end {
		var baseReloc ImageBaseRelocation
		offset := img.GetOffsetFromRva(rva)
		if err := img.structUnpack(&baseReloc, offset, relocHeaderSize); err != nil {
			return err
		}
		if baseReloc.VirtualAddress > sizeOfImage {
			return ErrInvalidBaseRelocVA
		}
		if baseReloc.SizeOfBlock > sizeOfImage {
			return ErrInvalidRelocBlockSize
		}
		if baseReloc.SizeOfBlock == 0 {
			break
		}

		entries, err := img.parseRelocations(rva+relocHeaderSize, baseReloc.SizeOfBlock-relocHeaderSize)
		if err != nil {
			return err
		}
		img.Relocations = append(img.Relocations, Relocation{Data: baseReloc, Entries: entries})
		rva += baseReloc.SizeOfBlock
	}

	img.HasReloc = len(img.Relocations) > 0
	return nil
}

// Relocate rebases the image to newBase, applying the signed delta
// (newBase - the base currently baked into the fixups) to every base
// relocation entry. Calling Relocate twice with the same newBase is a
// no-op: the delta against the already-applied base is zero.
func (img *Image) Relocate(newBase uint64) error {
	delta := int64(newBase) - int64(img.appliedBase)
	if delta == 0 {
		return nil
	}
	if len(img.Relocations) == 0 && img.appliedBase != img.preferredImageBase() {
		return ErrNotRelocatable
	}

	for _, block := range img.Relocations {
		for _, entry := range block.Entries {
			rva := block.Data.VirtualAddress + uint32(entry.Offset)
			offset := img.GetOffsetFromRva(rva)
			switch entry.Type {
			case ImageRelBasedAbsolute:
				continue
			case ImageRelBasedHighLow:
				v, err := img.ReadUint32(offset)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(img.data[offset:], uint32(int64(v)+delta))
			case ImageRelBasedDir64:
				v, err := img.ReadUint64(offset)
				if err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(img.data[offset:], uint64(int64(v)+delta))
			default:
				// High/Low/HighAdj split-field relocations never appear in
				// modern x86/x64 NT images; not worth the bookkeeping here.
			}
		}
	}

	img.setImageBase(newBase)
	img.appliedBase = newBase
	return nil
}

func (img *Image) setImageBase(base uint64) {
	if img.Is64 {
		oh := img.oh64()
		oh.ImageBase = base
		img.NtHeader.OptionalHeader = oh
	} else {
		oh := img.oh32()
		oh.ImageBase = uint32(base)
		img.NtHeader.OptionalHeader = oh
	}
}

// MoveAddress copies the image's relocated backing pages into dest, which
// the address-space planner has already reserved at the image's physical
// base. The image's own accessors keep working unchanged afterwards: RVAs
// are still resolved against the section table, only the storage moved.
func (img *Image) MoveAddress(dest []byte) error {
	if uint32(len(dest)) < img.size {
		return ErrOutOfBounds
	}
	copy(dest, img.data[:img.size])

	if img.mapped {
		img.data.Unmap()
		if img.f != nil {
			img.f.Close()
			img.f = nil
		}
	}

	img.data = mmap.MMap(dest)
	img.mapped = false
	return nil
}
