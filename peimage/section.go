// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"
	"sort"
	"strings"
)

// Section characteristics this loader consults when deriving page-table
// protection bits for a mapped section (handoff.PTE permissions).
const (
	ImageScnCntCode              = 0x00000020
	ImageScnCntInitializedData   = 0x00000040
	ImageScnCntUninitializedData = 0x00000080
	ImageScnMemDiscardable       = 0x02000000
	ImageScnMemNotCached         = 0x04000000
	ImageScnMemNotPaged          = 0x08000000
	ImageScnMemShared            = 0x10000000
	ImageScnMemExecute           = 0x20000000
	ImageScnMemRead              = 0x40000000
	ImageScnMemWrite             = 0x80000000
)

// ImageSectionHeader is one 40-byte row of the section table that follows
// the optional header.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Section is a parsed section header plus the accessors the rest of the
// package uses to translate between RVAs and file offsets.
type Section struct {
	Header ImageSectionHeader
}

// parseSectionHeader parses the section table, which immediately follows
// the optional header.
func (img *Image) parseSectionHeader() error {
	optionalHeaderOffset := img.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(img.NtHeader.FileHeader))
	offset := optionalHeaderOffset + uint32(img.NtHeader.FileHeader.SizeOfOptionalHeader)

	secHeader := ImageSectionHeader{}
	numberOfSections := img.NtHeader.FileHeader.NumberOfSections
	secHeaderSize := uint32(binary.Size(secHeader))

	for i := uint16(0); i < numberOfSections; i++ {
		if err := img.structUnpack(&secHeader, offset, secHeaderSize); err != nil {
			return err
		}
		img.Sections = append(img.Sections, Section{Header: secHeader})
		offset += secHeaderSize
	}

	sort.Sort(byVirtualAddress(img.Sections))

	headerEnd := optionalHeaderOffset + uint32(img.NtHeader.FileHeader.SizeOfOptionalHeader) +
		secHeaderSize*uint32(numberOfSections)
	if headerEnd <= img.size {
		img.Header = img.data[:headerEnd]
	}

	img.HasSections = true
	return nil
}

// String returns the section's null-trimmed name.
func (section *Section) String() string {
	return strings.TrimRight(string(section.Header.Name[:]), "\x00")
}

// Contains reports whether the section covers the given RVA.
func (section *Section) Contains(rva uint32, img *Image) bool {
	size := Max(section.Header.SizeOfRawData, section.Header.VirtualSize)
	va := img.adjustSectionAlignment(section.Header.VirtualAddress)
	return va <= rva && rva < va+size
}

// Data returns a byte range of the section's raw file content addressed by
// RVA. length of zero returns to the end of the section's raw data.
func (section *Section) Data(start, length uint32, img *Image) []byte {
	pointerToRawDataAdj := img.adjustFileAlignment(section.Header.PointerToRawData)
	virtualAddressAdj := img.adjustSectionAlignment(section.Header.VirtualAddress)

	var offset uint32
	if start == 0 {
		offset = pointerToRawDataAdj
	} else {
		offset = (start - virtualAddressAdj) + pointerToRawDataAdj
	}
	if offset > img.size {
		return nil
	}

	end := offset + section.Header.SizeOfRawData
	if length != 0 {
		end = offset + length
	}
	if end > img.size {
		end = img.size
	}
	if end < offset {
		return nil
	}
	return img.data[offset:end]
}

type byVirtualAddress []Section

func (s byVirtualAddress) Len() int      { return len(s) }
func (s byVirtualAddress) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byVirtualAddress) Less(i, j int) bool {
	return s[i].Header.VirtualAddress < s[j].Header.VirtualAddress
}

// Permissions derives the page-table protection bits implied by the
// section's characteristics: read, write, execute. handoff's
// BuildPageTable does not call it; it takes per-mapping flags from its
// caller instead.
func (section *Section) Permissions() (read, write, execute bool) {
	c := section.Header.Characteristics
	return c&ImageScnMemRead != 0, c&ImageScnMemWrite != 0, c&ImageScnMemExecute != 0
}
