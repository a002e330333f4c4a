// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"bytes"
	"encoding/binary"
)

// testSection describes one section to bake into a synthetic image built
// by peBuilder.build. Offsets and RVAs are computed by the builder; callers only
// supply the content and characteristics.
type testSection struct {
	name            string
	data            []byte
	characteristics uint32
}

// peBuilder assembles a minimal, structurally valid PE32 image byte-for-byte
// the way the real linker would, so the parser under test exercises its
// real decode path instead of a hand-maintained byte literal. Every example
// in this package is built from one of these rather than a fixture file,
// since no sample binaries were available to carry forward from the
// original project.
type peBuilder struct {
	imageBase   uint32
	entryPoint  uint32
	subsystem   uint16
	sections    []testSection
	imports     []importSpec
	exports     []exportSpec
	relocations []relocSpec
}

type importSpec struct {
	dll   string
	funcs []string // plain names; "#N" means import by ordinal N
}

type exportSpec struct {
	name      string
	ordinal   uint16
	rva       uint32 // ignored if forwarder != ""
	forwarder string
}

type relocSpec struct {
	rva  uint32 // RVA of the 4-byte field to fix up
	kind ImageBaseRelocationEntryType
}

const (
	sectionAlignment = uint32(0x1000)
	fileAlignment    = uint32(0x200)
	headerSize       = uint32(0x400) // DOS stub + NT headers + section table, rounded to fileAlignment
)

func align(v, a uint32) uint32 {
	if v%a == 0 {
		return v
	}
	return (v/a + 1) * a
}

// build serializes the described image and returns its bytes along with
// the RVA each named section was placed at, for tests to locate content.
func (b *peBuilder) build() (data []byte, sectionRVA map[string]uint32) {
	sectionRVA = make(map[string]uint32)

	// Lay out sections back to back, page-aligned in memory, sector-aligned
	// on disk.
	type placed struct {
		testSection
		rva, fileOffset, rawSize uint32
	}
	var placedSections []placed
	rva := align(headerSize, sectionAlignment)
	fileOff := headerSize
	for _, s := range b.sections {
		raw := align(uint32(len(s.data)), fileAlignment)
		placedSections = append(placedSections, placed{s, rva, fileOff, raw})
		sectionRVA[s.name] = rva
		rva = align(rva+align(uint32(len(s.data)), sectionAlignment), sectionAlignment)
		fileOff += raw
	}
	sizeOfImage := rva

	buf := make([]byte, fileOff)

	// DOS header: only Magic and AddressOfNewEXEHeader matter to the parser.
	binary.LittleEndian.PutUint16(buf[0:], ImageDOSSignature)
	const ntHeaderOffset = 0x80
	binary.LittleEndian.PutUint32(buf[0x3c:], ntHeaderOffset)

	w := bytes.NewBuffer(nil)
	binary.Write(w, binary.LittleEndian, uint32(ImageNTSignature))
	fh := ImageFileHeader{
		Machine:              ImageFileMachineI386,
		NumberOfSections:     uint16(len(b.sections)),
		SizeOfOptionalHeader: 224,
		Characteristics:      ImageFileExecutableImage | ImageFile32BitMachine,
	}
	binary.Write(w, binary.LittleEndian, fh)

	oh := ImageOptionalHeader32{
		Magic:               ImageNtOptionalHeader32Magic,
		AddressOfEntryPoint: b.entryPoint,
		ImageBase:           b.imageBase,
		SectionAlignment:    sectionAlignment,
		FileAlignment:       fileAlignment,
		SizeOfImage:         sizeOfImage,
		SizeOfHeaders:       headerSize,
		Subsystem:           b.subsystem,
		NumberOfRvaAndSizes: ImageNumberOfDirectoryEntries,
	}

	var importDirRVA, importDirSize uint32
	var exportDirRVA, exportDirSize uint32
	var relocDirRVA, relocDirSize uint32
	for _, s := range placedSections {
		switch s.name {
		case ".idata":
			importDirRVA, importDirSize = s.rva, uint32(len(s.data))
		case ".edata":
			exportDirRVA, exportDirSize = s.rva, uint32(len(s.data))
		case ".reloc":
			relocDirRVA, relocDirSize = s.rva, uint32(len(s.data))
		}
	}
	oh.DataDirectory[ImageDirectoryEntryImport] = DataDirectory{importDirRVA, importDirSize}
	oh.DataDirectory[ImageDirectoryEntryExport] = DataDirectory{exportDirRVA, exportDirSize}
	oh.DataDirectory[ImageDirectoryEntryBaseReloc] = DataDirectory{relocDirRVA, relocDirSize}

	binary.Write(w, binary.LittleEndian, oh)

	for _, s := range placedSections {
		var nameField [8]byte
		copy(nameField[:], s.name)
		sh := ImageSectionHeader{
			Name:             nameField,
			VirtualSize:      uint32(len(s.data)),
			VirtualAddress:   s.rva,
			SizeOfRawData:    s.rawSize,
			PointerToRawData: s.fileOffset,
			Characteristics:  s.characteristics,
		}
		binary.Write(w, binary.LittleEndian, sh)
	}

	copy(buf[ntHeaderOffset:], w.Bytes())

	for _, s := range placedSections {
		copy(buf[s.fileOffset:], s.data)
	}

	return buf, sectionRVA
}

// asciiz returns s NUL-terminated.
func asciiz(s string) []byte {
	return append([]byte(s), 0)
}

func putUint32At(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

func putUint16At(buf []byte, off uint32, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:], v)
}

// buildRelocSection lays out a single base-relocation block covering
// pageRVA's page, one entry per fixup in entries. The page is padded to
// 0x1000 bytes so it occupies exactly one section slot in peBuilder's
// deterministic layout.
func buildRelocSection(pageRVA uint32, entries []relocSpec) []byte {
	data := make([]byte, 0x1000)
	putUint32At(data, 0, pageRVA)
	blockSize := uint32(8 + len(entries)*2)
	putUint32At(data, 4, blockSize)
	for i, e := range entries {
		word := uint16(e.kind)<<12 | uint16(e.rva&0xfff)
		putUint16At(data, 8+uint32(i)*2, word)
	}
	return data
}

// buildImportSection lays out one IMAGE_IMPORT_DESCRIPTOR plus its name,
// lookup, and address tables for a single imported DLL, all addressed
// relative to baseRVA (the RVA the section will be placed at). It returns
// the IAT slot RVA for each function, in order.
func buildImportSection(baseRVA uint32, dllName string, funcs []string) (data []byte, thunkRVAs []uint32) {
	data = make([]byte, 0x1000)
	const (
		descOff = 0
		nameOff = 64
		iltOff  = 128
		iatOff  = 256
		hintOff = 384
	)
	copy(data[nameOff:], asciiz(dllName))

	thunkRVAs = make([]uint32, len(funcs))
	cur := uint32(hintOff)
	for i, fn := range funcs {
		hintNameRVA := baseRVA + cur
		putUint16At(data, cur, 0)
		copy(data[cur+2:], asciiz(fn))
		cur += 2 + uint32(len(fn)) + 1
		if cur%2 != 0 {
			cur++
		}
		putUint32At(data, iltOff+uint32(i)*4, hintNameRVA)
		putUint32At(data, iatOff+uint32(i)*4, hintNameRVA)
		thunkRVAs[i] = baseRVA + iatOff + uint32(i)*4
	}

	putUint32At(data, descOff+0, baseRVA+iltOff)  // OriginalFirstThunk
	putUint32At(data, descOff+12, baseRVA+nameOff) // Name
	putUint32At(data, descOff+16, baseRVA+iatOff)  // FirstThunk
	return data, thunkRVAs
}

// buildExportSection lays out an IMAGE_EXPORT_DIRECTORY with one entry per
// exps, relative to baseRVA. Entries with a non-empty forwarder are
// detected as forwarders by the parser because their string lives inside
// this same section's RVA range; entries without one must supply an rva
// that falls outside it (e.g. into a .text section) or they will be
// mistaken for forwarders too.
func buildExportSection(baseRVA uint32, moduleName string, exps []exportSpec) []byte {
	data := make([]byte, 0x1000)
	const (
		dirOff     = 0
		funcsOff   = 64
		namesOff   = 128
		ordsOff    = 192
		nameStrOff = 512
		fnStrOff   = 700
	)
	const base = uint32(1)

	copy(data[nameStrOff:], asciiz(moduleName))

	cur := uint32(fnStrOff)
	namedCount := uint32(0)
	for i, e := range exps {
		var fnRVA uint32
		if e.forwarder != "" {
			fnRVA = baseRVA + cur
			copy(data[cur:], asciiz(e.forwarder))
			cur += uint32(len(e.forwarder)) + 1
		} else {
			fnRVA = e.rva
		}
		putUint32At(data, funcsOff+uint32(i)*4, fnRVA)

		if e.name != "" {
			nameRVA := baseRVA + cur
			copy(data[cur:], asciiz(e.name))
			cur += uint32(len(e.name)) + 1
			putUint32At(data, namesOff+namedCount*4, nameRVA)
			putUint16At(data, ordsOff+namedCount*2, uint16(i))
			namedCount++
		}
	}

	n := uint32(len(exps))
	putUint32At(data, dirOff+12, baseRVA+nameStrOff) // Name
	putUint32At(data, dirOff+16, base)                // Base
	putUint32At(data, dirOff+20, n)                   // NumberOfFunctions
	putUint32At(data, dirOff+24, namedCount)           // NumberOfNames
	putUint32At(data, dirOff+28, baseRVA+funcsOff)     // AddressOfFunctions
	putUint32At(data, dirOff+32, baseRVA+namesOff)     // AddressOfNames
	putUint32At(data, dirOff+36, baseRVA+ordsOff)      // AddressOfNameOrdinals
	return data
}
