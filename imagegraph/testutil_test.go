package imagegraph

import (
	"bytes"
	"encoding/binary"
)

// Minimal hand-serialized PE32 builder for this package's own tests. It
// deliberately only supports what discoverImports/ResolveImports actually
// touch: one code section plus an optional import table and/or export
// table. peimage has its own richer builder, but it is unexported and
// this package only needs a fraction of it.

const (
	igSectionAlign = uint32(0x1000)
	igFileAlign    = uint32(0x200)
	igHeaderSize   = uint32(0x400)
)

func igAlign(v, a uint32) uint32 {
	if v%a == 0 {
		return v
	}
	return (v/a + 1) * a
}

func asciizIG(s string) []byte { return append([]byte(s), 0) }

// buildImportSection lays out one IMAGE_IMPORT_DESCRIPTOR plus its name,
// lookup, and address tables for a single imported DLL.
func buildImportSectionIG(baseRVA uint32, dllName string, funcs []string) []byte {
	data := make([]byte, 0x1000)
	const (
		descOff = 0
		nameOff = 64
		iltOff  = 128
		iatOff  = 256
		hintOff = 384
	)
	copy(data[nameOff:], asciizIG(dllName))

	cur := uint32(hintOff)
	for i, fn := range funcs {
		hintNameRVA := baseRVA + cur
		binary.LittleEndian.PutUint16(data[cur:], 0)
		copy(data[cur+2:], asciizIG(fn))
		cur += 2 + uint32(len(fn)) + 1
		if cur%2 != 0 {
			cur++
		}
		binary.LittleEndian.PutUint32(data[iltOff+uint32(i)*4:], hintNameRVA)
		binary.LittleEndian.PutUint32(data[iatOff+uint32(i)*4:], hintNameRVA)
	}

	binary.LittleEndian.PutUint32(data[descOff+0:], baseRVA+iltOff)
	binary.LittleEndian.PutUint32(data[descOff+12:], baseRVA+nameOff)
	binary.LittleEndian.PutUint32(data[descOff+16:], baseRVA+iatOff)
	return data
}

// buildExportSection lays out an IMAGE_EXPORT_DIRECTORY with one named
// export per fn, each pointing at rva (an address inside the code section,
// never a string inside this section, so it is never mistaken for a
// forwarder).
func buildExportSectionIG(baseRVA uint32, moduleName string, fns []string, rvas []uint32) []byte {
	data := make([]byte, 0x1000)
	const (
		dirOff     = 0
		funcsOff   = 64
		namesOff   = 128
		ordsOff    = 192
		nameStrOff = 512
		fnStrOff   = 700
	)
	copy(data[nameStrOff:], asciizIG(moduleName))

	cur := uint32(fnStrOff)
	for i, fn := range fns {
		binary.LittleEndian.PutUint32(data[funcsOff+uint32(i)*4:], rvas[i])
		nameRVA := baseRVA + cur
		copy(data[cur:], asciizIG(fn))
		cur += uint32(len(fn)) + 1
		binary.LittleEndian.PutUint32(data[namesOff+uint32(i)*4:], nameRVA)
		binary.LittleEndian.PutUint16(data[ordsOff+uint32(i)*2:], uint16(i))
	}

	n := uint32(len(fns))
	binary.LittleEndian.PutUint32(data[dirOff+12:], baseRVA+nameStrOff)
	binary.LittleEndian.PutUint32(data[dirOff+16:], 1)
	binary.LittleEndian.PutUint32(data[dirOff+20:], n)
	binary.LittleEndian.PutUint32(data[dirOff+24:], n)
	binary.LittleEndian.PutUint32(data[dirOff+28:], baseRVA+funcsOff)
	binary.LittleEndian.PutUint32(data[dirOff+32:], baseRVA+namesOff)
	binary.LittleEndian.PutUint32(data[dirOff+36:], baseRVA+ordsOff)
	return data
}

type igSection struct {
	name string
	data []byte
}

// buildImage assembles a minimal x86 PE with a .text section plus,
// optionally, an import section (importDLL/importFuncs) and/or an export
// section (exportFuncs, each resolving to an address inside .text).
func buildImage(imageBase uint32, importDLL string, importFuncs []string, exportFuncs []string) []byte {
	var sections []igSection
	sections = append(sections, igSection{name: ".text", data: make([]byte, 0x1000)})

	// placement pass 1: figure out .text's RVA so exports can point into it.
	rva := igAlign(igHeaderSize, igSectionAlign)
	textRVA := rva

	var importRVA, exportRVA uint32

	// Layout order: .text, [.idata], [.edata].
	type placed struct {
		igSection
		rva, fileOff, rawSize uint32
	}
	fileOff := igHeaderSize
	var placedSections []placed
	placedSections = append(placedSections, placed{sections[0], textRVA, fileOff, igAlign(uint32(len(sections[0].data)), igFileAlign)})
	rva = igAlign(textRVA+igAlign(uint32(len(sections[0].data)), igSectionAlign), igSectionAlign)
	fileOff += placedSections[0].rawSize

	if importDLL != "" {
		importRVA = rva
		data := buildImportSectionIG(importRVA, importDLL, importFuncs)
		placedSections = append(placedSections, placed{igSection{name: ".idata", data: data}, importRVA, fileOff, igAlign(uint32(len(data)), igFileAlign)})
		rva = igAlign(importRVA+igAlign(uint32(len(data)), igSectionAlign), igSectionAlign)
		fileOff += placedSections[len(placedSections)-1].rawSize
	}

	if len(exportFuncs) > 0 {
		exportRVA = rva
		rvas := make([]uint32, len(exportFuncs))
		for i := range exportFuncs {
			rvas[i] = textRVA + uint32(i)*4
		}
		data := buildExportSectionIG(exportRVA, "target.dll", exportFuncs, rvas)
		placedSections = append(placedSections, placed{igSection{name: ".edata", data: data}, exportRVA, fileOff, igAlign(uint32(len(data)), igFileAlign)})
		rva = igAlign(exportRVA+igAlign(uint32(len(data)), igSectionAlign), igSectionAlign)
		fileOff += placedSections[len(placedSections)-1].rawSize
	}

	sizeOfImage := rva
	buf := make([]byte, fileOff)

	binary.LittleEndian.PutUint16(buf[0:], 0x5A4D) // MZ
	const ntHeaderOffset = 0x80
	binary.LittleEndian.PutUint32(buf[0x3c:], ntHeaderOffset)

	w := bytes.NewBuffer(nil)
	binary.Write(w, binary.LittleEndian, uint32(0x00004550)) // "PE\0\0"
	type fileHeader struct {
		Machine              uint16
		NumberOfSections     uint16
		TimeDateStamp        uint32
		PointerToSymbolTable uint32
		NumberOfSymbols      uint32
		SizeOfOptionalHeader uint16
		Characteristics      uint16
	}
	fh := fileHeader{
		Machine:              0x14c, // I386
		NumberOfSections:     uint16(len(placedSections)),
		SizeOfOptionalHeader: 224,
		Characteristics:      0x0002 | 0x0100, // EXECUTABLE_IMAGE | 32BIT_MACHINE
	}
	binary.Write(w, binary.LittleEndian, fh)

	type dataDirectory struct{ VirtualAddress, Size uint32 }
	type optionalHeader32 struct {
		Magic                       uint16
		MajorLinkerVersion          uint8
		MinorLinkerVersion          uint8
		SizeOfCode                  uint32
		SizeOfInitializedData       uint32
		SizeOfUninitializedData     uint32
		AddressOfEntryPoint         uint32
		BaseOfCode                  uint32
		BaseOfData                  uint32
		ImageBase                   uint32
		SectionAlignment            uint32
		FileAlignment               uint32
		MajorOperatingSystemVersion uint16
		MinorOperatingSystemVersion uint16
		MajorImageVersion           uint16
		MinorImageVersion           uint16
		MajorSubsystemVersion       uint16
		MinorSubsystemVersion       uint16
		Win32VersionValue           uint32
		SizeOfImage                 uint32
		SizeOfHeaders               uint32
		CheckSum                    uint32
		Subsystem                   uint16
		DllCharacteristics          uint16
		SizeOfStackReserve          uint32
		SizeOfStackCommit           uint32
		SizeOfHeapReserve           uint32
		SizeOfHeapCommit            uint32
		LoaderFlags                 uint32
		NumberOfRvaAndSizes         uint32
		DataDirectory               [16]dataDirectory
	}
	oh := optionalHeader32{
		Magic:               0x10b,
		ImageBase:           imageBase,
		SectionAlignment:    igSectionAlign,
		FileAlignment:       igFileAlign,
		SizeOfImage:         sizeOfImage,
		SizeOfHeaders:       igHeaderSize,
		Subsystem:           1, // native
		NumberOfRvaAndSizes: 16,
	}
	if importRVA != 0 {
		oh.DataDirectory[1] = dataDirectory{importRVA, 0x1000} // IMAGE_DIRECTORY_ENTRY_IMPORT
	}
	if exportRVA != 0 {
		oh.DataDirectory[0] = dataDirectory{exportRVA, 0x1000} // IMAGE_DIRECTORY_ENTRY_EXPORT
	}
	binary.Write(w, binary.LittleEndian, oh)

	type sectionHeader struct {
		Name                 [8]byte
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
	for _, s := range placedSections {
		var nameField [8]byte
		copy(nameField[:], s.name)
		sh := sectionHeader{
			Name:             nameField,
			VirtualSize:      uint32(len(s.data)),
			VirtualAddress:   s.rva,
			SizeOfRawData:    s.rawSize,
			PointerToRawData: s.fileOff,
			Characteristics:  0xE0000020,
		}
		binary.Write(w, binary.LittleEndian, sh)
	}

	copy(buf[ntHeaderOffset:], w.Bytes())
	for _, s := range placedSections {
		copy(buf[s.fileOff:], s.data)
	}
	return buf
}

// fakeOpener serves pre-registered byte blobs, indexed case-insensitively
// by the name ReadFile was asked for; it ignores dir.
type fakeOpener struct {
	files map[string][]byte
}

func newFakeOpener() *fakeOpener { return &fakeOpener{files: make(map[string][]byte)} }

func (f *fakeOpener) put(name string, data []byte) { f.files[toLower(name)] = data }

func (f *fakeOpener) ReadFile(dir, name string) ([]byte, error) {
	data, ok := f.files[toLower(name)]
	if !ok {
		return nil, errNotFoundIG(name)
	}
	return data, nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

type notFoundErrIG string

func (e notFoundErrIG) Error() string { return "file not found: " + string(e) }
func errNotFoundIG(name string) error { return notFoundErrIG(name) }
