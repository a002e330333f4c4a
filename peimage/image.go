// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
)

// Image is an open, parsed PE32/PE32+ file: the kernel, the HAL, a boot
// driver, or a DLL in its import closure. Other packages mostly go
// through its methods; cmd/quibgoctl's dump-image command and imagegraph's
// tests also read exported fields such as Imports and Export directly.
type Image struct {
	// Name is the module name other images' import descriptors refer to
	// this image by (e.g. "ntoskrnl.exe"), used by ResolveImports to match
	// an import entry to its target image.
	Name string

	DOSHeader   ImageDOSHeader
	NtHeader    ImageNtHeader
	Sections    []Section
	Imports     []Import
	Export      Export
	Relocations []Relocation
	Header      []byte
	FileInfo

	data        mmap.MMap
	size        uint32
	f           *os.File
	mapped      bool // true when data is a real OS mapping that Free must Unmap
	logger      *logrus.Entry
	appliedBase uint64 // VA currently baked into the relocatable fixups
}

// Load opens name, maps it copy-on-write (mutations from Relocate never
// touch the file on disk), and parses it. preferredVA, if non-zero,
// immediately relocates the image to that base; zero leaves it at the
// linker's preferred ImageBase.
func Load(name string, preferredVA uint64, logger *logrus.Entry) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.COPY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	img, err := newImage(data, logger)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	img.f = f
	img.mapped = true
	img.Name = filepath.Base(name)

	if preferredVA != 0 {
		if err := img.Relocate(preferredVA); err != nil {
			img.Free()
			return nil, err
		}
	}
	return img, nil
}

// LoadBytes parses an in-memory image, e.g. the bytes imagegraph already
// has mapped via the registry/apiset path, or a synthetic image in tests.
// name is the module name this image is imported by elsewhere as.
func LoadBytes(name string, data []byte, preferredVA uint64, logger *logrus.Entry) (*Image, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	img, err := newImage(buf, logger)
	if err != nil {
		return nil, err
	}
	img.Name = name
	if preferredVA != 0 {
		if err := img.Relocate(preferredVA); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func newImage(data []byte, logger *logrus.Entry) (*Image, error) {
	if len(data) < TinyPESize {
		return nil, ErrDOSMagicNotFound
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	img := &Image{logger: logger}
	img.setData(data)

	if err := img.parseDOSHeader(); err != nil {
		return nil, err
	}
	if err := img.parseNTHeader(); err != nil {
		return nil, err
	}
	if err := img.parseSectionHeader(); err != nil {
		return nil, err
	}
	img.appliedBase = img.preferredImageBase()

	if dir := img.dataDirectory(ImageDirectoryEntryImport); dir.VirtualAddress != 0 {
		if err := img.parseImportDirectory(dir.VirtualAddress, dir.Size); err != nil {
			img.logger.WithError(err).Warn("import directory parse failed")
		}
	}
	if dir := img.dataDirectory(ImageDirectoryEntryExport); dir.VirtualAddress != 0 {
		if err := img.parseExportDirectory(dir.VirtualAddress, dir.Size); err != nil {
			img.logger.WithError(err).Warn("export directory parse failed")
		}
	}
	if dir := img.dataDirectory(ImageDirectoryEntryBaseReloc); dir.VirtualAddress != 0 {
		if err := img.parseRelocDirectory(dir.VirtualAddress, dir.Size); err != nil {
			img.logger.WithError(err).Warn("relocation directory parse failed")
		}
	}

	return img, nil
}

// setData points the image at a backing byte slice. mmap.MMap is itself
// defined as a []byte, so this accepts both a real mapping and a plain
// in-memory buffer identically.
func (img *Image) setData(data []byte) {
	img.data = mmap.MMap(data)
	img.size = uint32(len(data))
}

// Free releases the backing pages. It is safe to call on an image loaded
// from bytes, where it is a no-op beyond dropping the reference.
func (img *Image) Free() error {
	var err error
	if img.data != nil && img.mapped {
		err = img.data.Unmap()
	}
	img.data = nil
	if img.f != nil {
		if cerr := img.f.Close(); err == nil {
			err = cerr
		}
		img.f = nil
	}
	return err
}

// GetEntryPoint returns AddressOfEntryPoint, relative to the image base.
func (img *Image) GetEntryPoint() uint32 {
	if img.Is64 {
		return img.oh64().AddressOfEntryPoint
	}
	return img.oh32().AddressOfEntryPoint
}

// GetSize returns SizeOfImage: the span the image must occupy once mapped.
func (img *Image) GetSize() uint32 {
	if img.Is64 {
		return img.oh64().SizeOfImage
	}
	return img.oh32().SizeOfImage
}

// GetDllCharacteristics returns the optional header's DllCharacteristics.
func (img *Image) GetDllCharacteristics() uint16 {
	if img.Is64 {
		return img.oh64().DllCharacteristics
	}
	return img.oh32().DllCharacteristics
}

// GetCharacteristics returns the COFF file header's Characteristics.
func (img *Image) GetCharacteristics() uint16 {
	return img.NtHeader.FileHeader.Characteristics
}

// GetSubsystem returns the optional header's Subsystem field.
func (img *Image) GetSubsystem() uint16 {
	if img.Is64 {
		return img.oh64().Subsystem
	}
	return img.oh32().Subsystem
}

// ImageVersion is the (major, minor) required-OS version pair GetVersion
// reads from the optional header.
type ImageVersion struct {
	Major uint16
	Minor uint16
}

// GetVersion returns the required-OS version recorded in the optional
// header (MajorOperatingSystemVersion.MinorOperatingSystemVersion).
func (img *Image) GetVersion() ImageVersion {
	if img.Is64 {
		oh := img.oh64()
		return ImageVersion{oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion}
	}
	oh := img.oh32()
	return ImageVersion{oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion}
}

// GetSections returns the parsed section table.
func (img *Image) GetSections() []Section {
	return img.Sections
}

// FindSection returns the section named name (case-sensitive, matching PE
// convention) and its raw content, or ok=false if the image has none by
// that name — used by callers like apiset that pull one named section out
// of a loaded DLL instead of the whole image.
func (img *Image) FindSection(name string) (sec *Section, data []byte, ok bool) {
	s := img.getSectionByName(name)
	if s == nil {
		return nil, nil, false
	}
	return s, s.Data(0, 0, img), true
}

// ListImports returns the DLL name of every import descriptor, in
// import-directory order; a DLL named by several descriptors appears once
// per descriptor.
func (img *Image) ListImports() []string {
	names := make([]string, 0, len(img.Imports))
	for _, imp := range img.Imports {
		names = append(names, imp.Name)
	}
	return names
}
