// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"bytes"
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	// TinyPESize is the smallest PE executable Windows will load.
	TinyPESize = 97

	// fileAlignmentHardcodedValue: PointerToRawData below this is rounded
	// to zero regardless of the declared FileAlignment.
	fileAlignmentHardcodedValue = 0x200
)

// Max returns the larger of x or y.
func Max(x, y uint32) uint32 {
	if x < y {
		return y
	}
	return x
}

// Min returns the smallest value in a slice.
func Min(values []uint32) uint32 {
	m := values[0]
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}

// IsValidDosFilename reports whether name only contains characters legal in
// an 8.3 FAT filename, used to sanity-check import-descriptor DLL names.
func IsValidDosFilename(filename string) bool {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"0123456789!#$%&'()-@^_`{}~+,.;=[]\\/"
	for _, c := range filename {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}

func stringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

func (img *Image) getSectionByRva(rva uint32) *Section {
	for i := range img.Sections {
		if img.Sections[i].Contains(rva, img) {
			return &img.Sections[i]
		}
	}
	return nil
}

func (img *Image) getSectionByOffset(offset uint32) *Section {
	for i := range img.Sections {
		section := &img.Sections[i]
		if section.Header.PointerToRawData == 0 {
			continue
		}
		adjustedPointer := img.adjustFileAlignment(section.Header.PointerToRawData)
		if adjustedPointer <= offset && offset < adjustedPointer+section.Header.SizeOfRawData {
			return section
		}
	}
	return nil
}

func (img *Image) getSectionByName(name string) *Section {
	for i := range img.Sections {
		if img.Sections[i].String() == name {
			return &img.Sections[i]
		}
	}
	return nil
}

// GetOffsetFromRva returns the file offset corresponding to an RVA.
func (img *Image) GetOffsetFromRva(rva uint32) uint32 {
	section := img.getSectionByRva(rva)
	if section == nil {
		if rva < img.size {
			return rva
		}
		return ^uint32(0)
	}
	sectionAlignment := img.adjustSectionAlignment(section.Header.VirtualAddress)
	fileAlignment := img.adjustFileAlignment(section.Header.PointerToRawData)
	return rva - sectionAlignment + fileAlignment
}

// GetRVAFromOffset returns the RVA corresponding to a file offset.
func (img *Image) GetRVAFromOffset(offset uint32) uint32 {
	section := img.getSectionByOffset(offset)
	if section == nil {
		if len(img.Sections) == 0 || offset < img.size {
			return offset
		}
		return ^uint32(0)
	}
	sectionAlignment := img.adjustSectionAlignment(section.Header.VirtualAddress)
	fileAlignment := img.adjustFileAlignment(section.Header.PointerToRawData)
	return offset - fileAlignment + sectionAlignment
}

// getStringAtRVA returns a NUL-terminated ASCII string located at rva.
func (img *Image) getStringAtRVA(rva, maxLen uint32) string {
	if rva == 0 {
		return ""
	}
	section := img.getSectionByRva(rva)
	if section == nil {
		if rva > img.size {
			return ""
		}
		end := rva + maxLen
		if end > img.size {
			end = img.size
		}
		return string(img.GetStringFromData(0, img.data[rva:end]))
	}
	return string(img.GetStringFromData(0, section.Data(rva, maxLen, img)))
}

// GetStringFromData returns the NUL-terminated ASCII string starting at
// offset within data.
func (img *Image) GetStringFromData(offset uint32, data []byte) []byte {
	dataSize := uint32(len(data))
	if dataSize == 0 || offset > dataSize {
		return nil
	}
	end := offset
	for end < dataSize && data[end] != 0 {
		end++
	}
	return data[offset:end]
}

// GetData returns length bytes addressed by rva, wherever that RVA falls
// (inside a section, inside the raw header, or unmapped).
func (img *Image) GetData(rva, length uint32) ([]byte, error) {
	section := img.getSectionByRva(rva)

	var end uint32
	if length > 0 {
		end = rva + length
	}

	if section == nil {
		if rva < uint32(len(img.Header)) {
			return img.Header[rva:end], nil
		}
		if rva < img.size {
			return img.data[rva:end], nil
		}
		return nil, ErrOutOfBounds
	}
	return section.Data(rva, length, img), nil
}

func (img *Image) adjustFileAlignment(va uint32) uint32 {
	var fileAlignment uint32
	if img.Is64 {
		fileAlignment = img.oh64().FileAlignment
	} else {
		fileAlignment = img.oh32().FileAlignment
	}
	if fileAlignment < fileAlignmentHardcodedValue {
		return va
	}
	return (va / 0x200) * 0x200
}

func (img *Image) adjustSectionAlignment(va uint32) uint32 {
	var fileAlignment, sectionAlignment uint32
	if img.Is64 {
		fileAlignment = img.oh64().FileAlignment
		sectionAlignment = img.oh64().SectionAlignment
	} else {
		fileAlignment = img.oh32().FileAlignment
		sectionAlignment = img.oh32().SectionAlignment
	}
	if sectionAlignment < 0x1000 {
		sectionAlignment = fileAlignment
	}
	if sectionAlignment != 0 && va%sectionAlignment != 0 {
		return sectionAlignment * (va / sectionAlignment)
	}
	return va
}

// IsDriver reports whether the image imports from one of the handful of
// components that only ever get imported by kernel-mode code.
func (img *Image) IsDriver() bool {
	if len(img.Imports) == 0 {
		return false
	}
	systemDLLs := []string{"ntoskrnl.exe", "hal.dll", "ndis.sys", "bootvid.dll", "kdcom.dll"}
	for _, imp := range img.Imports {
		if stringInSlice(strings.ToLower(imp.Name), systemDLLs) {
			return true
		}
	}
	return img.GetCharacteristics()&ImageFileDLL == 0 &&
		img.GetSubsystem() == ImageSubsystemNative
}

// IsDLL reports whether the IMAGE_FILE_DLL characteristic is set.
func (img *Image) IsDLL() bool {
	return img.GetCharacteristics()&ImageFileDLL != 0
}

// IsEXE reports whether the image is a plain executable: not a DLL, not a
// driver, and flagged executable.
func (img *Image) IsEXE() bool {
	if img.IsDLL() || img.IsDriver() {
		return false
	}
	return img.GetCharacteristics()&ImageFileExecutableImage != 0
}

// GetCheckSum recomputes the PE checksum the way CheckSumMappedFile() does:
// a ones'-complement sum of the file as 32-bit words, skipping the stored
// checksum field itself, folded to 16 bits and added to the file length.
// Load does not call it, and nothing in this package compares the result
// with the header's stored CheckSum.
func (img *Image) GetCheckSum() uint32 {
	var checksum uint64
	const maxCarry = 0x100000000

	optionalHeaderOffset := img.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(img.NtHeader.FileHeader))
	checksumOffset := optionalHeaderOffset + 64

	data := img.data
	size := img.size
	if remainder := size % 4; remainder != 0 {
		data = append(append([]byte{}, data...), make([]byte, 4-remainder)...)
	}

	for i := uint32(0); i+4 <= uint32(len(data)); i += 4 {
		if i == checksumOffset {
			continue
		}
		checksum = (checksum & 0xffffffff) + uint64(binary.LittleEndian.Uint32(data[i:])) + (checksum >> 32)
		if checksum > maxCarry {
			checksum = (checksum & 0xffffffff) + (checksum >> 32)
		}
	}

	checksum = (checksum & 0xffff) + (checksum >> 16)
	checksum = checksum + (checksum >> 16)
	checksum = checksum & 0xffff
	checksum += uint64(size)

	return uint32(checksum)
}

// ReadUint64 reads a little-endian uint64 at offset.
func (img *Image) ReadUint64(offset uint32) (uint64, error) {
	if offset+8 > img.size {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint64(img.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (img *Image) ReadUint32(offset uint32) (uint32, error) {
	if img.size < 4 || offset > img.size-4 {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint32(img.data[offset:]), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (img *Image) ReadUint16(offset uint32) (uint16, error) {
	if img.size < 2 || offset > img.size-2 {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint16(img.data[offset:]), nil
}

func (img *Image) structUnpack(iface interface{}, offset, size uint32) error {
	totalSize := offset + size
	if (totalSize > offset) != (size > 0) {
		return ErrOutOfBounds
	}
	if offset >= img.size || totalSize > img.size {
		return ErrOutOfBounds
	}
	buf := bytes.NewReader(img.data[offset : offset+size])
	return binary.Read(buf, binary.LittleEndian, iface)
}

// ReadBytesAtOffset returns a size-byte slice of the mapped image at offset.
func (img *Image) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	totalSize := offset + size
	if (totalSize > offset) != (size > 0) {
		return nil, ErrOutOfBounds
	}
	if offset >= img.size || totalSize > img.size {
		return nil, ErrOutOfBounds
	}
	return img.data[offset : offset+size], nil
}

// decodeUTF16String decodes a NUL-terminated UTF-16LE string. Import
// names and forwarder strings are not read through it; they are ASCII and
// go through getStringAtRVA.
func decodeUTF16String(b []byte) (string, error) {
	n := bytes.Index(b, []byte{0, 0})
	if n < 0 {
		n = len(b) - (len(b) % 2)
	}
	if n == 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b[0:n])
	if err != nil {
		return "", err
	}
	return string(s), nil
}
