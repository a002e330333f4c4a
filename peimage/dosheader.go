// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"
)

// ImageDOSHeader represents the DOS stub of a PE.
type ImageDOSHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeader             uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	AddressOfNewEXEHeader    uint32
}

// parseDOSHeader parses the DOS header stub every PE file opens with. Its
// only field this loader cares about is AddressOfNewEXEHeader (e_lfanew),
// the offset to the real NT headers.
func (img *Image) parseDOSHeader() error {
	offset := uint32(0)
	size := uint32(binary.Size(img.DOSHeader))
	if err := img.structUnpack(&img.DOSHeader, offset, size); err != nil {
		return err
	}

	if img.DOSHeader.Magic != ImageDOSSignature {
		return ErrDOSMagicNotFound
	}

	if img.DOSHeader.AddressOfNewEXEHeader < 4 ||
		img.DOSHeader.AddressOfNewEXEHeader > img.size {
		return ErrInvalidElfanewValue
	}

	img.HasDOSHdr = true
	return nil
}
