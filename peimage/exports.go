// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"
	"strings"
)

// maxForwarderHops bounds the forwarder-chain walk; NT never forwards more
// than a couple of hops deep (e.g. ext-ms-* -> api-ms-* -> the real DLL),
// so this only guards against a cycle in a malformed export table.
const maxForwarderHops = 8

// ImageExportDirectory is IMAGE_EXPORT_DIRECTORY: the header of the
// .edata directory.
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportFunction is one entry of the export table, by ordinal, optionally
// also reachable by name, and either a real address or a forwarder string.
type ExportFunction struct {
	Name        string
	Ordinal     uint16 // biased: the raw ordinal, not an index
	RVA         uint32
	Forwarder   string // "OtherDll.OtherFunc" when RVA falls inside .edata
	IsForwarder bool
}

// Export is the parsed export directory of an image.
type Export struct {
	Name      string
	Struct    ImageExportDirectory
	Functions []ExportFunction
}

func (img *Image) parseExportDirectory(rva, size uint32) error {
	var dir ImageExportDirectory
	offset := img.GetOffsetFromRva(rva)
	dirSize := uint32(binary.Size(dir))
	if err := img.structUnpack(&dir, offset, dirSize); err != nil {
		return err
	}

	exportStart, exportEnd := rva, rva+size

	functions := make([]ExportFunction, dir.NumberOfFunctions)
	funcTableOffset := img.GetOffsetFromRva(dir.AddressOfFunctions)
	for i := uint32(0); i < dir.NumberOfFunctions; i++ {
		fnRVA, err := img.ReadUint32(funcTableOffset + i*4)
		if err != nil {
			return ErrDamagedExportTable
		}
		fn := ExportFunction{Ordinal: uint16(dir.Base + i), RVA: fnRVA}
		if fnRVA >= exportStart && fnRVA < exportEnd {
			fn.IsForwarder = true
			fn.Forwarder = img.getStringAtRVA(fnRVA, maxImportNameLength)
		}
		functions[i] = fn
	}

	nameTableOffset := img.GetOffsetFromRva(dir.AddressOfNames)
	ordTableOffset := img.GetOffsetFromRva(dir.AddressOfNameOrdinals)
	for i := uint32(0); i < dir.NumberOfNames; i++ {
		nameRVA, err := img.ReadUint32(nameTableOffset + i*4)
		if err != nil {
			return ErrDamagedExportTable
		}
		nameIndex, err := img.ReadUint16(ordTableOffset + i*2)
		if err != nil {
			return ErrDamagedExportTable
		}
		if uint32(nameIndex) >= dir.NumberOfFunctions {
			continue
		}
		functions[nameIndex].Name = img.getStringAtRVA(nameRVA, maxImportNameLength)
	}

	img.Export = Export{
		Name:      img.getStringAtRVA(dir.Name, maxDllNameLength),
		Struct:    dir,
		Functions: functions,
	}
	img.HasExport = true
	return nil
}

func (img *Image) findExportFunction(name string, ordinal uint16, byOrdinal bool) (ExportFunction, bool) {
	for _, fn := range img.Export.Functions {
		if byOrdinal {
			if fn.Ordinal == ordinal {
				return fn, true
			}
			continue
		}
		if strings.EqualFold(fn.Name, name) {
			return fn, true
		}
	}
	return ExportFunction{}, false
}

// FindExport resolves name to an absolute virtual address, following
// forwarder chains ("OtherDll.OtherFunc") via resolve until a real code
// address is found.
func (img *Image) FindExport(name string, resolve ForwardResolver) (uint64, error) {
	return img.resolveExport(name, 0, false, resolve, 0)
}

// FindExportByOrdinal is FindExport's by-ordinal counterpart, used for
// imports that reference a DLL export table by ordinal rather than name.
func (img *Image) FindExportByOrdinal(ordinal uint16, resolve ForwardResolver) (uint64, error) {
	return img.resolveExport("", ordinal, true, resolve, 0)
}

func (img *Image) resolveExport(name string, ordinal uint16, byOrdinal bool, resolve ForwardResolver, hops int) (uint64, error) {
	if hops > maxForwarderHops {
		return 0, ErrForwarderLoop
	}

	fn, ok := img.findExportFunction(name, ordinal, byOrdinal)
	if !ok {
		return 0, ErrExportNotFound
	}

	if !fn.IsForwarder {
		return img.appliedBase + uint64(fn.RVA), nil
	}

	dllName, funcName, ok := strings.Cut(fn.Forwarder, ".")
	if !ok {
		return 0, ErrDamagedExportTable
	}

	next, err := resolve(dllName)
	if err != nil {
		return 0, err
	}

	if strings.HasPrefix(funcName, "#") {
		var ord uint64
		for _, c := range funcName[1:] {
			if c < '0' || c > '9' {
				return 0, ErrDamagedExportTable
			}
			ord = ord*10 + uint64(c-'0')
		}
		return next.resolveExport("", uint16(ord), true, resolve, hops+1)
	}
	return next.resolveExport(funcName, 0, false, resolve, hops+1)
}
