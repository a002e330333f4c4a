// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"
	"strings"
)

const (
	imageOrdinalFlag32  = uint32(0x80000000)
	imageOrdinalFlag64  = uint64(0x8000000000000000)
	maxDllNameLength    = 0x200
	maxImportNameLength = 0x200
)

// ImageImportDescriptor is one entry of the import directory table: one
// per DLL the image refers to. The table ends with a zeroed entry.
type ImageImportDescriptor struct {
	OriginalFirstThunk uint32 // RVA of the import lookup table (INT)
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32 // RVA of the DLL name
	FirstThunk         uint32 // RVA of the import address table (IAT)
}

// ImportFunction is one imported symbol: either imported by name (with an
// export-table search hint) or by ordinal.
type ImportFunction struct {
	Name      string
	Hint      uint16
	ByOrdinal bool
	Ordinal   uint16

	// ThunkRVA is the RVA of this entry's slot in the IAT (FirstThunk +
	// index*thunkSize); ResolveImports writes the resolved address here.
	ThunkRVA uint32
}

// Import is one imported DLL: its name and the functions pulled from it.
type Import struct {
	Name       string
	Functions  []ImportFunction
	Descriptor ImageImportDescriptor
}

func (img *Image) parseImportDirectory(rva, size uint32) error {
	thunkSize := uint32(4)
	if img.Is64 {
		thunkSize = 8
	}

	for {
		var desc ImageImportDescriptor
		offset := img.GetOffsetFromRva(rva)
		descSize := uint32(binary.Size(desc))
		if err := img.structUnpack(&desc, offset, descSize); err != nil {
			return err
		}
		if desc == (ImageImportDescriptor{}) {
			break
		}
		rva += descSize

		dllName := img.getStringAtRVA(desc.Name, maxDllNameLength)
		if !IsValidDosFilename(dllName) {
			continue
		}

		functions, err := img.parseImportThunks(desc.OriginalFirstThunk, desc.FirstThunk, thunkSize)
		if err != nil {
			return err
		}

		img.Imports = append(img.Imports, Import{
			Name:       dllName,
			Functions:  functions,
			Descriptor: desc,
		})
	}

	img.HasImport = len(img.Imports) > 0
	return nil
}

// parseImportThunks walks the lookup table (or, lacking one, the address
// table before binding) and resolves each thunk to a name-or-ordinal.
func (img *Image) parseImportThunks(iltRVA, iatRVA, thunkSize uint32) ([]ImportFunction, error) {
	lookupRVA := iltRVA
	if lookupRVA == 0 {
		lookupRVA = iatRVA
	}
	if lookupRVA == 0 {
		return nil, ErrDamagedImportTable
	}

	var functions []ImportFunction
	rva := lookupRVA
	index := uint32(0)
	for {
		offset := img.GetOffsetFromRva(rva)

		var addressOfData uint64
		var byOrdinal bool
		var ordinal uint16
		if img.Is64 {
			v, err := img.ReadUint64(offset)
			if err != nil {
				break
			}
			if v == 0 {
				break
			}
			addressOfData = v
			if v&imageOrdinalFlag64 != 0 {
				byOrdinal = true
				ordinal = uint16(v & 0xffff)
			}
		} else {
			v, err := img.ReadUint32(offset)
			if err != nil {
				break
			}
			if v == 0 {
				break
			}
			addressOfData = uint64(v)
			if v&imageOrdinalFlag32 != 0 {
				byOrdinal = true
				ordinal = uint16(v & 0xffff)
			}
		}

		fn := ImportFunction{
			ByOrdinal: byOrdinal,
			Ordinal:   ordinal,
			ThunkRVA:  iatRVA + index*thunkSize,
		}
		if !byOrdinal {
			nameRVA := uint32(addressOfData)
			hintOffset := img.GetOffsetFromRva(nameRVA)
			hint, _ := img.ReadUint16(hintOffset)
			fn.Hint = hint
			fn.Name = img.getStringAtRVA(nameRVA+2, maxImportNameLength)
		}
		functions = append(functions, fn)

		rva += thunkSize
		index++
	}
	return functions, nil
}

// ForwardResolver looks up the Image that backs dllName, for following an
// export forwarder string ("KERNEL32.HeapAlloc") into another module.
type ForwardResolver func(dllName string) (*Image, error)

// ResolveImports fills in the IAT of importing (the receiver) for every
// function it imports from target: for each entry, it looks up the symbol
// in target's export table (following forwarder chains via resolve) and
// writes the resolved virtual address into the IAT slot. The caller
// identifies target by its Name field, not by position, since an image
// may appear more than once across a graph after API-set redirection.
func (importing *Image) ResolveImports(target *Image, resolve ForwardResolver) error {
	return importing.ResolveImportsNamed(target.Name, target, resolve)
}

// ResolveImportsNamed is ResolveImports with the import-descriptor name to
// match given explicitly, rather than taken from target.Name: needed when
// an import descriptor names a virtual api-set/ext-set DLL that an
// api-set redirection has already mapped to a differently-named target.
func (importing *Image) ResolveImportsNamed(importName string, target *Image, resolve ForwardResolver) error {
	for i := range importing.Imports {
		imp := &importing.Imports[i]
		if !strings.EqualFold(imp.Name, importName) {
			continue
		}

		for _, fn := range imp.Functions {
			var (
				addr uint64
				err  error
			)
			if fn.ByOrdinal {
				addr, err = target.FindExportByOrdinal(fn.Ordinal, resolve)
			} else {
				addr, err = target.FindExport(fn.Name, resolve)
			}
			if err != nil {
				return err
			}

			offset := importing.GetOffsetFromRva(fn.ThunkRVA)
			if importing.Is64 {
				binary.LittleEndian.PutUint64(importing.data[offset:], addr)
			} else {
				binary.LittleEndian.PutUint32(importing.data[offset:], uint32(addr))
			}
		}
	}

	return nil
}
