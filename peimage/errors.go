// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "github.com/pkg/errors"

// Sentinel errors returned by Load and the parse helpers it calls. They are
// deliberately coarse: the loader only ever needs to distinguish "not a PE
// at all" from "unsupported" from "truncated/corrupt", never the full
// malware-analysis taxonomy the format can in principle carry.
var (
	ErrDOSMagicNotFound         = errors.New("dos header magic not found")
	ErrInvalidElfanewValue      = errors.New("invalid e_lfanew value")
	ErrInvalidNtHeaderOffset    = errors.New("invalid NT header offset")
	ErrImageNtSignatureNotFound = errors.New("PE00 signature not found")
	ErrUnsupportedMachine       = errors.New("machine type is not i386 or amd64")
	ErrOptionalHeaderMagic      = errors.New("optional header magic is neither PE32 nor PE32+")
	ErrImageBaseNotAligned      = errors.New("image base is not aligned to 64K")
	ErrDamagedImportTable       = errors.New("import table is truncated or malformed")
	ErrDamagedExportTable       = errors.New("export table is truncated or malformed")
	ErrInvalidBaseRelocVA       = errors.New("base relocation virtual address lies outside the image")
	ErrInvalidRelocBlockSize    = errors.New("base relocation block size exceeds the image")
	ErrExportNotFound           = errors.New("ordinal or name not present in the export table")
	ErrForwarderLoop            = errors.New("forwarder chain did not resolve within the hop limit")
	ErrSectionNotFound          = errors.New("no section covers the requested address")
	ErrOutOfBounds              = errors.New("read would cross the end of the mapped image")
	ErrNotRelocatable           = errors.New("image has no base relocation directory and cannot be rebased")
)
