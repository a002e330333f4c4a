// Package registry reads Windows Registry hive files (SYSTEM, SOFTWARE, ...)
// well enough to answer the handful of questions the boot pipeline needs
// answered: which control set is current, which services are boot-start
// drivers, what order their groups load in, and where their images live.
//
// It is a reader only. Nothing here ever writes a hive back to disk.
package registry

// Cell and bin layout. A hive is a 4 KiB REGF header followed by one or
// more HBINs, each itself a multiple of 4 KiB; every allocation inside an
// HBIN (a "cell") is prefixed with a signed int32 size: negative means
// in-use, positive means free.
const (
	regfSignature = "regf"
	hbinSignature = "hbin"

	headerSize     = 0x1000
	hbinHeaderSize = 0x20
	cellHeaderSize = 4

	regfRootCellOffset = 0x24
	regfMajorVerOffset = 0x14
	regfMinorVerOffset = 0x18

	hbinOffsetField = 0x04
	hbinSizeField   = 0x08
)

// NK (node key) cell layout.
const (
	nkSignature = "nk"

	nkFlagsOffset       = 0x02
	nkParentOffset      = 0x10
	nkSubkeyCountOffset = 0x14
	nkSubkeyListOffset  = 0x1C
	nkValueCountOffset  = 0x24
	nkValueListOffset   = 0x28
	nkNameLenOffset     = 0x48
	nkClassLenOffset    = 0x4A
	nkNameOffset        = 0x4C

	nkFlagCompressedName = 0x20
)

// VK (value key) cell layout.
const (
	vkSignature = "vk"

	vkNameLenOffset = 0x02
	vkDataLenOffset = 0x04
	vkDataOffOffset = 0x08
	vkTypeOffset    = 0x0C
	vkFlagsOffset   = 0x10
	vkNameOffset    = 0x14

	vkFlagNameASCII = 0x0001
	vkDataInlineBit = 0x80000000
	vkDataLenMask   = 0x7FFFFFFF
)

// Subkey and value list cell layout: lf/lh/li share a {signature, count,
// entries[]} header; lf/lh entries carry a 4-byte hash after the cell
// index, li entries (and the flat value list) are bare cell indices.
const (
	lfSignature = "lf"
	lhSignature = "lh"
	liSignature = "li"
	riSignature = "ri"

	idxCountOffset = 0x02
	idxListOffset  = 0x04

	liEntrySize = 4
	lfEntrySize = 8
)

// RegType is the on-disk value-type tag (REG_SZ, REG_DWORD, ...).
type RegType uint32

const (
	RegNone      RegType = 0
	RegSZ        RegType = 1
	RegExpandSZ  RegType = 2
	RegBinary    RegType = 3
	RegDWORD     RegType = 4
	RegDWORDBE   RegType = 5
	RegLink      RegType = 6
	RegMultiSZ   RegType = 7
	RegResList   RegType = 8
	RegQWORD     RegType = 11
)

func (t RegType) String() string {
	switch t {
	case RegNone:
		return "REG_NONE"
	case RegSZ:
		return "REG_SZ"
	case RegExpandSZ:
		return "REG_EXPAND_SZ"
	case RegBinary:
		return "REG_BINARY"
	case RegDWORD:
		return "REG_DWORD"
	case RegDWORDBE:
		return "REG_DWORD_BIG_ENDIAN"
	case RegLink:
		return "REG_LINK"
	case RegMultiSZ:
		return "REG_MULTI_SZ"
	case RegResList:
		return "REG_RESOURCE_LIST"
	case RegQWORD:
		return "REG_QWORD"
	default:
		return "REG_UNKNOWN"
	}
}
