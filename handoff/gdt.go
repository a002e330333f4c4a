package handoff

// Selector is a GDT/LDT selector value: a byte offset into the GDT, per
// the KGDT_* constants original_source/src/boot.cpp's create_gdt builds
// (selectors are offsets, not indices, on this architecture).
type Selector uint16

const (
	SelNull    Selector = 0x00
	SelR0Code  Selector = 0x08
	SelR0Data  Selector = 0x10
	SelR3Code  Selector = 0x18
	SelR3Data  Selector = 0x20
	SelTSS     Selector = 0x28
	SelR0PCR   Selector = 0x30
	SelR3TEB   Selector = 0x38
	SelVDM     Selector = 0x40
	SelLDT     Selector = 0x48
	SelDFTSS   Selector = 0x50
	SelNMITSS  Selector = 0x58
	SelMCTSS   Selector = 0x60
	SelR0LDTx64 Selector = 0x68 // x64-only extra entry
	SelR3CMTEB  Selector = 0x70 // x64-only: 32-bit-compat R3 TEB
)

// SegmentType is the descriptor type byte's low nibble.
type SegmentType int

const (
	TypeData SegmentType = iota
	TypeCode
	TypeTSS32Available
)

// GDTEntry is one 8-byte (or, for a 64-bit TSS, 16-byte) descriptor.
type GDTEntry struct {
	Selector  Selector
	Base      uint64
	Limit     uint32
	Type      SegmentType
	DPL       int // 0 or 3
	Granular  bool // limit is in 4 KiB units, not bytes
	Bits      int  // 0 = 16-bit, 2 = 32-bit, (64-bit TSS uses Bits=2 plus a second slot)
	Present   bool
}

// BuildGDT assembles the selector table spec.md §4.7 step 2 names: null,
// R0 code/data, R3 code/data, TSS, PCR, R3 TEB, VDM, LDT, then
// DF/NMI/MC TSS entries when caps.ExtraTSS, then (x64 only) R0 LDT and R3
// compat TEB.
func BuildGDT(caps LayoutCaps, tssBase, pcrBase uint64) []GDTEntry {
	entries := []GDTEntry{
		{Selector: SelNull},
		{Selector: SelR0Code, Limit: 0xffffffff, Type: TypeCode, Bits: 2, Present: true},
		{Selector: SelR0Data, Limit: 0xffffffff, Type: TypeData, Bits: 2, Present: true},
		{Selector: SelR3Code, Limit: 0xffffffff, Type: TypeCode, DPL: 3, Bits: 2, Present: true},
		{Selector: SelR3Data, Limit: 0xffffffff, Type: TypeData, DPL: 3, Bits: 2, Present: true},
		{Selector: SelTSS, Base: tssBase, Limit: 0x67, Type: TypeTSS32Available, Present: true},
		{Selector: SelR0PCR, Base: pcrBase, Limit: 0xfff, Type: TypeData, Bits: 2, Present: true},
		{Selector: SelR3TEB, Limit: 0xfff, Type: TypeData, DPL: 3, Bits: 2, Present: true},
		{Selector: SelVDM, Base: 0x400, Limit: 0xffff, Type: TypeData, DPL: 3, Present: true},
		{Selector: SelLDT},
	}
	if caps.ExtraTSS {
		entries = append(entries,
			GDTEntry{Selector: SelDFTSS, Limit: 0x67, Type: TypeTSS32Available, Present: true},
			GDTEntry{Selector: SelNMITSS, Limit: 0x67, Type: TypeTSS32Available, Present: true},
			GDTEntry{Selector: SelMCTSS, Limit: 0x67, Type: TypeTSS32Available, Present: true},
		)
	}
	if caps.Is64 {
		entries = append(entries,
			GDTEntry{Selector: SelR0LDTx64, Limit: 0xffffffff, Type: TypeCode, Bits: 2, Granular: true},
			GDTEntry{Selector: SelR3CMTEB, Limit: 0xfff, Type: TypeData, DPL: 3, Bits: 2, Present: true},
		)
	}
	return entries
}
