package handoff

import (
	"github.com/maharmstone/quibgo/addrspace"
)

// PTEFlags mirrors the hardware page-table-entry permission bits this
// loader ever sets, derived from a section's IMAGE_SCN_MEM_{WRITE,
// EXECUTE} characteristics (spec.md §4.7 step 7).
type PTEFlags int

const (
	PTEPresent PTEFlags = 1 << iota
	PTEWritable
	PTEExecutable
	PTEUser
)

// PTE is one leaf page-table entry: a physical frame plus permission
// bits, at a given virtual address. This module represents the
// constructed table as a flat, sorted slice of leaf entries rather than
// a literal multi-level tree of byte arrays — a systems loader threads
// the same entries through PML4/PDPT/PD/PT (or a PAE three/four-level
// tree on x86); a purely additive table of leaves captures the same
// contract (one entry per mapped page, permissions derived from the
// section it backs) without hand-walking intermediate table levels that
// add no information the mapping list didn't already have.
type PTE struct {
	VA    uint64
	PA    uint64
	Flags PTEFlags
}

// Mode is the paging mode the page-table builder targets.
type Mode int

const (
	ModeX64 Mode = iota
	ModePAE
	ModeLegacy32
)

// SelectMode picks PAE whenever the caller reports CPU PAE support; it
// takes no NX-policy input, so a kernel flag forcing NX off does not
// change the choice. x64 always uses the x64 four-level format since long
// mode paging is already active by the time this loader runs.
func SelectMode(is64 bool, cpuSupportsPAE bool) Mode {
	if is64 {
		return ModeX64
	}
	if cpuSupportsPAE {
		return ModePAE
	}
	return ModeLegacy32
}

// BuildPageTable derives one PTE per mapping in planner's table, with
// permission bits from sectionFlags (keyed by VA range start — the
// handoff executor looks up the owning section per mapping before
// calling this). Mappings with no permission override default to
// present+writable (the kernel-structure case: loader store, stacks,
// PCR, NLS data, all RW, never executable).
func BuildPageTable(planner *addrspace.Planner, sectionFlags map[uint64]PTEFlags) []PTE {
	var ptes []PTE
	for _, m := range planner.Mappings {
		flags, ok := sectionFlags[m.VirtualBase]
		if !ok {
			flags = PTEPresent | PTEWritable
		}
		for page := uint64(0); page < m.PageCount; page++ {
			ptes = append(ptes, PTE{
				VA:    m.VirtualBase + page*addrspace.PageSize,
				PA:    m.PhysicalBase + page*addrspace.PageSize,
				Flags: flags | PTEPresent,
			})
		}
	}
	return ptes
}

// SelfMapSlot is the PML4/PDPT self-reference entry so the running
// kernel can edit its own page tables through well-known VAs (spec.md
// §4.7 step 7's "self-map entry"; spec.md §9's Design Notes call for this
// to be the single owner of page-table materialization, never exposing
// raw PTE pointers elsewhere).
type SelfMapSlot struct {
	SlotVA   uint64
	RootPA   uint64
}

// BuildSelfMap returns the self-map slot at selfMapVA pointing back at
// the table's own root physical page.
func BuildSelfMap(selfMapVA, rootPA uint64) SelfMapSlot {
	return SelfMapSlot{SlotVA: selfMapVA, RootPA: rootPA}
}
