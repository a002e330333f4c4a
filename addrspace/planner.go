// Package addrspace tracks the physical-to-virtual mappings the handoff
// pipeline builds up as it loads images, allocates the loader store, and
// reserves kernel structures, and hands out virtual addresses from the
// kernel's two monotonic cursors. It holds no page-table bits itself;
// handoff consumes the final mapping list to build the real tables.
package addrspace

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/maharmstone/quibgo/boottype"
)

// PageSize is the hardware page size this planner reasons in.
const PageSize = 0x1000

// MemoryType tags a Mapping with the memory-descriptor-list classification
// the kernel expects to see for that range.
type MemoryType int

const (
	MemoryFree MemoryType = iota
	MemoryFreeLow
	MemoryBad
	MemorySystemCode
	MemorySystemBlock
	MemoryHalCode
	MemoryBootDriverCode
	MemoryNlsData
	MemoryRegistryData
	MemoryStartupKernelStack
	MemoryStartupPcrPage
	MemoryFirmwarePermanent
	MemoryFirmwareTemporary
	MemoryOsLoaderHeap
	MemoryOsLoaderStack
)

func (t MemoryType) String() string {
	names := [...]string{
		"Free", "FreeLow", "Bad", "SystemCode", "SystemBlock", "HalCode",
		"BootDriverCode", "NlsData", "RegistryData", "StartupKernelStack",
		"StartupPcrPage", "FirmwarePermanent", "FirmwareTemporary",
		"OsLoaderHeap", "OsLoaderStack",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("MemoryType(%d)", int(t))
}

// Mapping is one (physical, virtual, page-count, type) entry. No two
// mappings in a Planner may overlap in either space.
type Mapping struct {
	PhysicalBase uint64
	VirtualBase  uint64
	PageCount    uint64
	Type         MemoryType
}

func (m Mapping) physEnd() uint64 { return m.PhysicalBase + m.PageCount*PageSize }
func (m Mapping) virtEnd() uint64 { return m.VirtualBase + m.PageCount*PageSize }

func overlaps(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

// Cursor selects which of the two monotonic VA cursors a caller is
// consuming from: the kernel-range cursor (loader store, stacks, PCR,
// NLS data, ...) or the image-base cursor (kernel, HAL, boot drivers).
type Cursor int

const (
	CursorKernel Cursor = iota
	CursorImage
)

// Arch names the two widths this loader ever targets; the planner's
// starting cursor values depend only on this.
type Arch int

const (
	ArchX86 Arch = iota
	ArchX64
)

// Planner owns the ordered mapping list plus the two VA cursors.
type Planner struct {
	Mappings []Mapping

	nextVA map[Cursor]uint64
	arch   Arch
	log    *logrus.Entry
}

// NewPlanner starts a Planner at the well-known cursor bases for arch:
// x86 kernel-range VAs start at 0x80000000 and image VAs at 0x81800000;
// x64 kernel-range VAs start at 0xFFFFF80000000000 and image VAs at
// 0xFFFFF808'00000000.
func NewPlanner(arch Arch, log *logrus.Entry) *Planner {
	p := &Planner{arch: arch, log: log}
	switch arch {
	case ArchX64:
		p.nextVA = map[Cursor]uint64{
			CursorKernel: 0xFFFFF80000000000,
			CursorImage:  0xFFFFF80800000000,
		}
	default:
		p.nextVA = map[Cursor]uint64{
			CursorKernel: 0x80000000,
			CursorImage:  0x81800000,
		}
	}
	return p
}

// NextVA returns the current value of cursor without consuming it.
func (p *Planner) NextVA(cursor Cursor) uint64 {
	return p.nextVA[cursor]
}

// Reserve bumps cursor by pageCount pages, 4 KiB-aligned, and returns the
// virtual base the caller should map pageCount pages at. It does not add
// a Mapping itself; call AddMapping with the returned VA once the
// physical side is known.
func (p *Planner) Reserve(cursor Cursor, pageCount uint64) uint64 {
	va := p.nextVA[cursor]
	p.nextVA[cursor] += pageCount * PageSize
	return va
}

// AlignImageBase rounds cursor up to a 4 MiB boundary, the x86 large-page
// requirement for the kernel and HAL's image bases (spec.md §8).
func (p *Planner) AlignImageBase() {
	const fourMiB = 4 * 1024 * 1024
	va := p.nextVA[CursorImage]
	if rem := va % fourMiB; rem != 0 {
		va += fourMiB - rem
	}
	p.nextVA[CursorImage] = va
}

// AddMapping appends a mapping, failing if its physical or virtual range
// overlaps an existing mapping of a different Type.
func (p *Planner) AddMapping(va, pa, pageCount uint64, typ MemoryType) error {
	m := Mapping{PhysicalBase: pa, VirtualBase: va, PageCount: pageCount, Type: typ}
	for _, existing := range p.Mappings {
		samePhys := overlaps(m.PhysicalBase, m.physEnd(), existing.PhysicalBase, existing.physEnd())
		sameVirt := overlaps(m.VirtualBase, m.virtEnd(), existing.VirtualBase, existing.virtEnd())
		if (samePhys || sameVirt) && existing.Type != typ {
			return boottype.New("add_mapping", boottype.Malformed,
				errors.Errorf("mapping %s(pa=%#x va=%#x) overlaps %s(pa=%#x va=%#x)",
					typ, pa, va, existing.Type, existing.PhysicalBase, existing.VirtualBase))
		}
	}
	p.Mappings = append(p.Mappings, m)
	if p.log != nil {
		p.log.WithFields(logrus.Fields{"op": "add_mapping", "va": fmt.Sprintf("%#x", va), "pa": fmt.Sprintf("%#x", pa), "pages": pageCount, "type": typ.String()}).Debug("mapping added")
	}
	return nil
}

// FindVirtual returns the VA corresponding to a physical address that
// lies within some mapping, used during pointer fix-up.
func (p *Planner) FindVirtual(pa uint64) (uint64, bool) {
	for _, m := range p.Mappings {
		if pa >= m.PhysicalBase && pa < m.physEnd() {
			return m.VirtualBase + (pa - m.PhysicalBase), true
		}
	}
	return 0, false
}

// FixAddress returns the virtual address of a pointer addr that falls
// inside an object of known (objectPA, objectVA) bases: it is the
// object's own virtual base plus the pointer's offset into the object.
func FixAddress(addr, objectPA, objectVA uint64) uint64 {
	return objectVA + (addr - objectPA)
}
