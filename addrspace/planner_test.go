package addrspace

import "testing"

func TestReserveAdvancesCursor(t *testing.T) {
	p := NewPlanner(ArchX86, nil)
	start := p.NextVA(CursorKernel)
	va := p.Reserve(CursorKernel, 2)
	if va != start {
		t.Fatalf("Reserve returned %#x, want cursor start %#x", va, start)
	}
	if got := p.NextVA(CursorKernel); got != start+2*PageSize {
		t.Fatalf("cursor after Reserve = %#x, want %#x", got, start+2*PageSize)
	}
}

func TestAddMappingRejectsOverlap(t *testing.T) {
	p := NewPlanner(ArchX86, nil)
	if err := p.AddMapping(0x80000000, 0x1000000, 4, MemorySystemCode); err != nil {
		t.Fatalf("first AddMapping: %v", err)
	}
	if err := p.AddMapping(0x80001000, 0x2000000, 4, MemoryHalCode); err == nil {
		t.Fatal("expected overlap error for overlapping virtual range with a different type")
	}
	// Same type, overlapping: real loaders coalesce identical-type runs
	// (e.g. adjacent NLS blobs), so this must not be rejected.
	if err := p.AddMapping(0x80001000, 0x2000000, 4, MemorySystemCode); err != nil {
		t.Fatalf("overlap with same type should be permitted: %v", err)
	}
}

func TestFindVirtualAndFixAddress(t *testing.T) {
	p := NewPlanner(ArchX86, nil)
	if err := p.AddMapping(0xFFFF0000, 0x100000, 1, MemoryBootDriverCode); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	va, ok := p.FindVirtual(0x100123)
	if !ok {
		t.Fatal("FindVirtual: not found")
	}
	if want := uint64(0xFFFF0123); va != want {
		t.Fatalf("FindVirtual = %#x, want %#x", va, want)
	}

	if got := FixAddress(0x100123, 0x100000, 0xFFFF0000); got != want {
		t.Fatalf("FixAddress = %#x, want %#x", got, want)
	}

	if _, ok := p.FindVirtual(0x900000); ok {
		t.Fatal("FindVirtual found an address outside any mapping")
	}
}

func TestAlignImageBase(t *testing.T) {
	p := NewPlanner(ArchX86, nil)
	p.Reserve(CursorImage, 1) // nudge off the 4 MiB boundary
	p.AlignImageBase()
	if va := p.NextVA(CursorImage); va%(4*1024*1024) != 0 {
		t.Fatalf("image cursor %#x not 4 MiB aligned", va)
	}
}
