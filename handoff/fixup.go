package handoff

import (
	"github.com/pkg/errors"

	"github.com/maharmstone/quibgo/addrspace"
	"github.com/maharmstone/quibgo/boottype"
)

// PointerField is one physical-address field inside an object the
// pointer-fixup pass must rewrite to a virtual address, per spec.md §4.7
// step 6's list (Flink/Blink list links, embedded pointers like
// Extension/NlsData/ArcDiskInformation, the ARC/load-options strings,
// the hive pointer, the EFI memory-map pointer, configuration-tree
// pointers, debug-device MMIO pointers, the boot-graphics context).
type PointerField struct {
	Name string
	PA   uint64
}

// FixupResult is one field after translation.
type FixupResult struct {
	Name string
	VA   uint64
}

// FixupPointers translates every field in fields from physical to
// virtual using planner's mapping table, failing closed: a physical
// address with no covering mapping is a malformed-state error, never
// silently left as a physical address bleeding into the kernel's view
// of virtual memory.
func FixupPointers(planner *addrspace.Planner, fields []PointerField) ([]FixupResult, error) {
	out := make([]FixupResult, 0, len(fields))
	for _, f := range fields {
		if f.PA == 0 {
			out = append(out, FixupResult{Name: f.Name, VA: 0})
			continue
		}
		va, ok := planner.FindVirtual(f.PA)
		if !ok {
			return nil, boottype.New("fixup_pointers", boottype.Malformed,
				errors.Errorf("%s: physical address %#x has no covering mapping", f.Name, f.PA))
		}
		out = append(out, FixupResult{Name: f.Name, VA: va})
	}
	return out, nil
}
