package handoff

// IDTEntry is one interrupt-gate descriptor, copied from the firmware's
// own IDT and optionally overridden for a synthetic handler (spec.md
// §4.7 step 2: "IDT (copied from firmware, optionally with a synthetic
// page-fault handler for debugging)").
type IDTEntry struct {
	Vector   int
	Selector Selector
	HandlerVA uint64
	Present  bool
}

const pageFaultVector = 0x0e

// BuildIDT copies firmwareIDT verbatim, then — if pageFaultHandlerVA is
// non-zero — overwrites vector 0x0e (page fault) to point at it, for
// debug builds that want to trap early page faults instead of triple-
// faulting silently.
func BuildIDT(firmwareIDT []IDTEntry, pageFaultHandlerVA uint64) []IDTEntry {
	idt := make([]IDTEntry, len(firmwareIDT))
	copy(idt, firmwareIDT)
	if pageFaultHandlerVA != 0 {
		for i := range idt {
			if idt[i].Vector == pageFaultVector {
				idt[i].Selector = SelR0Code
				idt[i].HandlerVA = pageFaultHandlerVA
				idt[i].Present = true
				break
			}
		}
	}
	return idt
}
