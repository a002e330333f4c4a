package handoff

import "github.com/maharmstone/quibgo/addrspace"

// kip0PcrAddress is KIP0PCRADDRESS, the fixed x86 VA pre-1703 kernels
// expect the boot processor's PCR mapped at (spec.md §4.7 step 3).
const kip0PcrAddress = 0xffdff000

// AllocatePCR returns the VA of the one-page Processor Control Region.
// Pre-1703 x86 kernels require it at the fixed KIP0PCRADDRESS, which is
// returned without touching the cursor; otherwise one page is reserved
// from the kernel cursor. No mapping is added here. 1703+ kernels also
// read the block's PRCB pointer field, which the caller sets from
// PRCBAddress.
func AllocatePCR(planner *addrspace.Planner, isX86 bool, pre1703 bool) (va uint64) {
	if isX86 && pre1703 {
		return kip0PcrAddress
	}
	return planner.Reserve(addrspace.CursorKernel, 1)
}

// prcbOffsetInPCR is the PRCB sub-structure's fixed offset inside the PCR
// page across every version that has a PRCB pointer field; the block's
// PrcbPointer value is always pcrVA + this offset.
const prcbOffsetInPCR = 0x20

// PRCBAddress derives the PRCB pointer from the PCR's base VA.
func PRCBAddress(pcrVA uint64) uint64 { return pcrVA + prcbOffsetInPCR }
