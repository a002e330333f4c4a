package handoff

import "github.com/maharmstone/quibgo/addrspace"

// kernelStackSize is KERNEL_STACK_SIZE (spec.md §4.6: "KernelStackSize
// equals 8 x page-size").
const kernelStackSize = 8 * addrspace.PageSize

// AllocateKernelStack reserves KERNEL_STACK_SIZE x 2 pages plus
// overcommit pages for the ISR stack and guard page (spec.md §4.7 step
// 1), and returns the midpoint VA: NT reads this field as the top of the
// stack on entry, and later treats it as the bottom once it switches to
// its own stack discipline, so the midpoint is the one value that
// satisfies both readings.
func AllocateKernelStack(planner *addrspace.Planner, overcommitPages uint64) (baseVA, midpointVA uint64) {
	totalPages := 2*(kernelStackSize/addrspace.PageSize) + overcommitPages
	base := planner.Reserve(addrspace.CursorKernel, totalPages)
	mid := base + (totalPages*addrspace.PageSize)/2
	return base, mid
}
