package handoff

import (
	"github.com/pkg/errors"

	"github.com/maharmstone/quibgo/addrspace"
	"github.com/maharmstone/quibgo/boottype"
)

// CPU abstracts the final handful of raw instructions spec.md §4.7 steps
// 8-9 issue: lgdt/lidt/ltr, the segment-register flush, the EFER.SCE
// bit, the IDE-interrupt re-enable workaround, and the non-returning
// kernel-entry call itself. None of these are expressible as portable
// Go statements (they are CPU instructions, not OS calls), so the
// executor depends on this interface instead of inlining assembly; a
// real build provides it via a small arch-specific assembly stub, the
// same seam original_source/src/boot.cpp's inline-asm helpers (set_gdt2,
// and friends) occupy in the original.
type CPU interface {
	LoadGDT(base uint64, entries []GDTEntry)
	LoadIDT(entries []IDTEntry)
	LoadTR(selector Selector)
	FlushSegments(code, data Selector)
	SetEFERSyscallEnable()
	ReenableIDEInterrupts()
	// JumpToKernel transfers control to entryVA with loaderBlockVA as the
	// first argument and the stack pointer set to stackVA. It never
	// returns; a real implementation performs the mode-appropriate call
	// and halts the processor if somehow control comes back.
	JumpToKernel(entryVA, loaderBlockVA, stackVA uint64)
}

// Plan is everything Execute needs once every earlier pipeline stage has
// run: the assembled GDT/IDT/TSS set, the final page table, the kernel
// entry point, and the stack pointer to enter on.
type Plan struct {
	GDTBase    uint64
	GDT        []GDTEntry
	IDT        []IDTEntry
	MainTSS    TSS
	ExtraTSS   []TSS
	PageTable  []PTE
	SelfMap    SelfMapSlot
	EntryVA    uint64
	LoaderBlockVA uint64
	StackVA    uint64 // TSS.Rsp0 (x64) / top-of-kernel-stack (x86)
	Is64       bool
}

// Validate checks the handful of invariants that must hold before
// Execute ever touches the CPU: a zero entry point or stack pointer
// would not fail until the kernel itself crashes, long after this
// process can report a symbolic error.
func (p Plan) Validate() error {
	if p.EntryVA == 0 {
		return boottype.New("handoff_execute", boottype.Malformed, errors.New("kernel entry VA is zero"))
	}
	if p.LoaderBlockVA == 0 {
		return boottype.New("handoff_execute", boottype.Malformed, errors.New("loader block VA is zero"))
	}
	if p.StackVA == 0 {
		return boottype.New("handoff_execute", boottype.Malformed, errors.New("stack VA is zero"))
	}
	if len(p.GDT) == 0 {
		return boottype.New("handoff_execute", boottype.Malformed, errors.New("empty GDT"))
	}
	return nil
}

// Execute performs spec.md §4.7 steps 8-9: loads GDT/IDT/TR, flushes
// segments, sets EFER.SCE on x64, re-enables IDE interrupts, and jumps
// to the kernel. It never returns on success — JumpToKernel's own
// contract is the same — so the only observable outcome of a call that
// reaches the jump is the process simply stopping; a non-nil error means
// the jump was never attempted.
func Execute(cpu CPU, plan Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	cpu.LoadGDT(plan.GDTBase, plan.GDT)
	cpu.LoadIDT(plan.IDT)
	cpu.LoadTR(plan.MainTSS.Selector)
	cpu.FlushSegments(SelR0Code, SelR0Data)
	if plan.Is64 {
		cpu.SetEFERSyscallEnable()
	}
	cpu.ReenableIDEInterrupts()
	cpu.JumpToKernel(plan.EntryVA, plan.LoaderBlockVA, plan.StackVA)
	return nil
}

// pageSize is a package-local alias of addrspace.PageSize.
const pageSize = addrspace.PageSize
