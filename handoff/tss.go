package handoff

// TSS is the subset of KTSS/KTSS64 this loader ever writes: the ring-0
// stack pointer(s) and, on x64, the IST stack for the three extra TSS
// selectors (NMI, double fault, machine check).
type TSS struct {
	Selector Selector
	Esp0     uint32 // x86 ring-0 stack pointer
	Rsp0     uint64 // x64 ring-0 stack pointer
	SS0      Selector
}

// LayoutCaps is the small capability set the handoff assembler needs,
// independent of loaderblock.Capabilities (which is keyed to kernel
// version, not architecture): whether the target is 64-bit, and whether
// the three extra NMI/double-fault/machine-check TSSes are required
// (x86 Win10 1803+ only, per spec.md §4.7 step 2).
type LayoutCaps struct {
	Is64     bool
	ExtraTSS bool
}

// BuildTSSes allocates the main TSS plus, when caps.ExtraTSS, the three
// extra fixed-stack TSSes the synthetic NMI/#DF/#MC handlers run on.
// stackVA is the top of the kernel stack the main TSS's ring-0 stack
// pointer is set to; extraStackVAs supplies one stack top per extra TSS,
// required only when caps.ExtraTSS is set.
func BuildTSSes(caps LayoutCaps, stackVA uint64, extraStackVAs [3]uint64) (main TSS, extra []TSS) {
	main = TSS{Selector: SelTSS, SS0: SelR0Data}
	if caps.Is64 {
		main.Rsp0 = stackVA
	} else {
		main.Esp0 = uint32(stackVA)
	}

	if !caps.ExtraTSS {
		return main, nil
	}
	selectors := [3]Selector{SelDFTSS, SelNMITSS, SelMCTSS}
	extra = make([]TSS, 3)
	for i := range extra {
		extra[i] = TSS{Selector: selectors[i], SS0: SelR0Data}
		if caps.Is64 {
			extra[i].Rsp0 = extraStackVAs[i]
		} else {
			extra[i].Esp0 = uint32(extraStackVAs[i])
		}
	}
	return main, extra
}
