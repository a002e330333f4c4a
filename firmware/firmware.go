// Package firmware abstracts the small slice of EFI boot-services and
// runtime-services the handoff pipeline actually calls, per spec.md §6:
// page allocation, the real-time clock, a firmware stall primitive (used
// to measure the TSC frequency), volume access, and ARC-name resolution.
// Nothing in this module talks to real EFI protocols directly; every
// caller holds a Services value instead, so tests run against
// firmware/fake without a hypervisor or real UEFI environment.
package firmware

import "time"

// MemoryType tags an AllocatePages request the way EFI's own
// EFI_MEMORY_TYPE enum does; the handoff pipeline only ever asks for a
// handful of these.
type MemoryType int

const (
	MemoryTypeLoaderData MemoryType = iota
	MemoryTypeLoaderCode
	MemoryTypeBootServicesData
	MemoryTypeRuntimeServicesData
)

// Volume is an open simple-file-system volume: the boot partition the
// pipeline reads every image, hive, and NLS file from.
type Volume interface {
	ReadFile(dir, name string) ([]byte, error)
	// GetArcName returns the ARC path string this volume's own loader-info
	// protocol would report (spec.md §6's "GetArcName" volume call),
	// e.g. "multi(0)disk(0)rdisk(0)partition(1)" or "btrfs(<uuid>)".
	GetArcName() (string, error)
}

// Services is the firmware surface the handoff pipeline depends on.
type Services interface {
	// AllocatePages reserves pageCount contiguous physical pages tagged
	// typ, returning the physical base address.
	AllocatePages(pageCount uint64, typ MemoryType) (uint64, error)
	// GetTime reads the firmware real-time clock.
	GetTime() (time.Time, error)
	// Stall busy-waits for at least d, for TSC-frequency measurement
	// (spec.md §4.6's "reading TSC around a 50 ms firmware stall").
	Stall(d time.Duration) error
	// OpenVolume opens the boot volume's simple file system.
	OpenVolume() (Volume, error)
	// ReadTSC samples the CPU time-stamp counter; Stall brackets two
	// calls to derive ProcessorCounterFrequency.
	ReadTSC() uint64
}
