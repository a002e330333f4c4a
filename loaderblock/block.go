package loaderblock

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/maharmstone/quibgo/boottype"
)

// ImageRef is the subset of an imagegraph.Record the block assembler
// needs: enough to populate one entry of the load-order/boot-driver list
// without loaderblock importing imagegraph (which would create an import
// cycle, since imagegraph never needs to know about loader blocks).
type ImageRef struct {
	Name       string
	ImagePath  string // ARC-relative path the driver's registry entry named
	Order      int
	VA         uint64
	SizeBytes  uint32
	EntryVA    uint64
	NoRelocate bool // KLDR_DATA_TABLE_ENTRY.DontRelocate: metadata only, the image was still relocated to VA
}

// FirmwareInformation mirrors spec.md §4.6's FirmwareInformation fields.
type FirmwareInformation struct {
	FirmwareTypeEfi       bool // always true for this loader
	FirmwareVersion       uint32
	FirmwareResourceCount uint32
	EfiMemoryMapVA        uint64
	EfiMemoryMapSize      uint32
	EfiMemoryMapDescSize  uint32
}

// BootEntropy is the extension's BootEntropyResult, version-gated on
// maxEntropySources (spec.md §4.6: 7 on Win8, 8 on 8.1..pre-1809, 10 on
// 1809+).
type BootEntropy struct {
	MaxSources int
	Sources    []uint64 // raw entropy samples, len <= MaxSources
}

// BuildInput is everything the assembler needs pulled from the rest of
// the pipeline: the image graph's kernel/HAL/driver records, the ARC
// path strings, the mapped api-set blob, and the measured TSC frequency.
type BuildInput struct {
	Version VersionKey

	Kernel      ImageRef
	HAL         ImageRef
	BootDrivers []ImageRef // in final load-order-list order

	ArcBootDevice string
	ArcHalDevice  string
	NtBootPath    string // e.g. "\Windows\System32\"
	NtHalPath     string
	LoadOptions   string

	Firmware              FirmwareInformation
	ApiSetSchemaVA        uint64
	ApiSetSchemaSize      uint32
	ProcessorCounterHz    uint64
	KernelStackVA         uint64 // midpoint VA, per spec.md §4.7 step 1
	KernelStackSize       uint32
	PrcbVA                uint64
	RegistryHiveVA        uint64
	NlsDataVA             uint64
	ArcDiskSignaturesVA   uint64
	ConfigurationRootVA   uint64
	KdDebugDevicePresent  bool
	KdDebugDeviceVA       uint64
	LoaderPerformanceVA   uint64
	FirmwareTimeUnixNanos int64 // time read from firmware, converted below
}

// Block is the assembled, version-resolved result: the fields a
// LOADER_PARAMETER_BLOCK + LOADER_PARAMETER_EXTENSION of the target
// kernel's exact revision would carry. Fields the target kernel doesn't
// read for its version are left at the zero value, matching spec.md
// §4.6's "fields not read by that kernel may be zero" contract.
type Block struct {
	VersionName string
	Caps        Capabilities
	Size        uint32 // on-disk size of the base block for this revision
	ExtensionSize uint32

	Kernel      ImageRef
	HAL         ImageRef
	BootDrivers []ImageRef

	StringRegion StringRegion

	Firmware      FirmwareInformation
	BootEntropy   BootEntropy
	MajorRelease  MajorRelease

	ApiSetSchemaVA   uint64 // 0 unless Caps.Has(HasApiSetSchema)
	ApiSetSchemaSize uint32

	ProcessorCounterFrequency uint64
	KernelStackSize           uint32
	KernelStack               uint64
	PrcbPointer               uint64 // 0 unless Caps.Has(HasPrcbPointer)
	ExtraTSSCount             int    // 3 when Caps.Has(HasExtraTSS), else 0

	RegistryHiveVA      uint64
	NlsDataVA           uint64
	ArcDiskSignaturesVA uint64
	ConfigurationRootVA uint64
	LoaderPerformanceVA uint64

	KdDebugDevicePresent bool
	KdDebugDeviceVA      uint64

	SystemTime NTTime
}

// StringRegion is the four (five, counting load options) NUL-terminated
// ASCII strings spec.md §4.6 requires, in the exact order the real block
// stores them.
type StringRegion struct {
	ArcBootDevice string
	ArcHalDevice  string
	NtBootPath    string
	NtHalPath     string
	LoadOptions   string
}

// Bytes concatenates the string region in on-disk order, each NUL
// terminated, for a caller that needs to lay them out as one blob (the
// handoff executor's loader-store allocator does this).
func (r StringRegion) Bytes() []byte {
	var out []byte
	for _, s := range []string{r.ArcBootDevice, r.ArcHalDevice, r.NtBootPath, r.NtHalPath, r.LoadOptions} {
		out = append(out, s...)
		out = append(out, 0)
	}
	return out
}

// normalizeNtBootPath enforces spec.md §4.6: prefixed with a single `\`
// and guaranteed a trailing `\`.
func normalizeNtBootPath(p string) string {
	p = strings.TrimLeft(p, `\`)
	p = `\` + p
	if !strings.HasSuffix(p, `\`) {
		p += `\`
	}
	return p
}

// Assemble selects the version-table entry for in.Version and populates a Block from
// in, applying every version-gated rule spec.md §4.6 names.
func Assemble(in BuildInput) (*Block, error) {
	entry, ok := lookupVersion(in.Version)
	if !ok {
		return nil, boottype.New("assemble_loader_block", boottype.UnsupportedVersion,
			errors.Errorf("no known layout for major=%d build=%d", in.Version.Major, in.Version.Build))
	}

	b := &Block{
		VersionName:   entry.name,
		Caps:          entry.caps,
		Size:          entry.blockSize,
		ExtensionSize: entry.extensionSize,
		Kernel:        in.Kernel,
		HAL:           in.HAL,
		BootDrivers:   in.BootDrivers,
		StringRegion: StringRegion{
			ArcBootDevice: in.ArcBootDevice,
			ArcHalDevice:  in.ArcHalDevice,
			NtBootPath:    normalizeNtBootPath(in.NtBootPath),
			NtHalPath:     in.NtHalPath,
			LoadOptions:   in.LoadOptions,
		},
		Firmware:                  in.Firmware,
		MajorRelease:              entry.release,
		ProcessorCounterFrequency: in.ProcessorCounterHz,
		KernelStackSize:           in.KernelStackSize,
		KernelStack:               in.KernelStackVA,
		RegistryHiveVA:            in.RegistryHiveVA,
		NlsDataVA:                 in.NlsDataVA,
		ArcDiskSignaturesVA:       in.ArcDiskSignaturesVA,
		ConfigurationRootVA:       in.ConfigurationRootVA,
		LoaderPerformanceVA:       in.LoaderPerformanceVA,
		BootEntropy:               BootEntropy{MaxSources: entry.maxEntropySources},
	}
	b.Firmware.FirmwareTypeEfi = true

	if entry.caps.Has(HasApiSetSchema) {
		b.ApiSetSchemaVA = in.ApiSetSchemaVA
		b.ApiSetSchemaSize = in.ApiSetSchemaSize
	}
	if entry.caps.Has(HasPrcbPointer) {
		b.PrcbPointer = in.PrcbVA
	}
	if entry.caps.Has(HasExtraTSS) {
		b.ExtraTSSCount = 3
	}
	if entry.caps.Has(HasFirmwareResourceList) {
		// FirmwareResourceList is head-initialized regardless of whether
		// any resource descriptors were collected; an empty list is still
		// a valid, correctly-linked doubly-linked list of one sentinel
		// node (the handoff executor's fix-up pass links it).
		b.Firmware.FirmwareResourceCount = in.Firmware.FirmwareResourceCount
	}
	if !entry.caps.Has(HasEfiMemoryMap) {
		b.Firmware.EfiMemoryMapVA = 0
		b.Firmware.EfiMemoryMapSize = 0
		b.Firmware.EfiMemoryMapDescSize = 0
	}

	if in.KdDebugDevicePresent {
		b.KdDebugDevicePresent = true
		b.KdDebugDeviceVA = in.KdDebugDeviceVA
	}

	b.SystemTime = UnixNanosToNTTime(in.FirmwareTimeUnixNanos)

	return b, nil
}
