// Package loaderblock assembles the NT LOADER_PARAMETER_BLOCK and its
// LOADER_PARAMETER_EXTENSION for the exact (major, build) pair the target
// kernel reports, per spec.md §4.6. Rather than one hand-written Go
// struct per historical revision, a single Block value is built from a
// small capability set selected by a version table — the refactor spec.md
// §9's Design Notes calls for directly.
package loaderblock

// VersionKey identifies a kernel release by the fields its own image
// header and registry CurrentVersion report. Revision is the UBR
// (Update Build Revision): almost always irrelevant to layout selection,
// but spec.md §8 scenario 5 requires distinguishing sub-revisions of the
// same (Major, Build) pair — Win8.1's 9600 build shrank its extension's
// tail (fencing off fields added post-RTM) below revision 18438. Leave
// it zero for any build the version table doesn't gate on revision.
type VersionKey struct {
	Major    uint32
	Build    uint32
	Revision uint32
}

// Capability is one field/list/behavior whose presence depends on the
// target kernel's version. Assemble consults these instead of probing
// fields at runtime.
type Capability int

const (
	// HasHeadLists means the block embeds the four Win8+ head-initialized
	// lists: load-order, memory-descriptor, boot-driver, early-launch.
	HasHeadLists Capability = iota
	// HasCoreExtension means the block additionally carries the Win10+
	// core-driver-extension and TPM lists.
	HasCoreExtension
	// HasApiSetSchema means Extension.ApiSetSchema/ApiSetSchemaSize are
	// populated from the mapped .apiset blob (8.1+; Win8 loads the schema
	// as a full image instead and has no such field).
	HasApiSetSchema
	// HasEfiMemoryMap means Extension.EfiMemoryMap/*Size/*DescriptorSize
	// are populated (8.1+).
	HasEfiMemoryMap
	// HasFirmwareResourceList means FirmwareInformation.FirmwareResourceList
	// is head-initialized (Vista+).
	HasFirmwareResourceList
	// HasPrcbPointer means the block's PRCB pointer field is set from the
	// PCR's internal PRCB sub-structure (1703+; earlier kernels derive it
	// themselves from the PCR).
	HasPrcbPointer
	// HasExtraTSS means the block records three extra TSSes for NMI,
	// double-fault, and machine-check (Win10 1803+). The version table has
	// no architecture input, so Assemble sets ExtraTSSCount from this
	// capability for x64 targets as well as x86.
	HasExtraTSS
)

// Capabilities is a set of Capability values, queried with Has.
type Capabilities map[Capability]bool

// Has reports whether cap is present in the set.
func (c Capabilities) Has(cap Capability) bool { return c[cap] }

// MajorRelease is the closed set of marketing tokens the extension's
// MajorRelease field takes, per spec.md §4.6.
type MajorRelease int

const (
	ReleaseNone MajorRelease = iota
	ReleaseRS1
	ReleaseRS2
	ReleaseRS3
	ReleaseRS4
	ReleaseRS5
	Release19H1
	Release20H1
)

func (r MajorRelease) String() string {
	switch r {
	case ReleaseRS1:
		return "RS1"
	case ReleaseRS2:
		return "RS2"
	case ReleaseRS3:
		return "RS3"
	case ReleaseRS4:
		return "RS4"
	case ReleaseRS5:
		return "RS5"
	case Release19H1:
		return "19H1"
	case Release20H1:
		return "20H1"
	default:
		return "None"
	}
}

// versionEntry is one row of the version table: the (major, build,
// revision) floor a kernel must meet or exceed to get this entry's
// traits. minRevision only discriminates entries that otherwise share
// the same (minMajor, minBuild) — every other build leaves it 0, which
// always matches regardless of the target's Revision.
type versionEntry struct {
	name               string
	minMajor, minBuild uint32
	minRevision        uint32
	caps               Capabilities
	release            MajorRelease
	maxEntropySources  int
	blockSize          uint32
	extensionSize      uint32
}

// versionTable is ordered newest-first; lookupVersion returns the first
// entry the target (major, build) qualifies for.
var versionTable = []versionEntry{
	{
		name: "20H1", minMajor: 10, minBuild: 19041,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true, HasExtraTSS: true},
		release: Release20H1, maxEntropySources: 10, blockSize: 0x290, extensionSize: 0x580,
	},
	{
		name: "19H1", minMajor: 10, minBuild: 18362,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true, HasExtraTSS: true},
		release: Release19H1, maxEntropySources: 10, blockSize: 0x290, extensionSize: 0x568,
	},
	{
		name: "RS5 (1809)", minMajor: 10, minBuild: 17763,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true, HasExtraTSS: true},
		release: ReleaseRS5, maxEntropySources: 10, blockSize: 0x288, extensionSize: 0x550,
	},
	{
		name: "RS4 (1803)", minMajor: 10, minBuild: 17134,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true, HasExtraTSS: true},
		release: ReleaseRS4, maxEntropySources: 8, blockSize: 0x288, extensionSize: 0x530,
	},
	{
		name: "RS3 (1709)", minMajor: 10, minBuild: 16299,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true},
		release: ReleaseRS3, maxEntropySources: 8, blockSize: 0x288, extensionSize: 0x510,
	},
	{
		name: "RS2 (1703)", minMajor: 10, minBuild: 15063,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true, HasPrcbPointer: true},
		release: ReleaseRS2, maxEntropySources: 8, blockSize: 0x288, extensionSize: 0x4f0,
	},
	{
		name: "RS1 (1607)", minMajor: 10, minBuild: 14393,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true},
		release: ReleaseRS1, maxEntropySources: 8, blockSize: 0x288, extensionSize: 0x4b0,
	},
	{
		name: "10240 (1507)", minMajor: 10, minBuild: 10240,
		caps: Capabilities{HasHeadLists: true, HasCoreExtension: true, HasApiSetSchema: true,
			HasEfiMemoryMap: true, HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 8, blockSize: 0x288, extensionSize: 0x478,
	},
	{
		// spec.md §8 scenario 5: revision >= 18438 reports the extension's
		// full on-disk size.
		name: "8.1 (rev >= 18438)", minMajor: 6, minBuild: 9600, minRevision: 18438,
		caps: Capabilities{HasHeadLists: true, HasApiSetSchema: true, HasEfiMemoryMap: true, HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 8, blockSize: 0x250, extensionSize: 0x3f0,
	},
	{
		// Pre-18438 revisions of the same build fence the tail off at
		// offsetof(padding6): a smaller Size than the entry above even
		// though every other field layout is identical.
		name: "8.1", minMajor: 6, minBuild: 9600, minRevision: 0,
		caps: Capabilities{HasHeadLists: true, HasApiSetSchema: true, HasEfiMemoryMap: true, HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 8, blockSize: 0x250, extensionSize: 0x3e0,
	},
	{
		name: "8", minMajor: 6, minBuild: 9200,
		caps: Capabilities{HasHeadLists: true, HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 7, blockSize: 0x248, extensionSize: 0x3a0,
	},
	{
		name: "7", minMajor: 6, minBuild: 7600,
		caps: Capabilities{HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 0, blockSize: 0x1f8, extensionSize: 0x2d0,
	},
	{
		name: "Vista SP2", minMajor: 6, minBuild: 6002,
		caps: Capabilities{HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 0, blockSize: 0x1f0, extensionSize: 0x280,
	},
	{
		name: "Vista", minMajor: 6, minBuild: 6000,
		caps: Capabilities{HasFirmwareResourceList: true},
		release: ReleaseNone, maxEntropySources: 0, blockSize: 0x1e8, extensionSize: 0x260,
	},
	{
		name: "WS03", minMajor: 5, minBuild: 3790,
		caps: Capabilities{},
		release: ReleaseNone, maxEntropySources: 0, blockSize: 0x1a0, extensionSize: 0x200,
	},
}

// lookupVersion returns the newest entry the target kernel's (major,
// build, revision) qualifies for: among entries with key's own major
// version, the highest-(minBuild, minRevision) entry not exceeding key. A
// key whose major version has no qualifying entry is rejected rather than
// matched to another major's row. Within a tied (major, build) pair, the entry with the highest
// minRevision not exceeding key.Revision wins, so a caller that leaves
// Revision at 0 always gets that pair's baseline (lowest-minRevision)
// entry.
func lookupVersion(key VersionKey) (versionEntry, bool) {
	var best *versionEntry
	for i := range versionTable {
		e := &versionTable[i]
		if e.minMajor > key.Major {
			continue
		}
		if e.minMajor == key.Major && e.minBuild > key.Build {
			continue
		}
		if e.minMajor == key.Major && e.minBuild == key.Build && e.minRevision > key.Revision {
			continue
		}
		if best == nil || betterMatch(*e, *best, key) {
			best = e
		}
	}
	if best == nil || best.minMajor != key.Major {
		return versionEntry{}, false
	}
	return *best, true
}

func betterMatch(candidate, current versionEntry, key VersionKey) bool {
	candSameMajor := candidate.minMajor == key.Major
	curSameMajor := current.minMajor == key.Major
	if candSameMajor != curSameMajor {
		return candSameMajor
	}
	if candidate.minMajor != current.minMajor {
		return candidate.minMajor > current.minMajor
	}
	if candidate.minBuild != current.minBuild {
		return candidate.minBuild > current.minBuild
	}
	return candidate.minRevision > current.minRevision
}
