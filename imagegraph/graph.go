// Package imagegraph discovers, loads, and links the full set of images
// (kernel, HAL, boot-start drivers, and their transitive import closure)
// that must be resident before handoff. It ties together peimage (PE
// parsing/relocation), registry (driver enumeration), apiset (virtual DLL
// redirection), and addrspace (VA allocation).
package imagegraph

import (
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/maharmstone/quibgo/addrspace"
	"github.com/maharmstone/quibgo/apiset"
	"github.com/maharmstone/quibgo/boottype"
	"github.com/maharmstone/quibgo/peimage"
)

// FileOpener abstracts the firmware file-read operation a Record's loader
// calls to resolve a DLL by directory-search order (system32, then
// system32\drivers).
type FileOpener interface {
	ReadFile(dir, name string) ([]byte, error)
}

// State is a Record's position in the per-image state machine (spec.md
// §4.8): transitions are monotonic, and a failed one aborts the boot.
type State int

const (
	StateRegistered State = iota
	StateLoaded
	StateRelocated
	StateImportsResolved
	StateMovedContiguous
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "Registered"
	case StateLoaded:
		return "Loaded"
	case StateRelocated:
		return "Relocated"
	case StateImportsResolved:
		return "ImportsResolved"
	case StateMovedContiguous:
		return "MovedContiguous"
	default:
		return "Unknown"
	}
}

// Record is one entry in the image graph: a named DLL/EXE, its load
// order weight, and (once loaded) its parsed image.
//
// NoRelocate does not mean this image is left at its preferred base: every
// image is always loaded and relocated to its reserved VA (loadOne never
// skips Relocate). It is purely the KLDR_DATA_TABLE_ENTRY.DontRelocate bit
// the kernel's own runtime loader later reads, propagated here from the
// kernel/HAL seeds through their whole import closure; it only surfaces
// downstream as a flag on the eventual loader-block image-list entry.
type Record struct {
	Name       string
	Directory  string
	Order      int
	NoRelocate bool
	State      State
	Image      *peimage.Image
	VA         uint64
	PA         uint64 // set by PackContiguous
}

// Graph is the full set of discovered/loaded images plus the resolver
// state (planner, apiset, file opener) needed to keep growing it.
type Graph struct {
	Records   []*Record
	byName    map[string]*Record
	redirects map[string]string // api-set/ext-set virtual name -> resolved real DLL name
	planner   *addrspace.Planner
	resolver  *apiset.Resolver
	opener    FileOpener
	log       *logrus.Entry
}

// New returns an empty Graph; callers register the kernel and HAL with
// AddSeed, which appends each seed with order 0 and NoRelocate set, so the
// kernel's own runtime loader later treats them as its two permanently
// resident, never-rebased-again entries. Both are still loaded and
// relocated to their reserved VA by this loader like any other image.
func New(planner *addrspace.Planner, resolver *apiset.Resolver, opener FileOpener, log *logrus.Entry) *Graph {
	return &Graph{
		byName:    make(map[string]*Record),
		redirects: make(map[string]string),
		planner:   planner,
		resolver:  resolver,
		opener:    opener,
		log:       log,
	}
}

// AddSeed registers kernel.exe/hal.dll (or an override) as an unloaded
// root of the graph.
func (g *Graph) AddSeed(name, directory string) *Record {
	r := &Record{Name: name, Directory: directory, Order: 0, NoRelocate: true, State: StateRegistered}
	g.Records = append(g.Records, r)
	g.byName[strings.ToLower(name)] = r
	return r
}

// lookup finds an already-registered record by name, case-insensitively.
func (g *Graph) lookup(name string) (*Record, bool) {
	r, ok := g.byName[strings.ToLower(name)]
	return r, ok
}

// LoadAll drives every registered-but-not-yet-loaded record through
// Load/Relocate/import-discovery until the graph stops growing, per
// spec.md §4.5 steps 1–2. It does not resolve imports or pack images
// contiguously; call ResolveImports and PackContiguous afterward.
func (g *Graph) LoadAll() error {
	for i := 0; i < len(g.Records); i++ { // re-reads len(): records may grow mid-loop
		r := g.Records[i]
		if r.State != StateRegistered {
			continue
		}
		if err := g.loadOne(r); err != nil {
			return err
		}
		if err := g.discoverImports(r); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) loadOne(r *Record) error {
	data, err := g.opener.ReadFile(r.Directory, r.Name)
	if err != nil && strings.EqualFold(r.Directory, "system32") {
		// system32\drivers is the fallback search directory.
		if d, derr := g.opener.ReadFile(`system32\drivers`, r.Name); derr == nil {
			data, err = d, nil
			r.Directory = `system32\drivers`
		}
	}
	if err != nil {
		return boottype.New("load_image", boottype.NotFound, errors.Wrap(err, r.Name))
	}

	img, err := peimage.LoadBytes(r.Name, data, 0, nil)
	if err != nil {
		return boottype.New("load_image", boottype.Malformed, errors.Wrap(err, r.Name))
	}
	r.Image = img
	r.State = StateLoaded

	va := g.planner.Reserve(addrspace.CursorImage, pageCount(img.GetSize()))
	r.VA = va

	// Every image is relocated to its reserved VA, including the kernel
	// and HAL: r.NoRelocate is downstream loader-block metadata only (see
	// the Record doc comment), never a reason to skip this.
	if err := img.Relocate(va); err != nil && err != peimage.ErrNotRelocatable {
		return boottype.New("relocate_image", boottype.Malformed, errors.Wrap(err, r.Name))
	}
	r.State = StateRelocated

	if g.log != nil {
		g.log.WithFields(logrus.Fields{"op": "load_image", "name": r.Name, "va": va, "order": r.Order}).Debug("image loaded")
	}
	return nil
}

func pageCount(size uint32) uint64 {
	const pageSize = 0x1000
	return (uint64(size) + pageSize - 1) / pageSize
}

// discoverImports implements spec.md §4.5 step 1: for every DLL this
// image imports, redirect api-set/ext-set names, skip names already in
// the graph, and append new records one order below their parent
// (clamped at 0), inheriting NoRelocate from kernel/HAL parents.
func (g *Graph) discoverImports(r *Record) error {
	for _, name := range r.Image.ListImports() {
		resolved := name
		if isVirtualDLL(name) && g.resolver != nil {
			if real, ok := g.resolver.Lookup(name); ok {
				resolved = real
				g.redirects[strings.ToLower(name)] = real
			}
		}

		if _, exists := g.lookup(resolved); exists {
			continue
		}

		order := r.Order - 1
		if order < 0 {
			order = 0
		}

		child := &Record{
			Name:       resolved,
			Directory:  "system32",
			Order:      order,
			NoRelocate: r.NoRelocate && r.Order == 0, // only the kernel/HAL seeds propagate this
			State:      StateRegistered,
		}
		g.Records = append(g.Records, child)
		g.byName[strings.ToLower(resolved)] = child
	}
	return nil
}

func isVirtualDLL(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "api-") || strings.HasPrefix(lower, "ext-")
}

// ResolveImports implements spec.md §4.5 step 5: walks every loaded
// image's import table and patches its IAT entries against the graph's
// own in-memory exports, following forwarder chains across images.
func (g *Graph) ResolveImports() error {
	resolve := func(dll string) (*peimage.Image, error) {
		if real, ok := g.redirects[strings.ToLower(dll)]; ok {
			dll = real
		}
		r, ok := g.lookup(dll)
		if !ok || r.Image == nil {
			return nil, boottype.New("resolve_imports", boottype.NotFound, errors.New(dll))
		}
		return r.Image, nil
	}

	for _, r := range g.Records {
		if r.Image == nil {
			continue
		}
		for _, dll := range r.Image.ListImports() {
			target, err := resolve(dll)
			if err != nil {
				return boottype.New("resolve_imports", boottype.NotFound, errors.Wrap(err, r.Name+" -> "+dll))
			}
			if err := r.Image.ResolveImportsNamed(dll, target, resolve); err != nil {
				return boottype.New("resolve_imports", boottype.Malformed, errors.Wrap(err, r.Name+" -> "+dll))
			}
		}
		r.State = StateImportsResolved
	}
	return nil
}

// Sort re-orders Records per spec.md §4.5 step 3: kernel first, HAL
// second, then by descending Order. This is a deliberately weak,
// non-topological sort — see DESIGN.md's Open Question entry for why it
// is preserved exactly as specified rather than "fixed" into a real
// topological sort.
func (g *Graph) Sort(kernelName, halName string) {
	kernelIdx, halIdx := -1, -1
	for i, r := range g.Records {
		if strings.EqualFold(r.Name, kernelName) {
			kernelIdx = i
		} else if strings.EqualFold(r.Name, halName) {
			halIdx = i
		}
	}

	rest := make([]*Record, 0, len(g.Records))
	for i, r := range g.Records {
		if i != kernelIdx && i != halIdx {
			rest = append(rest, r)
		}
	}
	// stable sort by descending Order: lower orders sort last.
	for i := 1; i < len(rest); i++ {
		for j := i; j > 0 && rest[j].Order > rest[j-1].Order; j-- {
			rest[j], rest[j-1] = rest[j-1], rest[j]
		}
	}

	sorted := make([]*Record, 0, len(g.Records))
	if kernelIdx >= 0 {
		sorted = append(sorted, g.Records[kernelIdx])
	}
	if halIdx >= 0 {
		sorted = append(sorted, g.Records[halIdx])
	}
	sorted = append(sorted, rest...)
	g.Records = sorted
}

// PackContiguous implements spec.md §4.5 step 4: copies every loaded
// image's backing pages into one contiguous *physical* region, back to
// back in Records order. It never touches virtual addresses: each image
// keeps the VA LoadAll reserved and already relocated its fixups against,
// so IAT entries ResolveImports wrote against those same VAs (spec.md
// step 5 runs before this one) stay valid. Only the storage backing each
// image's bytes moves, via peimage.Image.MoveAddress.
func (g *Graph) PackContiguous() error {
	var total uint64
	for _, r := range g.Records {
		if r.Image == nil {
			continue
		}
		total += pageCount(r.Image.GetSize()) * addrspace.PageSize
	}
	packed := make([]byte, total)

	var pa uint64
	for i, r := range g.Records {
		if r.Image == nil {
			continue
		}
		size := pageCount(r.Image.GetSize()) * addrspace.PageSize
		if err := r.Image.MoveAddress(packed[pa : pa+size]); err != nil {
			return boottype.New("pack_contiguous", boottype.Malformed, errors.Wrap(err, r.Name))
		}
		r.PA = pa

		typ := addrspace.MemorySystemCode
		if i == 1 { // Sort places HAL at index 1
			typ = addrspace.MemoryHalCode
		}
		if err := g.planner.AddMapping(r.VA, pa, size/addrspace.PageSize, typ); err != nil {
			return boottype.New("pack_contiguous", boottype.Malformed, errors.Wrap(err, r.Name))
		}

		pa += size
		r.State = StateMovedContiguous
	}
	return nil
}

// ResolveDirectory returns the first directory to search for an image:
// system32\drivers for .sys images or names the caller flags as a driver,
// otherwise system32.
func ResolveDirectory(name string, isDriver bool) string {
	if isDriver || strings.EqualFold(path.Ext(name), ".sys") {
		return `system32\drivers`
	}
	return "system32"
}
