package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maharmstone/quibgo/addrspace"
	"github.com/maharmstone/quibgo/apiset"
	"github.com/maharmstone/quibgo/arc"
	"github.com/maharmstone/quibgo/bootctx"
	"github.com/maharmstone/quibgo/cmdline"
	"github.com/maharmstone/quibgo/firmware/fake"
	"github.com/maharmstone/quibgo/imagegraph"
	"github.com/maharmstone/quibgo/loaderblock"
	"github.com/maharmstone/quibgo/registry"
)

type bootOptions struct {
	root           string
	kernel         string
	hal            string
	driverNames    []string
	hivePath       string
	apiSetPath     string
	apiSetVersion  int
	kernelMajor    uint32
	kernelBuild    uint32
	kernelRevision uint32
	cmdlineStr     string
	arch           string
}

func newBootCmd() *cobra.Command {
	opts := &bootOptions{}
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run image discovery and loader-block assembly against a local volume root",
		Long: "boot loads the kernel and HAL (and any named boot drivers) from root, " +
			"resolves imports, packs images contiguously, and assembles a loader block, " +
			"then prints the result as JSON. root stands in for the boot volume (system32, system32\\drivers).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(opts)
		},
	}
	cmd.Flags().StringVar(&opts.root, "root", "", "volume root directory (required)")
	cmd.Flags().StringVar(&opts.kernel, "kernel", "ntoskrnl.exe", "kernel image name")
	cmd.Flags().StringVar(&opts.hal, "hal", "hal.dll", "HAL image name")
	cmd.Flags().StringSliceVar(&opts.driverNames, "driver", nil, "boot driver image name (repeatable); ignored if --hive is set")
	cmd.Flags().StringVar(&opts.hivePath, "hive", "", "SYSTEM hive path to enumerate boot-start drivers from, instead of --driver")
	cmd.Flags().StringVar(&opts.apiSetPath, "apiset-schema", "", "apisetschema.bin path (optional; imports to virtual DLLs fail without it)")
	cmd.Flags().IntVar(&opts.apiSetVersion, "apiset-version", int(apiset.SchemaWin10), "api-set schema version (0=Win8, 1=Win8.1, 2=Win10)")
	cmd.Flags().Uint32Var(&opts.kernelMajor, "kernel-major", 10, "kernel major version, for loader-block layout selection")
	cmd.Flags().Uint32Var(&opts.kernelBuild, "kernel-build", 19041, "kernel build number, for loader-block layout selection")
	cmd.Flags().Uint32Var(&opts.kernelRevision, "kernel-revision", 0, "kernel UBR; only distinguishes layout on builds with a revision-gated extension size (e.g. 9600)")
	cmd.Flags().StringVar(&opts.cmdlineStr, "cmdline", "", "boot command line (KEY=value tokens)")
	cmd.Flags().StringVar(&opts.arch, "arch", "x64", "target architecture: x86 or x64")
	cmd.MarkFlagRequired("root")
	return cmd
}

func runBoot(opts *bootOptions) error {
	log := newLogger()
	arch := addrspace.ArchX64
	if opts.arch == "x86" {
		arch = addrspace.ArchX86
	}

	fw := fake.New()
	bc := bootctx.New(context.Background(), fw, arch, log)

	opener := newLocalOpener(opts.root)

	var resolver *apiset.Resolver
	if opts.apiSetPath != "" {
		data, err := os.ReadFile(opts.apiSetPath)
		if err != nil {
			return err
		}
		resolver = apiset.New(data, apiset.SchemaVersion(opts.apiSetVersion))
	}
	bc.WithApiSet(resolver, opener)

	bc.Graph.AddSeed(opts.kernel, "system32")
	bc.Graph.AddSeed(opts.hal, "system32")

	driverNames := opts.driverNames
	if opts.hivePath != "" {
		names, err := enumerateBootDrivers(opts.hivePath)
		if err != nil {
			return err
		}
		driverNames = names
	}
	for _, name := range driverNames {
		// Boot drivers are seeds too, but NoRelocate belongs to the
		// kernel/HAL import closure only.
		bc.Graph.AddSeed(name, imagegraph.ResolveDirectory(name, true)).NoRelocate = false
	}

	if err := bc.Graph.LoadAll(); err != nil {
		return err
	}
	if err := bc.Graph.ResolveImports(); err != nil {
		return err
	}
	bc.Graph.Sort(opts.kernel, opts.hal)
	if err := bc.Graph.PackContiguous(); err != nil {
		return err
	}

	kernelRef, halRef, driverRefs := toImageRefs(bc.Graph.Records, opts.kernel, opts.hal)

	cmdOpts := cmdline.Parse(opts.cmdlineStr)

	diskSig := arc.NewMBRSignature(arc.Path(0, 1), 0x12345678)

	// TSC ticks across a 50 ms stall, scaled to ticks per second.
	tscStart := fw.ReadTSC()
	if err := fw.Stall(50 * time.Millisecond); err != nil {
		return err
	}
	tscHz := (fw.ReadTSC() - tscStart) * 20

	now, _ := fw.GetTime()
	block, err := loaderblock.Assemble(loaderblock.BuildInput{
		Version:               loaderblock.VersionKey{Major: opts.kernelMajor, Build: opts.kernelBuild, Revision: opts.kernelRevision},
		Kernel:                kernelRef,
		HAL:                   halRef,
		BootDrivers:           driverRefs,
		ArcBootDevice:         diskSig.ArcName,
		ArcHalDevice:          diskSig.ArcName,
		NtBootPath:            `Windows\System32\`,
		NtHalPath:             `Windows\System32\`,
		LoadOptions:           cmdOpts.Raw,
		ProcessorCounterHz:    tscHz,
		FirmwareTimeUnixNanos: now.UnixNano(),
	})
	if err != nil {
		return err
	}

	return printJSON(block)
}

func toImageRefs(records []*imagegraph.Record, kernelName, halName string) (kernel, hal loaderblock.ImageRef, drivers []loaderblock.ImageRef) {
	for _, r := range records {
		ref := loaderblock.ImageRef{Name: r.Name, Order: r.Order, VA: r.VA, NoRelocate: r.NoRelocate}
		if r.Image != nil {
			ref.SizeBytes = r.Image.GetSize()
			ref.EntryVA = r.VA + uint64(r.Image.GetEntryPoint())
		}
		switch {
		case strings.EqualFold(r.Name, kernelName):
			kernel = ref
		case strings.EqualFold(r.Name, halName):
			hal = ref
		default:
			drivers = append(drivers, ref)
		}
	}
	return kernel, hal, drivers
}

func enumerateBootDrivers(hivePath string) ([]string, error) {
	h, err := registry.Open(hivePath)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	ccs, err := registry.ResolveCurrentControlSet(h, true)
	if err != nil {
		return nil, err
	}
	core, boot, err := registry.EnumerateBootDrivers(h, ccs, "", true, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range append(core, boot...) {
		names = append(names, d.Name)
	}
	return names, nil
}

func printJSON(v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
