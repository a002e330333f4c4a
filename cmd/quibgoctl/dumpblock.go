package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/maharmstone/quibgo/loaderblock"
)

type dumpBlockOptions struct {
	major, build, revision uint32
	kernelName             string
	halName                string
	arcBootDevice          string
	arcHalDevice           string
	ntBootPath             string
	ntHalPath              string
	loadOptions            string
	processorCtrHz         uint64
}

func newDumpBlockCmd() *cobra.Command {
	opts := &dumpBlockOptions{}
	cmd := &cobra.Command{
		Use:   "dump-block",
		Short: "Assemble a loader block for a given kernel version and print it as JSON",
		Long:  "dump-block exercises loaderblock.Assemble directly from flags, without running image discovery, to inspect version-gated field presence in isolation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := loaderblock.Assemble(loaderblock.BuildInput{
				Version:               loaderblock.VersionKey{Major: opts.major, Build: opts.build, Revision: opts.revision},
				Kernel:                loaderblock.ImageRef{Name: opts.kernelName},
				HAL:                   loaderblock.ImageRef{Name: opts.halName},
				ArcBootDevice:         opts.arcBootDevice,
				ArcHalDevice:          opts.arcHalDevice,
				NtBootPath:            opts.ntBootPath,
				NtHalPath:             opts.ntHalPath,
				LoadOptions:           opts.loadOptions,
				ProcessorCounterHz:    opts.processorCtrHz,
				FirmwareTimeUnixNanos: time.Now().UnixNano(),
			})
			if err != nil {
				return err
			}
			return printJSON(block)
		},
	}
	cmd.Flags().Uint32Var(&opts.major, "major", 10, "kernel major version")
	cmd.Flags().Uint32Var(&opts.build, "build", 19041, "kernel build number")
	cmd.Flags().Uint32Var(&opts.revision, "revision", 0, "kernel UBR; only distinguishes layout on builds with a revision-gated extension size (e.g. 9600)")
	cmd.Flags().StringVar(&opts.kernelName, "kernel-name", "ntoskrnl.exe", "kernel image name")
	cmd.Flags().StringVar(&opts.halName, "hal-name", "hal.dll", "HAL image name")
	cmd.Flags().StringVar(&opts.arcBootDevice, "arc-boot-device", "multi(0)disk(0)rdisk(0)partition(1)", "ARC boot device path")
	cmd.Flags().StringVar(&opts.arcHalDevice, "arc-hal-device", "multi(0)disk(0)rdisk(0)partition(1)", "ARC HAL device path")
	cmd.Flags().StringVar(&opts.ntBootPath, "nt-boot-path", `Windows\System32\`, "NT boot path")
	cmd.Flags().StringVar(&opts.ntHalPath, "nt-hal-path", `Windows\System32\`, "NT HAL path")
	cmd.Flags().StringVar(&opts.loadOptions, "load-options", "", "boot command line, verbatim")
	cmd.Flags().Uint64Var(&opts.processorCtrHz, "processor-hz", 2_500_000_000, "measured processor counter frequency")
	return cmd
}
