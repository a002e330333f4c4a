package main

import (
	"github.com/spf13/cobra"

	"github.com/maharmstone/quibgo/peimage"
)

type imageDump struct {
	Name       string                  `json:"name"`
	DOSHeader  peimage.ImageDOSHeader  `json:"dos_header"`
	NtHeader   peimage.ImageNtHeader   `json:"nt_header"`
	Sections   []peimage.Section       `json:"sections"`
	Imports    []peimage.Import        `json:"imports"`
	Export     peimage.Export          `json:"export"`
	Signature  peimage.SignatureInfo   `json:"signature"`
}

func newDumpImageCmd() *cobra.Command {
	var wantHeaders, wantSections, wantImports, wantExports, wantCert bool
	cmd := &cobra.Command{
		Use:   "dump-image <path>",
		Short: "Parse a PE image and print its structure as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			img, err := peimage.Load(args[0], 0, log)
			if err != nil {
				return err
			}
			defer img.Free()

			dump := imageDump{Name: img.Name}
			if wantHeaders {
				dump.DOSHeader = img.DOSHeader
				dump.NtHeader = img.NtHeader
			}
			if wantSections {
				dump.Sections = img.GetSections()
			}
			if wantImports {
				dump.Imports = img.Imports
			}
			if wantExports {
				dump.Export = img.Export
			}
			if wantCert {
				info, err := img.VerifyCatalog()
				if err != nil {
					log.WithError(err).Warn("signature check failed")
				}
				dump.Signature = info
			}
			return printJSON(dump)
		},
	}
	cmd.Flags().BoolVar(&wantHeaders, "headers", true, "include DOS/NT headers")
	cmd.Flags().BoolVar(&wantSections, "sections", true, "include section headers")
	cmd.Flags().BoolVar(&wantImports, "imports", false, "include import table")
	cmd.Flags().BoolVar(&wantExports, "exports", false, "include export table")
	cmd.Flags().BoolVar(&wantCert, "cert", false, "verify embedded Authenticode signature")
	return cmd
}
