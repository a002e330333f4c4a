// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// quibgoctl drives the boot pipeline (image discovery through loader-block
// assembly) against a local directory standing in for a firmware volume,
// and dumps individual PE images or assembled loader blocks for
// inspection. It is a development/test harness, not a bootable artifact:
// nothing in cmd ever runs outside a hosted OS process.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

func newLogger() *logrus.Entry {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(log)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "quibgoctl",
		Short: "Development harness for the UEFI-to-kernel boot pipeline",
		Long:  "quibgoctl drives image discovery, loader-block assembly, and PE inspection against a local volume root.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newBootCmd())
	rootCmd.AddCommand(newDumpImageCmd())
	rootCmd.AddCommand(newDumpBlockCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("quibgoctl 0.1.0")
		},
	}
}
