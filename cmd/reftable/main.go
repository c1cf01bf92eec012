// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

// Command reftable inspects reftable stacks and tables for debugging,
// mirroring original_source/reftable/dump.c.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "reftable",
		Short:         "Inspect reftable stacks and tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDumpCommand())

	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
