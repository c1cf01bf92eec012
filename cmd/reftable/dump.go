// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	reftable "github.com/reftable/reftable-go"
	"github.com/reftable/reftable-go/blocksource"
	"github.com/reftable/reftable-go/record"
	"github.com/reftable/reftable-go/table"
	"github.com/reftable/reftable-go/vfs"
)

func newDumpCommand() *cobra.Command {
	var tableFile string

	cmd := &cobra.Command{
		Use:   "dump [dir]",
		Short: "Print every ref and log record in a stack directory or a single table file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tableFile != "" {
				return dumpTable(cmd.OutOrStdout(), tableFile)
			}
			if len(args) == 0 {
				return fmt.Errorf("reftable dump: need a stack directory or -t <table file>")
			}
			return dumpStack(cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().StringVarP(&tableFile, "table", "t", "", "dump a single .ref table file instead of a stack directory")
	return cmd
}

func dumpTable(w io.Writer, path string) error {
	src, err := blocksource.NewFile(vfs.Default, path)
	if err != nil {
		return err
	}
	r, err := table.NewReader(src, path)
	if err != nil {
		return err
	}
	defer r.Unref()

	refIt, err := r.SeekRefIterator("")
	if err != nil {
		return err
	}
	var ref record.RefRecord
	for {
		ok, err := refIt.Next(&ref)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		printRef(w, &ref)
	}

	logIt, err := r.SeekLogIterator("")
	if err != nil {
		return err
	}
	var log record.LogRecord
	for {
		ok, err := logIt.Next(&log)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		printLog(w, &log)
	}
	return nil
}

func dumpStack(w io.Writer, dir string) error {
	s, err := reftable.NewStack(dir, vfs.Default, reftable.Options{DisableAutoCompact: true})
	if err != nil {
		return err
	}
	defer s.Close()

	refIt, err := s.NewRefIterator()
	if err != nil {
		return err
	}
	defer refIt.Close()
	var ref record.RefRecord
	for {
		ok, err := refIt.Next(&ref)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		printRef(w, &ref)
	}

	logIt, err := s.NewLogIterator()
	if err != nil {
		return err
	}
	defer logIt.Close()
	var log record.LogRecord
	for {
		ok, err := logIt.Next(&log)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		printLog(w, &log)
	}
	return nil
}

func printRef(w io.Writer, r *record.RefRecord) {
	switch {
	case r.IsDeletion():
		fmt.Fprintf(w, "ref{%s(%d) delete}\n", r.RefName, r.UpdateIndex)
	case len(r.Target) > 0:
		fmt.Fprintf(w, "ref{%s(%d) => %s}\n", r.RefName, r.UpdateIndex, r.Target)
	default:
		fmt.Fprintf(w, "ref{%s(%d) %s", r.RefName, r.UpdateIndex, hex.EncodeToString(r.Value))
		if len(r.TargetValue) > 0 {
			fmt.Fprintf(w, " (peeled %s)", hex.EncodeToString(r.TargetValue))
		}
		fmt.Fprint(w, "}\n")
	}
}

func printLog(w io.Writer, l *record.LogRecord) {
	if l.IsDeletion() {
		fmt.Fprintf(w, "log{%s(%d) delete}\n", l.RefName, l.UpdateIndex)
		return
	}
	sign := "+"
	off := l.TZOffset
	if off < 0 {
		sign = "-"
		off = -off
	}
	fmt.Fprintf(w, "log{%s(%d) %s <%s> %d %s%04d\n%s => %s\n\n%s}\n",
		l.RefName, l.UpdateIndex, l.Name, l.Email, l.Time, sign, off,
		hex.EncodeToString(l.OldHash), hex.EncodeToString(l.NewHash),
		strings.TrimRight(l.Message, "\n"))
}
