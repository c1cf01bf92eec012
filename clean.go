// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable

import "strings"

// Clean sweeps the stack directory for leftover ".ref" files that are not
// named in tables.list and are not currently locked (no matching ".lock"
// sentinel), and unlinks them. A table that another process is compacting
// is protected by its ".lock" file and is left alone. Tables that another
// process's Addition has renamed into place but not yet committed, and a
// compaction's output before tables.list names it, have no ".lock" file
// and are removed.
func (s *Stack) Clean() error {
	entries, err := s.fs.List(s.dir)
	if err != nil {
		return err
	}

	live := make(map[string]bool, len(s.tables))
	for _, name := range s.TableNames() {
		live[name] = true
	}
	locked := make(map[string]bool)
	for _, name := range entries {
		if strings.HasSuffix(name, ".lock") {
			locked[strings.TrimSuffix(name, ".lock")] = true
		}
	}

	for _, name := range entries {
		if !strings.HasSuffix(name, ".ref") {
			continue
		}
		if live[name] || locked[name] {
			continue
		}
		_ = s.fs.Remove(s.fs.PathJoin(s.dir, name))
	}
	return nil
}
