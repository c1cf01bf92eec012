// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package reftable

import "github.com/reftable/reftable-go/rterrors"

// The sentinel errors below are re-exported from rterrors so callers can
// write errors.Is(err, reftable.ErrLock) without importing the internal
// package directly.
var (
	ErrIO          = rterrors.ErrIO
	ErrFormat      = rterrors.ErrFormat
	ErrNotExist    = rterrors.ErrNotExist
	ErrLock        = rterrors.ErrLock
	ErrOutdated    = rterrors.ErrOutdated
	ErrAPI         = rterrors.ErrAPI
	ErrZlib        = rterrors.ErrZlib
	ErrEmptyTable  = rterrors.ErrEmptyTable
	ErrRefname     = rterrors.ErrRefname
	ErrEntryTooBig = rterrors.ErrEntryTooBig
)
