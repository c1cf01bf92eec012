// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package basics

// HashID identifies the object-id hash algorithm a table was written with.
// It is encoded on disk as the 4-byte identifier from reftable.h's
// hash_id field ("sha1", "s256").
type HashID uint32

const (
	// HashSHA1 is the default hash identity used by tables that omit the
	// v2 header hash field.
	HashSHA1 HashID = 0x73686131 // "sha1"
	// HashSHA256 identifies 32-byte object ids.
	HashSHA256 HashID = 0x73323536 // "s256"
)

// Size returns the width in bytes of object ids under this hash identity.
func (h HashID) Size() int {
	switch h {
	case HashSHA256:
		return 32
	case HashSHA1, 0:
		return 20
	default:
		return 20
	}
}

// String renders the 4-byte identifier as text for error messages.
func (h HashID) String() string {
	if h == 0 {
		return "sha1"
	}
	b := []byte{byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}
	return string(b)
}

// Valid reports whether h is a known hash identity.
func (h HashID) Valid() bool {
	return h == 0 || h == HashSHA1 || h == HashSHA256
}
