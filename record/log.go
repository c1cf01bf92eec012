// Copyright 2020 Google LLC
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file or at https://developers.google.com/open-source/licenses/bsd

package record

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/reftable/reftable-go/internal/basics"
	"github.com/reftable/reftable-go/rterrors"
)

// Log value types.
const (
	LogValDeletion byte = 0
	LogValUpdate   byte = 1
)

// LogRecord is a single reflog entry. Its on-disk key is RefName followed
// by the bitwise complement of UpdateIndex (8 bytes, big-endian) so that,
// for a fixed refname, newer entries sort before older ones.
type LogRecord struct {
	RefName     []byte
	UpdateIndex uint64

	OldHash []byte
	NewHash []byte
	Name    string
	Email   string
	Time    uint64
	TZOffset int16
	Message string

	valueType byte
}

var _ Record = (*LogRecord)(nil)

func (l *LogRecord) Type() BlockType { return BlockTypeLog }

// Key builds the composite (refname, ~update_index) sort key.
func (l *LogRecord) Key() []byte {
	key := make([]byte, len(l.RefName)+8)
	copy(key, l.RefName)
	basics.PutUint64(key[len(l.RefName):], ^l.UpdateIndex)
	return key
}

func (l *LogRecord) ValueType() byte { return l.kind() }

// IsDeletion reports whether this record is a reflog deletion tombstone.
func (l *LogRecord) IsDeletion() bool { return l.kind() == LogValDeletion }

func (l *LogRecord) kind() byte {
	if l.valueType != 0 {
		return l.valueType
	}
	if l.NewHash == nil && l.OldHash == nil && l.Message == "" && l.Name == "" {
		return LogValDeletion
	}
	return LogValUpdate
}

// NormalizeMessage implements the message normalization rule from the log
// UPDATE value format: unless exact is set, trailing newlines are trimmed
// and exactly one is added back; a message with embedded newlines (after
// trimming trailing newlines) is rejected when exact is unset. Other
// whitespace is kept as is.
func NormalizeMessage(msg string, exact bool) (string, error) {
	if exact {
		return msg, nil
	}
	trimmed := strings.TrimRight(msg, "\n")
	if strings.Contains(trimmed, "\n") {
		return "", errors.Wrap(rterrors.ErrAPI, "record: multi-line log message requires ExactLogMessage")
	}
	return trimmed + "\n", nil
}

func (l *LogRecord) Encode(dst *bytes.Buffer, hashSize int) error {
	if l.kind() == LogValDeletion {
		return nil
	}

	if len(l.OldHash) != hashSize || len(l.NewHash) != hashSize {
		return errors.Wrap(rterrors.ErrAPI, "record: log hashes must match hash size")
	}
	dst.Write(l.OldHash)
	dst.Write(l.NewHash)

	var tmp [basics.MaxVarintLen64]byte
	writeStr := func(s string) {
		n := basics.PutUvarint(tmp[:], uint64(len(s)))
		dst.Write(tmp[:n])
		dst.WriteString(s)
	}
	writeStr(l.Name)
	writeStr(l.Email)

	n := basics.PutUvarint(tmp[:], l.Time)
	dst.Write(tmp[:n])

	var tz [2]byte
	basics.PutUint16(tz[:], uint16(l.TZOffset))
	dst.Write(tz[:])

	writeStr(l.Message)
	return nil
}

func (l *LogRecord) Decode(key []byte, valueType byte, src []byte, hashSize int) (int, error) {
	if len(key) < 8 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: log key too short")
	}
	l.RefName = append([]byte(nil), key[:len(key)-8]...)
	l.UpdateIndex = ^basics.Uint64(key[len(key)-8:])
	l.valueType = valueType

	if valueType == LogValDeletion {
		l.OldHash, l.NewHash, l.Name, l.Email, l.Message, l.Time, l.TZOffset = nil, nil, "", "", "", 0, 0
		return 0, nil
	}

	if len(src) < 2*hashSize {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated log hashes")
	}
	l.OldHash = append([]byte(nil), src[:hashSize]...)
	l.NewHash = append([]byte(nil), src[hashSize:2*hashSize]...)
	rest := src[2*hashSize:]
	consumed := 2 * hashSize

	readStr := func() (string, error) {
		ln, n := basics.Uvarint(rest)
		if n <= 0 {
			return "", errors.Wrap(rterrors.ErrFormat, "record: truncated log string length")
		}
		rest = rest[n:]
		consumed += n
		if uint64(len(rest)) < ln {
			return "", errors.Wrap(rterrors.ErrFormat, "record: truncated log string")
		}
		s := string(rest[:ln])
		rest = rest[ln:]
		consumed += int(ln)
		return s, nil
	}

	var err error
	if l.Name, err = readStr(); err != nil {
		return 0, err
	}
	if l.Email, err = readStr(); err != nil {
		return 0, err
	}

	tm, n := basics.Uvarint(rest)
	if n <= 0 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated log time")
	}
	l.Time = tm
	rest = rest[n:]
	consumed += n

	if len(rest) < 2 {
		return 0, errors.Wrap(rterrors.ErrFormat, "record: truncated log tz offset")
	}
	l.TZOffset = int16(basics.Uint16(rest[:2]))
	rest = rest[2:]
	consumed += 2

	if l.Message, err = readStr(); err != nil {
		return 0, err
	}

	return consumed, nil
}

func (l *LogRecord) CopyFrom(other Record) {
	o := other.(*LogRecord)
	l.RefName = append([]byte(nil), o.RefName...)
	l.UpdateIndex = o.UpdateIndex
	l.OldHash = append([]byte(nil), o.OldHash...)
	l.NewHash = append([]byte(nil), o.NewHash...)
	l.Name = o.Name
	l.Email = o.Email
	l.Time = o.Time
	l.TZOffset = o.TZOffset
	l.Message = o.Message
	l.valueType = o.valueType
}

// Equal reports whether l and other describe the same reflog entry.
func (l *LogRecord) Equal(other *LogRecord, hashSize int) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(l.RefName, other.RefName) &&
		l.UpdateIndex == other.UpdateIndex &&
		bytes.Equal(l.OldHash, other.OldHash) &&
		bytes.Equal(l.NewHash, other.NewHash) &&
		l.Name == other.Name &&
		l.Email == other.Email &&
		l.Time == other.Time &&
		l.TZOffset == other.TZOffset &&
		l.Message == other.Message
}
