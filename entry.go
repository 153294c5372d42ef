// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package livezip

import "time"

// FileEntry is one archive member: a named byte source bundled with a
// Storage method and the pre-computed size/CRC32 values the caller
// already knows.
//
// FileEntry never reads its own content; NewStream is invoked by the
// Encoder only when the entry's turn in the emission order arrives, and
// the resulting DataStream is owned by the Encoder for the duration of
// that entry's streaming window.
type FileEntry struct {
	// Name is the archive path: a UTF-8 byte string with forward-slash
	// separators and no leading slash. Its UTF-8 length must fit in 16
	// bits.
	Name string

	// Storage describes how the bytes from NewStream are wrapped on the
	// wire (Stored or Deflated).
	Storage Storage

	// NewStream yields a fresh DataStream each time it is called. The
	// Encoder calls it exactly once per entry, at the entry's turn.
	NewStream StreamFactory

	// UncompressedSize is the entry's uncompressed length in bytes.
	UncompressedSize uint64

	// CompressedSize is the entry's on-the-wire length in bytes, as
	// produced by Storage.Wrap. For Stored, this must equal
	// UncompressedSize. For Deflated, it must equal
	// Storage.WireLength(UncompressedSize).
	CompressedSize uint64

	// CRC32 is the IEEE CRC32 of the uncompressed content.
	CRC32 uint32

	// Modified is the entry's last-modified time, truncated to 2-second
	// MS-DOS resolution. The zero value defaults to the MS-DOS epoch
	// (1980-01-01 00:00:00).
	Modified time.Time
}

func (e *FileEntry) modifiedOrEpoch() time.Time {
	if e.Modified.IsZero() {
		return epoch
	}
	return e.Modified
}

// validate checks the invariants Prepare must enforce before committing to
// any offsets.
func (e *FileEntry) validate() error {
	if len(e.Name) > uint16max {
		return &NameTooLongError{Name: e.Name}
	}
	return nil
}

// NewFileEntry builds a FileEntry from already-known size and CRC32
// values, the common case when the caller has pre-compressed the content
// out of band.
func NewFileEntry(name string, storage Storage, newStream StreamFactory, uncompressedSize, compressedSize uint64, crc32 uint32, modified time.Time) *FileEntry {
	return &FileEntry{
		Name:             name,
		Storage:          storage,
		NewStream:        newStream,
		UncompressedSize: uncompressedSize,
		CompressedSize:   compressedSize,
		CRC32:            crc32,
		Modified:         modified,
	}
}

// NewDirectoryEntry builds a zero-length Stored entry for a directory
// placeholder. The archive path should end in "/"; its DataStream never
// yields any bytes.
func NewDirectoryEntry(name string, modified time.Time) *FileEntry {
	return &FileEntry{
		Name:      name,
		Storage:   Stored{},
		NewStream: func() DataStream { return NewBytesDataStream(nil) },
		Modified:  modified,
	}
}
