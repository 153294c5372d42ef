// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package livezip

import "encoding/binary"

// Fixed record signatures and widths, little-endian, byte-packed, no padding.
const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50

	fileHeaderLen      = 30 // + name + extra
	directoryHeaderLen = 46 // + name + extra
	directory64EndLen  = 56
	directory64LocLen  = 20
	directoryEndLen    = 22

	lfhExtraLen = 20 // 4 byte extra header + 16 bytes of zip64 data
	cdhExtraLen = 28 // 4 byte extra header + 24 bytes of zip64 data

	zip64ExtraID = 0x0001

	zipVersion45 = 45 // 4.5: reads and writes zip64 archives

	uint16max = 1<<16 - 1
	uint32max = 1<<32 - 1

	// trailerSize is the total size of EOCD64 + Locator + EOCD.
	trailerSize = directory64EndLen + directory64LocLen + directoryEndLen
)

// Storage method codes ("Store" / "Deflate" in APPNOTE terms).
const (
	MethodStored  uint16 = 0
	MethodDeflate uint16 = 8
)

// writeBuf is a cursor over a fixed byte buffer, consumed field by field.
type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16((*b)[:2], v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32((*b)[:4], v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64((*b)[:8], v)
	*b = (*b)[8:]
}

// localFileHeaderLen returns the byte length of the LFH record for name,
// including the name and the zip64 extra field.
func localFileHeaderLen(nameLen int) int {
	return fileHeaderLen + nameLen + lfhExtraLen
}

// centralDirectoryHeaderLen returns the byte length of the CDH record for
// name, including the name and the zip64 extra field.
func centralDirectoryHeaderLen(nameLen int) int {
	return directoryHeaderLen + nameLen + cdhExtraLen
}

// buildLocalFileHeader encodes the local file header for e, followed by
// its file name bytes and the zip64 extra field.
//
// Sizes and CRC32 are written unconditionally to the zip64 extra and the
// CRC32 field respectively; the 32-bit size fields in the fixed-width part
// always carry the 0xFFFFFFFF sentinel, since the real values live in the
// extra field. This keeps the layout free of branching on per-entry
// magnitude.
func buildLocalFileHeader(e *FileEntry) []byte {
	nameLen := len(e.Name)
	buf := make([]byte, fileHeaderLen+nameLen+lfhExtraLen)
	b := writeBuf(buf)
	b.uint32(fileHeaderSignature)
	b.uint16(zipVersion45)
	b.uint16(0x0800) // UTF-8 name flag (bit 11); bit 3 (streaming) cleared
	b.uint16(e.Storage.Method())
	modDate, modTime := timeToMsDosTime(e.modifiedOrEpoch())
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(e.CRC32)
	b.uint32(uint32max) // compressed size sentinel
	b.uint32(uint32max) // uncompressed size sentinel
	b.uint16(uint16(nameLen))
	b.uint16(lfhExtraLen)
	copy(buf[fileHeaderLen:], e.Name)
	eb := writeBuf(buf[fileHeaderLen+nameLen:])
	eb.uint16(zip64ExtraID)
	eb.uint16(16) // data size: two uint64
	eb.uint64(e.UncompressedSize)
	eb.uint64(e.CompressedSize)
	return buf
}

// buildCentralDirectoryHeader encodes the central directory header and
// zip64 extra for e at the given local header offset.
func buildCentralDirectoryHeader(e *FileEntry, offset uint64) []byte {
	nameLen := len(e.Name)
	buf := make([]byte, directoryHeaderLen+nameLen+cdhExtraLen)
	b := writeBuf(buf)
	b.uint32(directoryHeaderSignature)
	b.uint16(zipVersion45) // version made by, host FAT (0)
	b.uint16(zipVersion45) // version needed
	b.uint16(0x0800)
	b.uint16(e.Storage.Method())
	modDate, modTime := timeToMsDosTime(e.modifiedOrEpoch())
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(e.CRC32)
	b.uint32(uint32max) // compressed size sentinel
	b.uint32(uint32max) // uncompressed size sentinel
	b.uint16(uint16(nameLen))
	b.uint16(cdhExtraLen)
	b.uint16(0) // comment length
	b.uint16(0) // disk number start
	b.uint16(0) // internal attributes
	b.uint32(0) // external attributes
	b.uint32(uint32max) // local header offset sentinel
	copy(buf[directoryHeaderLen:], e.Name)
	eb := writeBuf(buf[directoryHeaderLen+nameLen:])
	eb.uint16(zip64ExtraID)
	eb.uint16(24) // data size: three uint64
	eb.uint64(e.UncompressedSize)
	eb.uint64(e.CompressedSize)
	eb.uint64(offset)
	return buf
}

// buildTrailer encodes the ZIP64 end-of-central-directory record, the
// ZIP64 locator, and the legacy end-of-central-directory record.
func buildTrailer(entries int, cdOffset, cdSize uint64) []byte {
	buf := make([]byte, trailerSize)
	b := writeBuf(buf)

	eocd64Offset := cdOffset + cdSize

	// ZIP64 end of central directory record.
	b.uint32(directory64EndSignature)
	b.uint64(directory64EndLen - 12) // size of record, excluding sig + this field
	b.uint16(zipVersion45)           // version made by
	b.uint16(zipVersion45)           // version needed
	b.uint32(0)                      // number of this disk
	b.uint32(0)                      // disk with start of central directory
	b.uint64(uint64(entries))        // entries on this disk
	b.uint64(uint64(entries))        // total entries
	b.uint64(cdSize)
	b.uint64(cdOffset)

	// ZIP64 end of central directory locator.
	b.uint32(directory64LocSignature)
	b.uint32(0) // disk with start of zip64 EOCD
	b.uint64(eocd64Offset)
	b.uint32(1) // total number of disks

	// End of central directory record.
	b.uint32(directoryEndSignature)
	b.uint16(0) // disk number
	b.uint16(0) // disk with start of central directory
	b.uint16(uint16max)
	b.uint16(uint16max)
	b.uint32(uint32max)
	b.uint32(uint32max)
	b.uint16(0) // comment length

	return buf
}
