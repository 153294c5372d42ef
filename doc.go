// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package livezip produces a ZIP64 archive as a streamed byte sequence from a
caller-supplied list of files whose compressed sizes and checksums are
known in advance.

Two properties drive the design: the total output length is computable
before any byte is emitted, so an HTTP responder can set a Content-Length
header; and per-file memory is bounded by O(1) regardless of file size,
because files are read incrementally from asynchronous data streams and
emitted as they are read.

Actual compression of file bytes, HTTP integration, and fetching file
content from disk or the network are the caller's job. livezip only
encodes: it consumes pre-computed compressed bytes and CRC32 checksums and
produces the ZIP64 byte stream around them.

See: https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT
*/
package livezip
