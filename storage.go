package livezip

import "io"

// Storage describes how a file's uncompressed bytes are wrapped on the
// wire. It reports the exact wire length synchronously, from the
// uncompressed length alone, so the Encoder can plan byte offsets without
// reading any file content.
type Storage interface {
	// Method returns the ZIP method code (MethodStored or MethodDeflate).
	Method() uint16

	// WireLength returns the exact number of bytes this method emits for
	// an input of uncompressedLen bytes.
	WireLength(uncompressedLen uint64) uint64

	// Wrap transforms a reader of uncompressed bytes into a reader of the
	// on-the-wire bytes. uncompressedLen is the declared uncompressed
	// length of src; Wrap may use it to determine a deterministic framing,
	// but must not read past it.
	Wrap(src io.Reader, uncompressedLen uint64) io.Reader
}

// Stored is the identity storage method (ZIP method 0): the wire bytes
// are exactly the uncompressed bytes.
type Stored struct{}

// Method implements Storage.
func (Stored) Method() uint16 { return MethodStored }

// WireLength implements Storage.
func (Stored) WireLength(uncompressedLen uint64) uint64 { return uncompressedLen }

// Wrap implements Storage. Stored wrapping is the identity transform.
func (Stored) Wrap(src io.Reader, _ uint64) io.Reader { return src }

// maxStoredBlock is the largest payload a single DEFLATE stored (type 00)
// block may carry; LEN/NLEN are 16-bit fields.
const maxStoredBlock = 65535

// Deflated packages uncompressed bytes as one or more DEFLATE "stored"
// (BTYPE=00) blocks (ZIP method 8), without actually compressing anything.
// The chunking is deterministic given the input length alone: ceil(n /
// 65535) blocks, all but the last of length 65535, the last of length
// n mod 65535 (or 65535 if n is a positive multiple of 65535). An empty
// input produces a single empty BFINAL block (5 bytes).
type Deflated struct{}

// Method implements Storage.
func (Deflated) Method() uint16 { return MethodDeflate }

// WireLength implements Storage.
func (Deflated) WireLength(uncompressedLen uint64) uint64 {
	return 5*uint64(storedBlockCount(uncompressedLen)) + uncompressedLen
}

// Wrap implements Storage.
func (Deflated) Wrap(src io.Reader, uncompressedLen uint64) io.Reader {
	return &storedBlockReader{src: src, blocks: storedBlockSizes(uncompressedLen)}
}

// storedBlockCount returns the number of DEFLATE stored blocks needed to
// carry n bytes under the chunking convention above.
func storedBlockCount(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	count := n / maxStoredBlock
	if n%maxStoredBlock != 0 {
		count++
	}
	return count
}

// storedBlockSizes returns the payload size of each stored block needed to
// carry n bytes, in order.
func storedBlockSizes(n uint64) []uint32 {
	count := storedBlockCount(n)
	sizes := make([]uint32, count)
	remaining := n
	for i := range sizes {
		size := uint64(maxStoredBlock)
		if remaining < size {
			size = remaining
		}
		sizes[i] = uint32(size)
		remaining -= size
	}
	return sizes
}

// storedBlockReader frames reads from src into a sequence of DEFLATE
// stored blocks. Block boundaries are precomputed from the declared
// uncompressed length rather than discovered via EOF, so the bytes
// emitted are a pure function of that length.
//
// At most one block's 5-byte header is buffered at a time, and payload
// bytes are passed through from src without additional buffering. The
// precomputed block-size table holds one uint32 per 65535-byte block, so
// that table grows with the declared length.
type storedBlockReader struct {
	src    io.Reader
	blocks []uint32

	header    [5]byte
	headerLen int // unread bytes remaining in header, counted from the end
	blockIdx  int
	remaining uint32 // unread payload bytes remaining in the current block
	started   bool
}

func (r *storedBlockReader) Read(p []byte) (int, error) {
	for {
		if r.headerLen > 0 {
			n := copy(p, r.header[len(r.header)-r.headerLen:])
			r.headerLen -= n
			return n, nil
		}
		if !r.started || r.remaining == 0 {
			if r.started && r.blockIdx >= len(r.blocks) {
				return 0, io.EOF
			}
			size := r.blocks[r.blockIdx]
			r.blockIdx++
			r.started = true
			final := r.blockIdx >= len(r.blocks)
			r.loadHeader(final, size)
			r.remaining = size
			continue
		}
		if len(p) == 0 {
			return 0, nil
		}
		toRead := len(p)
		if uint32(toRead) > r.remaining {
			toRead = int(r.remaining)
		}
		n, err := r.src.Read(p[:toRead])
		r.remaining -= uint32(n)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		if err != nil {
			return 0, err
		}
	}
}

// loadHeader fills the 3-bit block header (BFINAL + BTYPE=00), padded to a
// byte, followed by LEN and NLEN (LEN's bitwise complement).
func (r *storedBlockReader) loadHeader(final bool, size uint32) {
	var b byte
	if final {
		b = 1
	}
	r.header[0] = b
	len16 := uint16(size)
	r.header[1] = byte(len16)
	r.header[2] = byte(len16 >> 8)
	nlen16 := ^len16
	r.header[3] = byte(nlen16)
	r.header[4] = byte(nlen16 >> 8)
	r.headerLen = len(r.header)
}
