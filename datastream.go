package livezip

import (
	"bytes"
	"context"
	"io"
)

// DataStream is a polymorphic asynchronous byte source for one archive
// entry: open, then read chunks, then close. Open is separated from
// construction so that sockets or handles are not held across the
// lifetime of the whole entry list, and so late-bound credentials (a
// freshly signed URL, say) can be resolved only when reading actually
// begins.
//
// Implementations must be safe to Open exactly once per use. The Encoder
// guarantees Close is called on every exit path, including errors
// mid-read and consumer cancellation.
type DataStream interface {
	// Open prepares the stream for reading. It is called at most once,
	// immediately before the first Read.
	Open(ctx context.Context) error

	// Read reads the next chunk of uncompressed bytes. It follows
	// io.Reader's contract: a zero-length result with a nil error means
	// try again, and io.EOF signals the end of the stream.
	Read(ctx context.Context, p []byte) (int, error)

	// Close releases any resources acquired by Open. It is called exactly
	// once for every successful Open, regardless of how reading ended.
	Close(ctx context.Context) error
}

// StreamFactory produces a fresh DataStream for one streaming pass over an
// entry. The Encoder calls the factory only when the entry's turn in the
// emission order arrives.
type StreamFactory func() DataStream

// ctxReader adapts a DataStream, bound to a context, to io.Reader so it
// can be composed with a Storage's Wrap.
type ctxReader struct {
	ctx    context.Context
	stream DataStream
	name   string
}

func (r ctxReader) Read(p []byte) (int, error) {
	n, err := r.stream.Read(r.ctx, p)
	if err != nil && err != io.EOF {
		return n, &UpstreamError{Name: r.name, Op: "read", Err: err}
	}
	return n, err
}

// ReaderDataStream adapts a plain io.Reader into a DataStream for callers
// that already have a blocking reader (a local file, say) and don't need
// late-bound credentials or cancellation.
type ReaderDataStream struct {
	Opener func() (io.Reader, error)
	Closer func() error

	r io.Reader
}

// NewReaderDataStream builds a ReaderDataStream that opens the stream by
// calling open and, if the resulting reader implements io.Closer, closes
// it on Close.
func NewReaderDataStream(open func() (io.Reader, error)) *ReaderDataStream {
	return &ReaderDataStream{Opener: open}
}

func (s *ReaderDataStream) Open(_ context.Context) error {
	r, err := s.Opener()
	if err != nil {
		return err
	}
	s.r = r
	if c, ok := r.(io.Closer); ok && s.Closer == nil {
		s.Closer = c.Close
	}
	return nil
}

func (s *ReaderDataStream) Read(_ context.Context, p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *ReaderDataStream) Close(_ context.Context) error {
	if s.Closer == nil {
		return nil
	}
	return s.Closer()
}

// BytesDataStream is a DataStream over an in-memory byte slice, useful for
// tests and for small entries (directory placeholders, generated
// manifests) that don't warrant an external fetch.
type BytesDataStream struct {
	Data []byte

	r *bytes.Reader
}

// NewBytesDataStream returns a DataStream that serves data verbatim.
func NewBytesDataStream(data []byte) *BytesDataStream {
	return &BytesDataStream{Data: data}
}

func (s *BytesDataStream) Open(_ context.Context) error {
	s.r = bytes.NewReader(s.Data)
	return nil
}

func (s *BytesDataStream) Read(_ context.Context, p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *BytesDataStream) Close(_ context.Context) error {
	return nil
}
