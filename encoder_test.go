package livezip

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/ioutil"
	"testing"
	"time"

	kflate "github.com/klauspost/compress/flate"
	"go4.org/readerutil"
)

func crcOf(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func storedEntry(name string, content []byte) *FileEntry {
	return NewFileEntry(name, Stored{}, func() DataStream { return NewBytesDataStream(content) },
		uint64(len(content)), uint64(len(content)), crcOf(content), time.Time{})
}

func deflatedEntry(name string, content []byte) *FileEntry {
	var d Deflated
	wireLen := d.WireLength(uint64(len(content)))
	return NewFileEntry(name, d, func() DataStream { return NewBytesDataStream(content) },
		uint64(len(content)), wireLen, crcOf(content), time.Time{})
}

// collect drains an Encoder's GetData stream fully, the way an HTTP
// responder would before handing bytes to the client.
func collect(t *testing.T, enc *Encoder) []byte {
	t.Helper()
	r, err := enc.GetData(context.Background())
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	return data
}

func TestEncoderEmptyArchive(t *testing.T) {
	enc := NewEncoder(nil)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	total, err := enc.TotalSize()
	if err != nil {
		t.Fatal(err)
	}
	if total != 98 {
		t.Fatalf("total size = %d, want 98", total)
	}
	data := collect(t, enc)
	if len(data) != 98 {
		t.Fatalf("collected %d bytes, want 98", len(data))
	}
}

func TestEncoderRoundTripThroughArchiveZip(t *testing.T) {
	entries := []*FileEntry{
		storedEntry("a.txt", []byte("hello")),
		deflatedEntry("b.txt", []byte("hello world, this is deflated-but-stored content")),
		storedEntry("éléphant.txt", []byte("non-ASCII name")),
		NewDirectoryEntry("empty-dir/", time.Time{}),
		storedEntry("empty.txt", nil),
		deflatedEntry("empty-deflated.txt", nil),
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	total, err := enc.TotalSize()
	if err != nil {
		t.Fatal(err)
	}
	data := collect(t, enc)
	if uint64(len(data)) != total {
		t.Fatalf("collected %d bytes, want TotalSize() = %d", len(data), total)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive/zip could not parse output: %v", err)
	}
	if len(zr.File) != len(entries) {
		t.Fatalf("got %d members, want %d", len(zr.File), len(entries))
	}
	for i, zf := range zr.File {
		want := entries[i]
		if zf.Name != want.Name {
			t.Errorf("member %d name = %q, want %q", i, zf.Name, want.Name)
		}
		if zf.UncompressedSize64 != want.UncompressedSize {
			t.Errorf("member %q uncompressed size = %d, want %d", zf.Name, zf.UncompressedSize64, want.UncompressedSize)
		}
		if zf.CRC32 != want.CRC32 {
			t.Errorf("member %q crc32 = %#x, want %#x", zf.Name, zf.CRC32, want.CRC32)
		}
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("opening member %q: %v", zf.Name, err)
		}
		got, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading member %q: %v", zf.Name, err)
		}
		if uint64(len(got)) != want.UncompressedSize {
			t.Errorf("member %q content length = %d, want %d", zf.Name, len(got), want.UncompressedSize)
		}
	}
}

// TestEncoderDeflatedStoredBlockAcceptedByIndependentDecoder confirms a
// conforming DEFLATE reader other than archive/zip's also accepts the
// stored-block framing byte for byte.
func TestEncoderDeflatedStoredBlockAcceptedByIndependentDecoder(t *testing.T) {
	content := []byte("an independent flate reader must accept stored blocks too")
	var d Deflated
	wrapped := d.Wrap(bytes.NewReader(content), uint64(len(content)))
	fr := kflate.NewReader(wrapped)
	defer fr.Close()
	got, err := ioutil.ReadAll(fr)
	if err != nil {
		t.Fatalf("klauspost/compress/flate rejected stored-block output: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("decoded = %q, want %q", got, content)
	}
}

func TestEncoderGetDataBeforePrepareFails(t *testing.T) {
	enc := NewEncoder(nil)
	if _, err := enc.GetData(context.Background()); !errors.Is(err, ErrPlanMissing) {
		t.Fatalf("GetData before Prepare: got %v, want ErrPlanMissing", err)
	}
	if _, err := enc.TotalSize(); !errors.Is(err, ErrPlanMissing) {
		t.Fatalf("TotalSize before Prepare: got %v, want ErrPlanMissing", err)
	}
}

func TestEncoderPrepareIsIdempotent(t *testing.T) {
	enc := NewEncoder([]*FileEntry{storedEntry("a.txt", []byte("x"))})
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	first, _ := enc.TotalSize()
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	second, _ := enc.TotalSize()
	if first != second {
		t.Fatalf("TotalSize changed across repeated Prepare calls: %d vs %d", first, second)
	}
}

// shortDataStream declares a larger uncompressed size than it actually
// produces, so Storage.Wrap's stored identity pass-through under-delivers
// and the Encoder must surface SizeMismatchError.
type shortDataStream struct {
	data []byte
	r    *bytes.Reader
}

func (s *shortDataStream) Open(context.Context) error {
	s.r = bytes.NewReader(s.data)
	return nil
}

func (s *shortDataStream) Read(_ context.Context, p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *shortDataStream) Close(context.Context) error { return nil }

func TestEncoderSizeMismatchOnShortStream(t *testing.T) {
	entries := []*FileEntry{
		NewFileEntry("a.txt", Stored{}, func() DataStream { return &shortDataStream{data: []byte("hi")} },
			5, 5, 0, time.Time{}), // declares 5 bytes, stream only has 2
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	r, err := enc.GetData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = ioutil.ReadAll(r)
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SizeMismatchError, got %T: %v", err, err)
	}
}

// failingDataStream opens fine but fails on its second Read, simulating an
// upstream fetch that breaks mid-transfer.
type failingDataStream struct {
	reads int
}

var errUpstreamBroke = errors.New("upstream connection reset")

func (s *failingDataStream) Open(context.Context) error { return nil }

func (s *failingDataStream) Read(_ context.Context, p []byte) (int, error) {
	s.reads++
	if s.reads == 1 {
		n := copy(p, "partial")
		return n, nil
	}
	return 0, errUpstreamBroke
}

func (s *failingDataStream) Close(context.Context) error { return nil }

// TestEncoderUpstreamErrorStopsBeforeNextEntry verifies that a
// mid-stream failure on entry 1 surfaces to the consumer, entry 1's stream
// is closed, and entry 2's stream is never opened.
func TestEncoderUpstreamErrorStopsBeforeNextEntry(t *testing.T) {
	failing := &failingDataStream{}
	secondOpened := false

	entries := []*FileEntry{
		NewFileEntry("e1.txt", Stored{}, func() DataStream { return failing }, 100, 100, 0, time.Time{}),
		NewFileEntry("e2.txt", Stored{}, func() DataStream {
			secondOpened = true
			return NewBytesDataStream([]byte("e2"))
		}, 2, 2, crcOf([]byte("e2")), time.Time{}),
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	r, err := enc.GetData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = ioutil.ReadAll(r)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if !errors.Is(err, errUpstreamBroke) {
		t.Errorf("wrapped error does not unwrap to the original cause")
	}
	if secondOpened {
		t.Error("second entry's stream was opened despite the first entry failing")
	}
}

// trackingDataStream records its open/close calls so tests can assert
// that at most one stream is open at any instant.
type trackingDataStream struct {
	data       []byte
	openCount  int
	closeCount int
	tracker    *openTracker
	r          *bytes.Reader
}

type openTracker struct {
	openNow   int
	maxOpenAt int
}

func (tr *openTracker) open() {
	tr.openNow++
	if tr.openNow > tr.maxOpenAt {
		tr.maxOpenAt = tr.openNow
	}
}

func (tr *openTracker) close() {
	tr.openNow--
}

func (s *trackingDataStream) Open(context.Context) error {
	s.openCount++
	s.tracker.open()
	s.r = bytes.NewReader(s.data)
	return nil
}

func (s *trackingDataStream) Read(_ context.Context, p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *trackingDataStream) Close(context.Context) error {
	s.closeCount++
	s.tracker.close()
	return nil
}

func TestEncoderOnlyOneStreamOpenAtATime(t *testing.T) {
	tracker := &openTracker{}
	var streams []*trackingDataStream
	var entries []*FileEntry
	for i := 0; i < 20; i++ {
		content := []byte(fmt.Sprintf("payload-%d", i))
		name := fmt.Sprintf("f%d.txt", i)
		entries = append(entries, NewFileEntry(name, Stored{}, func() DataStream {
			s := &trackingDataStream{data: content, tracker: tracker}
			streams = append(streams, s)
			return s
		}, uint64(len(content)), uint64(len(content)), crcOf(content), time.Time{}))
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	data := collect(t, enc)
	if len(data) == 0 {
		t.Fatal("expected non-empty output")
	}
	if tracker.maxOpenAt > 1 {
		t.Errorf("more than one DataStream was open at once: max concurrent = %d", tracker.maxOpenAt)
	}
	for _, s := range streams {
		if s.openCount != 1 {
			t.Errorf("stream opened %d times, want 1", s.openCount)
		}
		if s.closeCount != 1 {
			t.Errorf("stream closed %d times, want 1", s.closeCount)
		}
	}
}

// TestEncoderCloseDuringStreamingClosesOpenDataStream exercises
// cancellation: the consumer drops the output mid-archive, and the
// currently open DataStream must still be closed.
func TestEncoderCloseDuringStreamingClosesOpenDataStream(t *testing.T) {
	tracker := &openTracker{}
	stream := &trackingDataStream{data: bytes.Repeat([]byte("z"), 1<<20), tracker: tracker}
	entries := []*FileEntry{
		NewFileEntry("big.bin", Stored{}, func() DataStream { return stream }, 1<<20, 1<<20, crcOf(stream.data), time.Time{}),
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	r, err := enc.GetData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	// Drain past the header into the payload so the stream is open.
	for i := 0; i < 5; i++ {
		if _, err := r.Read(buf); err != nil {
			break
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if stream.closeCount != 1 {
		t.Errorf("DataStream closed %d times after cancellation, want 1", stream.closeCount)
	}
}

// repeatByteReaderAt serves an infinite run of the same byte, used with
// io.NewSectionReader to synthesize large test content without allocating
// it, the way zipserve's own tests build multi-gigabyte fixtures.
type repeatByteReaderAt struct {
	b byte
}

func (r repeatByteReaderAt) ReadAt(p []byte, _ int64) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}

func TestEncoderLargeEntryAcrossMultipleDeflateBlocks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large-entry test in short mode")
	}
	const size = 3*maxStoredBlock + 17

	backing := readerutil.NewMultiReaderAt(
		io.NewSectionReader(repeatByteReaderAt{'Z'}, 0, size),
	)

	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, io.NewSectionReader(backing, 0, backing.Size())); err != nil {
		t.Fatal(err)
	}

	var d Deflated
	entries := []*FileEntry{
		NewFileEntry("huge.bin", d, func() DataStream {
			return NewReaderDataStream(func() (io.Reader, error) {
				return io.NewSectionReader(backing, 0, backing.Size()), nil
			})
		}, uint64(size), d.WireLength(uint64(size)), crc.Sum32(), time.Time{}),
	}
	enc := NewEncoder(entries)
	if err := enc.Prepare(); err != nil {
		t.Fatal(err)
	}
	data := collect(t, enc)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != size {
		t.Fatalf("read back %d bytes, want %d", len(got), size)
	}
}
