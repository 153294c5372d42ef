package livezip

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// encoderState tracks the Unprepared -> Prepared -> Streaming progression.
// The end of the stream (Done) is not recorded here; the archiveReader
// returned by GetData tracks it as phaseDone.
type encoderState int

const (
	stateUnprepared encoderState = iota
	statePrepared
	stateStreaming
)

// Encoder plans a ZIP64 archive from a list of FileEntry and produces it
// as a lazy, forward-only byte stream.
//
// Encoder is not safe for concurrent use by multiple goroutines, except
// that the io.ReadCloser returned by GetData may be closed from a
// different goroutine than the one reading it, to support cancellation.
type Encoder struct {
	entries []*FileEntry

	mu    sync.Mutex
	state encoderState
	plan  *Plan
}

// NewEncoder builds an Encoder over entries. The Encoder takes ownership
// of entries and its Plan; entries must not be modified afterward.
func NewEncoder(entries []*FileEntry) *Encoder {
	return &Encoder{entries: entries}
}

// Prepare computes the Plan: a byte offset for each entry's local header
// and the total archive size. It performs no I/O. Prepare is idempotent;
// calling it again after a successful call is a no-op.
func (enc *Encoder) Prepare() error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.plan != nil {
		return nil
	}
	plan, err := buildPlan(enc.entries)
	if err != nil {
		return err
	}
	enc.plan = plan
	enc.state = statePrepared
	return nil
}

// TotalSize returns the planned archive length in bytes. It returns
// ErrPlanMissing if Prepare has not been called successfully.
func (enc *Encoder) TotalSize() (uint64, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.plan == nil {
		return 0, ErrPlanMissing
	}
	return enc.plan.TotalSize, nil
}

// GetData returns a lazy io.ReadCloser over the archive bytes. It returns
// ErrPlanMissing if Prepare has not been called successfully. GetData may
// be called only once per Encoder.
//
// The returned reader suspends internally whenever it awaits a chunk from
// an entry's DataStream; it pulls from exactly one DataStream at a time
// and never holds more than one chunk in memory at once. Closing the
// reader before it is fully drained closes whichever DataStream is
// currently open.
func (enc *Encoder) GetData(ctx context.Context) (io.ReadCloser, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.plan == nil {
		return nil, ErrPlanMissing
	}
	if enc.state == stateStreaming {
		return nil, errors.New("livezip: GetData already called")
	}
	enc.state = stateStreaming
	return newArchiveReader(ctx, enc.entries, enc.plan), nil
}

// archive phases, in emission order.
type phase int

const (
	phaseEntryHeader phase = iota
	phaseEntryPayload
	phaseCentralDirectory
	phaseTrailer
	phaseDone
)

// archiveReader is the Encoder's lazy producer: a pull-based io.ReadCloser
// that advances a small state machine one segment at a time.
type archiveReader struct {
	ctx     context.Context
	entries []*FileEntry
	plan    *Plan

	phase         phase
	entryIdx      int
	cdIdx         int
	cur           io.Reader
	payloadOpened bool // guards phaseEntryPayload's two sub-steps; touched only by Read's goroutine

	streamMu     sync.Mutex
	openStream   DataStream
	openStreamOf string

	err error
}

func newArchiveReader(ctx context.Context, entries []*FileEntry, plan *Plan) *archiveReader {
	return &archiveReader{ctx: ctx, entries: entries, plan: plan, phase: phaseEntryHeader}
}

func (a *archiveReader) Read(p []byte) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	for {
		if a.cur != nil {
			n, err := a.cur.Read(p)
			if n > 0 {
				return n, nil
			}
			if err == nil {
				continue
			}
			if err != io.EOF {
				a.fail(err)
				return 0, err
			}
			a.cur = nil
			continue
		}
		if a.phase == phaseDone {
			a.err = io.EOF
			return 0, io.EOF
		}
		if err := a.advance(); err != nil {
			a.fail(err)
			return 0, err
		}
	}
}

// fail records a sticky error and closes whatever DataStream is open: the
// currently open DataStream is always closed before the error propagates.
func (a *archiveReader) fail(err error) {
	a.err = err
	a.closeOpenStream()
}

// Close implements io.Closer. If the consumer drops the stream mid-
// archive, it closes the currently open DataStream.
func (a *archiveReader) Close() error {
	a.closeOpenStream()
	if a.err == nil {
		a.err = errors.New("livezip: archive reader closed")
	}
	return nil
}

func (a *archiveReader) closeOpenStream() {
	a.streamMu.Lock()
	stream, name := a.openStream, a.openStreamOf
	a.openStream, a.openStreamOf = nil, ""
	a.streamMu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Close(a.ctx); err != nil && a.err == nil {
		a.err = &UpstreamError{Name: name, Op: "close", Err: err}
	}
}

// advance moves the state machine forward by exactly one step: it either
// assigns a.cur to the next segment's reader, or changes a.phase (when a
// phase has no more segments), or both. It is always called with a.cur
// == nil.
func (a *archiveReader) advance() error {
	switch a.phase {
	case phaseEntryHeader:
		if a.entryIdx >= len(a.entries) {
			a.phase = phaseCentralDirectory
			return nil
		}
		e := a.entries[a.entryIdx]
		a.cur = bytes.NewReader(buildLocalFileHeader(e))
		a.phase = phaseEntryPayload
		return nil

	case phaseEntryPayload:
		e := a.entries[a.entryIdx]
		if !a.payloadOpened {
			stream := e.NewStream()
			if err := stream.Open(a.ctx); err != nil {
				return &UpstreamError{Name: e.Name, Op: "open", Err: err}
			}
			a.streamMu.Lock()
			a.openStream, a.openStreamOf = stream, e.Name
			a.streamMu.Unlock()
			a.payloadOpened = true

			src := ctxReader{ctx: a.ctx, stream: stream, name: e.Name}
			wrapped := e.Storage.Wrap(src, e.UncompressedSize)
			a.cur = &payloadReader{wrapped: wrapped, declared: e.CompressedSize, name: e.Name}
			return nil
		}
		// The payload reader for this entry has been fully drained:
		// close its stream and move on to the next entry's header.
		a.closeOpenStream()
		if a.err != nil {
			return a.err
		}
		a.payloadOpened = false
		a.entryIdx++
		a.phase = phaseEntryHeader
		return nil

	case phaseCentralDirectory:
		if a.cdIdx >= len(a.entries) {
			a.phase = phaseTrailer
			return nil
		}
		e := a.entries[a.cdIdx]
		a.cur = bytes.NewReader(buildCentralDirectoryHeader(e, a.plan.Offsets[a.cdIdx]))
		a.cdIdx++
		return nil

	case phaseTrailer:
		a.cur = bytes.NewReader(buildTrailer(len(a.entries), a.plan.CentralDirectoryOffset, a.plan.CentralDirectorySize))
		a.phase = phaseDone
		return nil
	}
	return nil
}

// payloadReader enforces the size contract: the number of bytes a
// Storage-wrapped stream emits for an entry must equal its declared
// compressed size exactly, no more and no less.
type payloadReader struct {
	wrapped  io.Reader
	declared uint64
	emitted  uint64
	name     string
}

func (r *payloadReader) Read(p []byte) (int, error) {
	if r.emitted >= r.declared {
		// The declared length has been reached; any further byte is an
		// overrun, and a clean io.EOF here is the expected ending.
		var probe [1]byte
		n, err := r.wrapped.Read(probe[:])
		if n > 0 {
			return 0, &SizeMismatchError{Name: r.name, Declared: r.declared, Got: r.emitted + uint64(n)}
		}
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		return 0, nil
	}

	remaining := r.declared - r.emitted
	if uint64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.wrapped.Read(p)
	r.emitted += uint64(n)
	if err == io.EOF {
		if r.emitted < r.declared {
			return n, &SizeMismatchError{Name: r.name, Declared: r.declared, Got: r.emitted}
		}
		return n, io.EOF
	}
	return n, err
}
