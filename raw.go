package rfs

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// RawStream is one physical stream bound to one resolved addressing.
//
// In read mode every Read issues exactly one backend range request; an
// out-of-range request reports end of stream instead of an error, which
// unifies backends whose out-of-range semantics differ. In write mode
// bytes accumulate in memory and are flushed as a whole-object put on
// Flush or Close. Seek-then-write is only permitted when the backend
// declares the RandomWrite capability; gaps are zero-filled in the
// accumulation buffer.
//
// RawStream implements io.Reader, io.ReaderAt, io.Writer, io.Seeker and
// io.Closer. It is safe for concurrent use of independent ReadAt calls;
// position-based calls require external coordination.
type RawStream struct {
	sys    *System
	client Client
	addr   Addressing
	name   string
	mode   Mode
	ctx    context.Context

	mu        sync.Mutex
	closed    bool
	pos       int64
	size      int64
	sizeKnown bool
	wbuf      []byte
	flushed   bool
}

// OpenRaw opens a raw stream on path. Read mode verifies the object
// exists and captures its size. Write mode requires the Write
// capability; append mode additionally preloads the current content.
func (s *System) OpenRaw(ctx context.Context, path string, mode Mode) (*RawStream, error) {
	client, err := s.Client()
	if err != nil {
		return nil, err
	}
	f := &RawStream{
		sys:    s,
		client: client,
		addr:   s.addressing(path),
		name:   path,
		mode:   mode,
		ctx:    ctx,
	}

	switch mode {
	case ModeRead:
		header, err := s.Head(ctx, path)
		if err != nil {
			return nil, err
		}
		if size, err := s.SizeFromHeader(header); err == nil {
			f.size = size
			f.sizeKnown = true
		}
	case ModeWrite, ModeAppend:
		if !s.spec.Capabilities.Write {
			return nil, withPath(ErrNotSupported, path)
		}
		if mode == ModeAppend {
			data, err := client.GetAll(ctx, f.addr)
			if err != nil && !IsNotFound(err) {
				return nil, withPath(err, path)
			}
			f.wbuf = data
			f.pos = int64(len(data))
		}
	default:
		return nil, fmt.Errorf("rfs: invalid stream mode %q", mode)
	}
	return f, nil
}

// Name returns the path the stream was opened on.
func (f *RawStream) Name() string { return f.name }

// Read reads from the current position with a single range request.
func (f *RawStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode != ModeRead {
		return 0, withPath(ErrNotSupported, f.name)
	}
	if len(p) == 0 {
		return 0, nil
	}
	data, err := f.rangeAt(f.ctx, f.pos, f.pos+int64(len(p)))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	f.pos += int64(n)
	return n, nil
}

// ReadAt reads len(p) bytes at offset off without moving the stream
// position.
func (f *RawStream) ReadAt(p []byte, off int64) (int, error) {
	if f.mode != ModeRead {
		return 0, withPath(ErrNotSupported, f.name)
	}
	data, err := f.rangeAt(f.ctx, off, off+int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadAll reads the remaining content. From position zero it issues one
// unranged request.
func (f *RawStream) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStreamClosed
	}
	if f.mode != ModeRead {
		return nil, withPath(ErrNotSupported, f.name)
	}
	var data []byte
	var err error
	if f.pos == 0 {
		data, err = f.client.GetAll(f.ctx, f.addr)
	} else {
		data, err = f.rangeAt(f.ctx, f.pos, 0)
	}
	if err != nil {
		return nil, withPath(err, f.name)
	}
	f.pos += int64(len(data))
	return data, nil
}

// rangeAt issues one backend range request for [start, end), end <= 0
// meaning unbounded. A start at or past the object length yields an
// empty result.
func (f *RawStream) rangeAt(ctx context.Context, start, end int64) ([]byte, error) {
	data, err := f.client.GetRange(ctx, f.addr, start, end)
	if err != nil {
		return nil, withPath(err, f.name)
	}
	return data, nil
}

// Write appends to the accumulation buffer at the current position.
func (f *RawStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode == ModeRead {
		return 0, withPath(ErrNotSupported, f.name)
	}
	end := f.pos + int64(len(p))
	if grow := end - int64(len(f.wbuf)); grow > 0 {
		f.wbuf = append(f.wbuf, make([]byte, grow)...)
	}
	copy(f.wbuf[f.pos:end], p)
	f.pos = end
	f.flushed = false
	return len(p), nil
}

// Seek sets the stream position. In write mode seeking requires the
// RandomWrite capability; the resulting gap, if any, reads as zeros.
func (f *RawStream) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode != ModeRead && !f.sys.spec.Capabilities.RandomWrite {
		return 0, withPath(ErrNotSupported, f.name)
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		end, err := f.endOffset()
		if err != nil {
			return 0, err
		}
		base = end
	default:
		return 0, fmt.Errorf("rfs: invalid seek whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("rfs: negative seek position %d", pos)
	}
	f.pos = pos
	return pos, nil
}

func (f *RawStream) endOffset() (int64, error) {
	if f.mode != ModeRead {
		return int64(len(f.wbuf)), nil
	}
	if !f.sizeKnown {
		size, err := f.sys.Size(f.ctx, f.name)
		if err != nil {
			return 0, err
		}
		f.size = size
		f.sizeKnown = true
	}
	return f.size, nil
}

// Flush uploads the accumulated content as one whole-object put.
func (f *RawStream) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStreamClosed
	}
	return f.flushLocked()
}

func (f *RawStream) flushLocked() error {
	if f.mode == ModeRead || f.flushed {
		return nil
	}
	if err := f.client.Put(f.ctx, f.addr, f.wbuf); err != nil {
		return withPath(err, f.name)
	}
	f.flushed = true
	return nil
}

// Close flushes pending writes and releases the stream. Closing twice is
// a no-op.
func (f *RawStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	err := f.flushLocked()
	f.closed = true
	return err
}
