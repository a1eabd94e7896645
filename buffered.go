package rfs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Buffered stream defaults.
const (
	// DefaultBufferSize is the chunk size when none is requested.
	DefaultBufferSize = 8 << 20

	// DefaultMaxBuffers bounds the chunks concurrently in flight when no
	// explicit cap is requested. Prefetch windows and multipart
	// backpressure need a finite bound.
	DefaultMaxBuffers = 8

	// DefaultMaxWorkers is the worker pool size when none is requested.
	DefaultMaxWorkers = 8
)

// StreamOptions tunes a buffered stream.
type StreamOptions struct {
	// BufferSize is the chunk size in bytes. It is clamped to the
	// backend's minimum multipart part size. 0 means DefaultBufferSize.
	BufferSize int

	// MaxBuffers caps the chunks concurrently in flight: prefetched but
	// unconsumed in read mode, dispatched but unacknowledged in write
	// mode. Producing past the cap blocks until an older chunk is
	// consumed or acknowledged. 0 means DefaultMaxBuffers.
	MaxBuffers int

	// MaxWorkers caps the parallelism of the stream's worker pool,
	// independent of MaxBuffers. 0 means DefaultMaxWorkers.
	MaxWorkers int
}

// fetchResult carries one prefetched chunk from a worker to the consumer.
type fetchResult struct {
	data []byte
	err  error
}

// BufferedStream layers fixed-size chunking and a bounded worker pool
// over a RawStream.
//
// In read mode, workers prefetch the next chunks concurrently; chunks
// are requested in increasing sequence order and delivered to the
// consumer strictly in that order even when the backend completes them
// out of order. In write mode, each filled buffer is dispatched as an
// asynchronous multipart part upload tagged with its sequence number,
// and Close assembles the completed parts in sequence order.
//
// A BufferedStream is intended for a single consumer or producer
// goroutine; the worker pool behind it is internal.
type BufferedStream struct {
	raw  *RawStream
	sys  *System
	log  *zap.Logger
	mode Mode
	ctx  context.Context

	bufferSize int
	maxBuffers int
	pool       *ants.Pool
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// Read state. Chunk seq i covers [base+i*bufferSize, base+(i+1)*
	// bufferSize); slots is the reorder window indexed by seq modulo
	// maxBuffers, one future per in-flight chunk.
	base      int64
	slots     []chan fetchResult
	nextFetch int64
	nextServe int64
	cur       []byte
	curOff    int
	lastShort bool
	eof       bool
	rerr      error

	// Write state.
	wbuf      []byte
	partNum   int
	uploadID  string
	started   bool
	multipart bool
	sem       chan struct{}
	partsMu   sync.Mutex
	parts     []Part
	werr      error
}

// OpenBuffered opens a buffered stream on path. Read mode verifies the
// object exists; write mode requires the Write capability. Backends
// without the Multipart capability fall back to accumulating writes and
// issuing a single whole-object put on Close.
func (s *System) OpenBuffered(ctx context.Context, path string, mode Mode, opts StreamOptions) (*BufferedStream, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("rfs: invalid buffered stream mode %q", mode)
	}
	raw, err := s.OpenRaw(ctx, path, mode)
	if err != nil {
		return nil, err
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if mode == ModeWrite && bufferSize < s.spec.MinPartSize {
		bufferSize = s.spec.MinPartSize
	}
	maxBuffers := opts.MaxBuffers
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxBuffers
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	pool, err := ants.NewPool(maxWorkers)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("rfs: creating worker pool: %w", err)
	}

	f := &BufferedStream{
		raw:        raw,
		sys:        s,
		log:        s.log,
		mode:       mode,
		ctx:        ctx,
		bufferSize: bufferSize,
		maxBuffers: maxBuffers,
		pool:       pool,
		multipart:  s.spec.Capabilities.Multipart,
	}
	if mode == ModeRead {
		f.slots = make([]chan fetchResult, maxBuffers)
	} else {
		f.partNum = 1
		f.sem = make(chan struct{}, maxBuffers)
		if f.multipart {
			f.wbuf = make([]byte, 0, bufferSize)
		}
	}
	return f, nil
}

// Name returns the path the stream was opened on.
func (f *BufferedStream) Name() string { return f.raw.Name() }

// schedule issues the prefetch for chunk seq into its window slot. The
// result channel is buffered so a stale or abandoned fetch never blocks
// a worker.
func (f *BufferedStream) schedule(seq int64) {
	ch := make(chan fetchResult, 1)
	f.slots[seq%int64(f.maxBuffers)] = ch
	start := f.base + seq*int64(f.bufferSize)
	end := start + int64(f.bufferSize)

	f.wg.Add(1)
	err := f.pool.Submit(func() {
		defer f.wg.Done()
		data, err := f.raw.rangeAt(f.ctx, start, end)
		ch <- fetchResult{data: data, err: err}
	})
	if err != nil {
		f.wg.Done()
		ch <- fetchResult{err: fmt.Errorf("rfs: prefetch dispatch: %w", err)}
	}
}

// fillWindow keeps the prefetch window full: chunks are requested in
// increasing sequence order, at most maxBuffers ahead of consumption.
func (f *BufferedStream) fillWindow() {
	if f.eof || f.lastShort || f.rerr != nil {
		return
	}
	horizon := f.nextServe + int64(f.maxBuffers)
	for f.nextFetch < horizon {
		start := f.base + f.nextFetch*int64(f.bufferSize)
		if f.raw.sizeKnown && start >= f.raw.size {
			break
		}
		f.schedule(f.nextFetch)
		f.nextFetch++
	}
}

// advance blocks on the future of the next chunk in sequence. Fetches
// for later chunks may already have completed; delivery order is fixed
// by sequence number alone.
func (f *BufferedStream) advance() error {
	if f.rerr != nil {
		return f.rerr
	}
	if f.lastShort || f.eof {
		f.eof = true
		return io.EOF
	}
	f.fillWindow()
	if f.nextServe >= f.nextFetch {
		// Nothing scheduled: the known size was reached.
		f.eof = true
		return io.EOF
	}

	res := <-f.slots[f.nextServe%int64(f.maxBuffers)]
	f.nextServe++
	if res.err != nil {
		f.rerr = res.err
		return res.err
	}
	if len(res.data) == 0 {
		f.eof = true
		return io.EOF
	}
	f.cur = res.data
	f.curOff = 0
	if len(res.data) < f.bufferSize {
		// A short chunk is the last one; later prefetches are empty.
		f.lastShort = true
	}
	f.fillWindow()
	return nil
}

// Read drains the current chunk and awaits the next one in sequence when
// exhausted.
func (f *BufferedStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode != ModeRead {
		return 0, withPath(ErrNotSupported, f.Name())
	}

	total := 0
	for total < len(p) {
		if f.curOff >= len(f.cur) {
			if err := f.advance(); err != nil {
				if total > 0 && err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
		n := copy(p[total:], f.cur[f.curOff:])
		f.curOff += n
		total += n
	}
	return total, nil
}

// Seek repositions the read stream. The prefetch window is discarded and
// restarts at the new offset; fetches already in flight complete into
// their abandoned futures and are ignored.
func (f *BufferedStream) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode != ModeRead {
		return 0, withPath(ErrNotSupported, f.Name())
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.position()
	case io.SeekEnd:
		end, err := f.raw.endOffset()
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

	f.base = pos
	f.slots = make([]chan fetchResult, f.maxBuffers)
	f.nextFetch = 0
	f.nextServe = 0
	f.cur = nil
	f.curOff = 0
	f.lastShort = false
	f.eof = false
	f.rerr = nil
	return pos, nil
}

// position is the absolute offset of the next byte Read will deliver.
func (f *BufferedStream) position() int64 {
	if f.cur == nil {
		return f.base
	}
	chunkStart := f.base + (f.nextServe-1)*int64(f.bufferSize)
	return chunkStart + int64(f.curOff)
}

// Write fills the current buffer and dispatches it as an asynchronous
// part upload when full; a fresh buffer opens immediately so the caller
// is not blocked on the network. Once MaxBuffers parts are in flight,
// Write blocks until one is acknowledged.
func (f *BufferedStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrStreamClosed
	}
	if f.mode != ModeWrite {
		return 0, withPath(ErrNotSupported, f.Name())
	}
	if !f.multipart {
		return f.raw.Write(p)
	}
	if err := f.writeError(); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		room := f.bufferSize - len(f.wbuf)
		take := len(p) - total
		if take > room {
			take = room
		}
		f.wbuf = append(f.wbuf, p[total:total+take]...)
		total += take
		if len(f.wbuf) == f.bufferSize {
			if err := f.dispatch(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (f *BufferedStream) writeError() error {
	f.partsMu.Lock()
	defer f.partsMu.Unlock()
	return f.werr
}

// dispatch hands the filled buffer to a worker as part number partNum and
// opens a fresh buffer. The multipart upload is created lazily on the
// first dispatch.
func (f *BufferedStream) dispatch() error {
	if !f.started {
		uploadID, err := f.raw.client.CreateUpload(f.ctx, f.raw.addr)
		if err != nil {
			return withPath(err, f.Name())
		}
		f.uploadID = uploadID
		f.started = true
	}

	data := f.wbuf
	f.wbuf = make([]byte, 0, f.bufferSize)
	seq := f.partNum
	f.partNum++

	// Backpressure: cap the parts in flight.
	f.sem <- struct{}{}

	f.wg.Add(1)
	err := f.pool.Submit(func() {
		defer f.wg.Done()
		defer func() { <-f.sem }()
		token, err := f.raw.client.PutPart(f.ctx, f.raw.addr, f.uploadID, seq, data)
		f.partsMu.Lock()
		defer f.partsMu.Unlock()
		if err != nil {
			if f.werr == nil {
				f.werr = withPath(err, f.Name())
			}
			f.log.Debug("part upload failed",
				zap.String("path", f.Name()), zap.Int("part", seq), zap.Error(err))
			return
		}
		f.parts = append(f.parts, Part{Number: seq, Token: token})
	})
	if err != nil {
		f.wg.Done()
		<-f.sem
		return fmt.Errorf("rfs: part dispatch: %w", err)
	}
	return nil
}

// Close completes the stream.
//
// In write mode it dispatches the final partial buffer, awaits every
// in-flight part (even after a failure, so no pool resources or orphaned
// parts leak), then either completes the upload with the parts sorted by
// sequence number or, if any part failed, aborts the upload and surfaces
// the first error without ever issuing the completion call. An object
// small enough to never have filled one buffer is written with a single
// whole-object put instead.
func (f *BufferedStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	defer f.pool.Release()

	if f.mode == ModeRead {
		// Drain in-flight prefetches before releasing the pool; their
		// futures are buffered so none of them blocks.
		f.wg.Wait()
		return f.raw.Close()
	}

	if !f.multipart {
		f.wg.Wait()
		return f.raw.Close()
	}

	if !f.started {
		// Everything fit in one buffer: one whole-object put.
		if _, err := f.raw.Write(f.wbuf); err != nil {
			return err
		}
		return f.raw.Close()
	}

	if len(f.wbuf) > 0 {
		if err := f.dispatch(); err != nil {
			f.wg.Wait()
			f.abort()
			return err
		}
	}

	// AwaitAllParts barrier: every dispatched part resolves before the
	// outcome is decided.
	f.wg.Wait()

	f.partsMu.Lock()
	werr := f.werr
	parts := f.parts
	f.partsMu.Unlock()

	if werr != nil {
		f.abort()
		return werr
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	if err := f.raw.client.CompleteUpload(f.ctx, f.raw.addr, f.uploadID, parts); err != nil {
		return withPath(err, f.Name())
	}
	f.log.Debug("multipart upload completed",
		zap.String("path", f.Name()), zap.Int("parts", len(parts)))
	return nil
}

// abort discards the unfinished upload when the backend supports it.
func (f *BufferedStream) abort() {
	if err := f.raw.client.AbortUpload(f.ctx, f.raw.addr, f.uploadID); err != nil && !IsNotSupported(err) {
		f.log.Debug("multipart abort failed",
			zap.String("path", f.Name()), zap.Error(err))
	}
}
