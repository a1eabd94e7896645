package rfs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/JGoutin/rfs"
	"github.com/JGoutin/rfs/backend/memory"
)

func TestBufferedStreamReadSizes(t *testing.T) {
	const bufferSize = 8
	sizes := []int{0, 1, bufferSize - 1, bufferSize, bufferSize + 1, 4*bufferSize + bufferSize/2}

	for _, size := range sizes {
		sys, backend := newMemorySystem(t)
		data := bytes.Repeat([]byte("x"), size)
		for i := range data {
			data[i] = byte('a' + i%26)
		}
		seed(t, backend, "bucket", map[string]string{"file.bin": string(data)})
		ctx := context.Background()

		f, err := sys.OpenBuffered(ctx, "mem://bucket/file.bin", rfs.ModeRead,
			rfs.StreamOptions{BufferSize: bufferSize, MaxBuffers: 2, MaxWorkers: 2})
		if err != nil {
			t.Fatalf("size %d: OpenBuffered failed: %v", size, err)
		}

		got, err := io.ReadAll(f)
		if err != nil {
			t.Fatalf("size %d: ReadAll failed: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: read %d bytes, want %d", size, len(got), len(data))
		}
		if err := f.Close(); err != nil {
			t.Errorf("size %d: Close failed: %v", size, err)
		}
	}
}

func TestBufferedStreamOrdering(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{"file.bin": "abcdefghij"})
	ctx := context.Background()

	// Delay the first chunk so later chunks complete first; delivery
	// order must still follow sequence numbers.
	backend.SetRangeHook(func(_ rfs.Addressing, start int64) {
		if start == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	})

	f, err := sys.OpenBuffered(ctx, "mem://bucket/file.bin", rfs.ModeRead,
		rfs.StreamOptions{BufferSize: 4, MaxBuffers: 2, MaxWorkers: 2})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "abcdefghij" {
		t.Errorf("read %q, want %q", got, "abcdefghij")
	}
}

func TestBufferedStreamSeek(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{"file.bin": "abcdefghij"})
	ctx := context.Background()

	f, err := sys.OpenBuffered(ctx, "mem://bucket/file.bin", rfs.ModeRead,
		rfs.StreamOptions{BufferSize: 4, MaxBuffers: 2, MaxWorkers: 2})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 2)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}

	// Discard the prefetch window and restart mid-object.
	if pos, err := f.Seek(6, io.SeekStart); err != nil || pos != 6 {
		t.Fatalf("Seek = (%d, %v), want (6, nil)", pos, err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "ghij" {
		t.Errorf("read %q, want %q", got, "ghij")
	}

	if pos, err := f.Seek(-4, io.SeekEnd); err != nil || pos != 6 {
		t.Fatalf("Seek end = (%d, %v), want (6, nil)", pos, err)
	}
	got, err = io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "ghij" {
		t.Errorf("read %q, want %q", got, "ghij")
	}
}

func TestBufferedStreamWriteMultipart(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", nil)
	ctx := context.Background()

	f, err := sys.OpenBuffered(ctx, "mem://bucket/out.bin", rfs.ModeWrite,
		rfs.StreamOptions{BufferSize: 4, MaxBuffers: 2, MaxWorkers: 2})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}

	// Ten bytes with four-byte parts: two full parts plus a final
	// partial one dispatched on Close.
	if _, err := f.Write([]byte("abcdefghij")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := backend.GetAll(ctx, rfs.Addressing{Locator: "bucket", Key: "out.bin"})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if string(data) != "abcdefghij" {
		t.Errorf("content = %q, want %q", data, "abcdefghij")
	}
	if n := backend.UploadCount(); n != 0 {
		t.Errorf("unfinished uploads = %d, want 0", n)
	}
}

func TestBufferedStreamWriteSmallObject(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", nil)
	ctx := context.Background()

	f, err := sys.OpenBuffered(ctx, "mem://bucket/small.txt", rfs.ModeWrite,
		rfs.StreamOptions{BufferSize: 64})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	if _, err := f.Write([]byte("tiny")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Never filled one buffer: written with a single put, no multipart
	// upload was ever created.
	if n := backend.UploadCount(); n != 0 {
		t.Errorf("unfinished uploads = %d, want 0", n)
	}
	data, err := backend.GetAll(ctx, rfs.Addressing{Locator: "bucket", Key: "small.txt"})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if string(data) != "tiny" {
		t.Errorf("content = %q, want %q", data, "tiny")
	}
}

func TestBufferedStreamWritePartFailure(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", nil)
	ctx := context.Background()

	partErr := errors.New("backend rejected part")
	backend.SetPartHook(func(partNumber int) error {
		if partNumber == 2 {
			return partErr
		}
		return nil
	})

	f, err := sys.OpenBuffered(ctx, "mem://bucket/fail.bin", rfs.ModeWrite,
		rfs.StreamOptions{BufferSize: 2, MaxBuffers: 2, MaxWorkers: 2})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	if _, err := f.Write([]byte("aabbcc")); err != nil && !errors.Is(err, partErr) {
		t.Fatalf("Write failed: %v", err)
	}

	// Close awaits every in-flight part, surfaces the failure, and
	// aborts instead of completing.
	if err := f.Close(); !errors.Is(err, partErr) {
		t.Fatalf("Close = %v, want %v", err, partErr)
	}
	if n := backend.UploadCount(); n != 0 {
		t.Errorf("unfinished uploads = %d, want 0", n)
	}
	if _, err := backend.GetAll(ctx, rfs.Addressing{Locator: "bucket", Key: "fail.bin"}); !rfs.IsNotFound(err) {
		t.Errorf("failed upload produced an object: %v", err)
	}
}

func TestBufferedStreamWriteNoMultipart(t *testing.T) {
	backend := memory.New()
	spec := memory.Spec()
	spec.Capabilities.Multipart = false
	sys, err := rfs.NewSystem(spec, func() (rfs.Client, error) { return backend, nil })
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	seed(t, backend, "bucket", nil)
	ctx := context.Background()

	f, err := sys.OpenBuffered(ctx, "mem://bucket/whole.bin", rfs.ModeWrite,
		rfs.StreamOptions{BufferSize: 2})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	if _, err := f.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The whole object went through a single put; no multipart upload
	// was ever created.
	if n := backend.UploadCount(); n != 0 {
		t.Errorf("multipart uploads = %d, want 0 for a non-multipart backend", n)
	}
	data, err := backend.GetAll(ctx, rfs.Addressing{Locator: "bucket", Key: "whole.bin"})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if string(data) != "abcdef" {
		t.Errorf("content = %q, want %q", data, "abcdef")
	}
}

func TestBufferedStreamModeValidation(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{"file.txt": "x"})
	ctx := context.Background()

	if _, err := sys.OpenBuffered(ctx, "mem://bucket/file.txt", rfs.ModeAppend, rfs.StreamOptions{}); err == nil {
		t.Error("append mode accepted on buffered stream")
	}
}
