package http_test

import (
	"context"
	"fmt"
	"io"
	gohttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JGoutin/rfs"
	httpbackend "github.com/JGoutin/rfs/backend/http"
)

// newTestServer serves one object at /data.bin with range support.
func newTestServer(t *testing.T, content string) (*httptest.Server, *rfs.System) {
	t.Helper()

	mux := gohttp.NewServeMux()
	mux.HandleFunc("/data.bin", func(w gohttp.ResponseWriter, r *gohttp.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("X-Object-Meta-Kind", "test")

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
			if r.Method == gohttp.MethodHead {
				return
			}
			_, _ = io.WriteString(w, content)
			return
		}

		var start, end int
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err == nil {
			end++
		} else if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err == nil {
			end = len(content)
		} else {
			gohttp.Error(w, "bad range", gohttp.StatusBadRequest)
			return
		}
		if start >= len(content) {
			gohttp.Error(w, "range not satisfiable", gohttp.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end > len(content) {
			end = len(content)
		}
		w.WriteHeader(gohttp.StatusPartialContent)
		_, _ = io.WriteString(w, content[start:end])
	})
	mux.HandleFunc("/forbidden", func(w gohttp.ResponseWriter, _ *gohttp.Request) {
		gohttp.Error(w, "forbidden", gohttp.StatusForbidden)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	sys, err := httpbackend.NewSystem(httpbackend.Config{Scheme: "http"})
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	return server, sys
}

func TestHeadObject(t *testing.T) {
	server, sys := newTestServer(t, "hello world")
	ctx := context.Background()

	st, err := sys.Stat(ctx, server.URL+"/data.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Size != int64(len("hello world")) {
		t.Errorf("Size = %d, want %d", st.Size, len("hello world"))
	}
	if st.Attrs["xobjectmetakind"] != "test" {
		t.Errorf("Attrs = %v", st.Attrs)
	}

	if _, err := sys.Stat(ctx, server.URL+"/missing"); !rfs.IsNotFound(err) {
		t.Errorf("Stat missing = %v, want ErrNotFound", err)
	}
	if _, err := sys.Stat(ctx, server.URL+"/forbidden"); !rfs.IsPermissionDenied(err) {
		t.Errorf("Stat forbidden = %v, want ErrPermissionDenied", err)
	}
}

func TestRangeReads(t *testing.T) {
	server, sys := newTestServer(t, "hello world")
	ctx := context.Background()

	f, err := sys.OpenRaw(ctx, server.URL+"/data.bin", rfs.ModeRead)
	if err != nil {
		t.Fatalf("OpenRaw failed: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 6); err != nil && err != io.EOF {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("ReadAt = %q, want %q", buf, "world")
	}

	// Past the end: end of stream, not an error.
	if _, err := f.ReadAt(buf, 100); err != io.EOF {
		t.Errorf("ReadAt past end = %v, want io.EOF", err)
	}
}

func TestBufferedRead(t *testing.T) {
	content := strings.Repeat("abcdefgh", 100)
	server, sys := newTestServer(t, content)
	ctx := context.Background()

	f, err := sys.OpenBuffered(ctx, server.URL+"/data.bin", rfs.ModeRead,
		rfs.StreamOptions{BufferSize: 64, MaxBuffers: 4, MaxWorkers: 4})
	if err != nil {
		t.Fatalf("OpenBuffered failed: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != content {
		t.Errorf("read %d bytes, want %d", len(got), len(content))
	}
}

func TestReadOnly(t *testing.T) {
	server, sys := newTestServer(t, "immutable")
	ctx := context.Background()

	if _, err := sys.OpenRaw(ctx, server.URL+"/data.bin", rfs.ModeWrite); !rfs.IsNotSupported(err) {
		t.Errorf("OpenRaw write = %v, want ErrNotSupported", err)
	}
	if err := sys.Remove(ctx, server.URL+"/data.bin"); !rfs.IsNotSupported(err) {
		t.Errorf("Remove = %v, want ErrNotSupported", err)
	}
	if err := sys.MakeDir(ctx, server.URL+"/dir"); !rfs.IsNotSupported(err) {
		t.Errorf("MakeDir = %v, want ErrNotSupported", err)
	}
}
