package rfs_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/JGoutin/rfs"
)

// collect drains a lister into a name-indexed map.
func collect(t *testing.T, lister *rfs.ObjectLister) []rfs.ObjectEntry {
	t.Helper()
	ctx := context.Background()
	var entries []rfs.ObjectEntry
	for {
		entry, err := lister.Next(ctx)
		if errors.Is(err, io.EOF) {
			return entries
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		entries = append(entries, entry)
	}
}

func names(entries []rfs.ObjectEntry) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Name
	}
	return out
}

func equalNames(got []rfs.ObjectEntry, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Name != want[i] {
			return false
		}
	}
	return true
}

func TestListObjectsUnderLocator(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{
		"a/x.txt": "1",
		"a/y.txt": "22",
		"b.txt":   "333",
	})
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://bucket", false, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)
	if !equalNames(entries, []string{"a/x.txt", "a/y.txt", "b.txt"}) {
		t.Fatalf("entries = %v", names(entries))
	}

	// Headers ride along with the listing.
	size, err := sys.SizeFromHeader(entries[2].Header)
	if err != nil {
		t.Fatalf("SizeFromHeader failed: %v", err)
	}
	if size != 3 {
		t.Errorf("Size = %d, want 3", size)
	}
}

func TestListObjectsFirstLevel(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{
		"a/x.txt":   "1",
		"a/b/y.txt": "2",
		"c.txt":     "3",
	})
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://bucket", true, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)

	// Deeper subtrees collapse into one synthesized directory entry.
	if !equalNames(entries, []string{"a/", "c.txt"}) {
		t.Fatalf("entries = %v", names(entries))
	}
	if len(entries[0].Header) != 0 {
		t.Errorf("synthesized directory carries a header: %v", entries[0].Header)
	}
	if len(entries[1].Header) == 0 {
		t.Error("object entry lost its header")
	}
}

func TestListObjectsSubPath(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{
		"dir/x.txt":     "1",
		"dir/sub/y.txt": "2",
		"dir/":          "",
		"other.txt":     "3",
	})
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://bucket/dir/", false, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)

	// Names are relative to the path; the marker for the path itself is
	// skipped.
	if !equalNames(entries, []string{"sub/y.txt", "x.txt"}) {
		t.Fatalf("entries = %v", names(entries))
	}
}

func TestListObjectsMissingSubPath(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{"file.txt": "1"})
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://bucket/nothing/", false, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if _, err := lister.Next(ctx); !rfs.IsNotFound(err) {
		t.Errorf("Next = %v, want ErrNotFound", err)
	}
}

func TestListObjectsPagination(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "bucket", map[string]string{
		"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
	})
	ctx := context.Background()

	// Page size 2 forces three backend pages behind one cursor.
	lister, err := sys.ListObjects(ctx, "mem://bucket", false, 2)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)
	if !equalNames(entries, []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("entries = %v", names(entries))
	}
}

func TestListFromRoot(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "alpha", map[string]string{"x.txt": "1"})
	seed(t, backend, "beta", map[string]string{"y.txt": "2"})
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://", false, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)
	if !equalNames(entries, []string{"alpha", "alpha/x.txt", "beta", "beta/y.txt"}) {
		t.Fatalf("entries = %v", names(entries))
	}
}

func TestListFromRootFirstLevel(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "alpha", map[string]string{"x.txt": "1"})
	seed(t, backend, "beta", nil)
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://", true, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)
	if !equalNames(entries, []string{"alpha", "beta"}) {
		t.Fatalf("entries = %v", names(entries))
	}
}

func TestListFromRootSkipsDeniedLocator(t *testing.T) {
	sys, backend := newMemorySystem(t)
	seed(t, backend, "alpha", map[string]string{"x.txt": "1"})
	seed(t, backend, "denied", map[string]string{"secret.txt": "2"})
	seed(t, backend, "gamma", map[string]string{"z.txt": "3"})
	backend.DenyContents("denied")
	ctx := context.Background()

	lister, err := sys.ListObjects(ctx, "mem://", false, 0)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	entries := collect(t, lister)

	// The denied locator itself is listed; its contents are skipped and
	// enumeration continues with the next locator.
	if !equalNames(entries, []string{"alpha", "alpha/x.txt", "denied", "gamma", "gamma/z.txt"}) {
		t.Fatalf("entries = %v", names(entries))
	}
}
