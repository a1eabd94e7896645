package cache_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/JGoutin/rfs/cache"
)

// testClock is an adjustable time source.
type testClock struct {
	now time.Time
}

func (c *testClock) time() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T) (*cache.Cache, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Now()}
	c, err := cache.New(t.TempDir(), cache.WithClock(clock.time))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, clock
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)

	data := []byte(`{"Content-Length":"10"}`)
	if err := c.Set("s3#head#bucket/key", data, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get("s3#head#bucket/key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	if _, err := c.Get("unknown"); !errors.Is(err, cache.ErrNoCache) {
		t.Errorf("Get unknown = %v, want ErrNoCache", err)
	}
}

func TestShortEntryExpires(t *testing.T) {
	c, clock := newTestCache(t)

	if err := c.Set("entry", []byte("data"), false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.advance(cache.DefaultShortExpiry / 2)
	if _, err := c.Get("entry"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	clock.advance(cache.DefaultShortExpiry)
	if _, err := c.Get("entry"); !errors.Is(err, cache.ErrNoCache) {
		t.Errorf("Get after expiry = %v, want ErrNoCache", err)
	}
}

func TestLongEntryRefreshesOnRead(t *testing.T) {
	c, clock := newTestCache(t)

	if err := c.Set("entry", []byte("data"), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Each read inside the expiry delay resets it, so an entry read
	// regularly outlives its nominal expiry.
	for i := 0; i < 4; i++ {
		clock.advance(cache.DefaultLongExpiry * 3 / 4)
		if _, err := c.Get("entry"); err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
	}

	clock.advance(cache.DefaultLongExpiry + time.Minute)
	if _, err := c.Get("entry"); !errors.Is(err, cache.ErrNoCache) {
		t.Errorf("Get after expiry = %v, want ErrNoCache", err)
	}
}

func TestShortAndLongEntriesAreDistinct(t *testing.T) {
	c, clock := newTestCache(t)

	if err := c.Set("entry", []byte("short"), false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set("entry", []byte("long"), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The short entry wins while it lives.
	got, err := c.Get("entry")
	if err != nil || string(got) != "short" {
		t.Fatalf("Get = (%q, %v), want short entry", got, err)
	}

	// After its expiry the long entry still answers.
	clock.advance(cache.DefaultShortExpiry * 2)
	got, err = c.Get("entry")
	if err != nil || string(got) != "long" {
		t.Errorf("Get = (%q, %v), want long entry", got, err)
	}
}

func TestGetSurvivesMemoryEviction(t *testing.T) {
	clock := &testClock{now: time.Now()}
	dir := t.TempDir()
	c, err := cache.New(dir, cache.WithClock(clock.time))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.Set("entry", []byte("data"), false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A fresh cache over the same directory has a cold memory front and
	// must fall back to the disk entry.
	c2, err := cache.New(dir, cache.WithClock(clock.time))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := c2.Get("entry")
	if err != nil || string(got) != "data" {
		t.Errorf("Get = (%q, %v), want disk entry", got, err)
	}
}

func TestClearRemovesExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Now()}
	c, err := cache.New(dir, cache.WithClock(clock.time), cache.WithExpiry(time.Minute, time.Hour))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := c.Set("short", []byte("s"), false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set("long", []byte("l"), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.advance(30 * time.Minute)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries after Clear = %d, want 1 (the long entry)", len(entries))
	}
	if name := entries[0].Name(); name[len(name)-1] != 'l' {
		t.Errorf("surviving entry = %q, want a long-mode entry", name)
	}
}
