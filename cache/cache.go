// Package cache provides an expiry-keyed disk cache for backend request
// results (headers, listings).
//
// Entries are stored in two modes:
//   - short: discarded once a fixed expiry delay is reached.
//   - long: a far greater delay, reset on every successful read. Useful
//     for data that will not change.
//
// A Cache is an explicit component: its directory and clock are injected
// at construction and it is passed by reference to consumers. Consumers
// must function correctly without one; a miss always means "fall
// through to the backend".
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// ErrNoCache is returned by Get when no valid entry exists.
var ErrNoCache = errors.New("cache: entry not available")

// Default expiry delays.
const (
	DefaultShortExpiry = time.Minute
	DefaultLongExpiry  = 48 * time.Hour
)

// Clock returns the current time. Injected for testability.
type Clock func() time.Time

type memEntry struct {
	data     []byte
	storedAt time.Time
}

// Cache is a disk-backed key/value store with per-mode expiry and an
// in-memory LRU front. Entry names are opaque strings hashed into file
// names.
type Cache struct {
	dir         string
	clock       Clock
	shortExpiry time.Duration
	longExpiry  time.Duration
	mem         *lru.Cache[string, memEntry]
	log         *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithExpiry overrides the short and long expiry delays.
func WithExpiry(short, long time.Duration) Option {
	return func(c *Cache) {
		if short > 0 {
			c.shortExpiry = short
		}
		if long > 0 {
			c.longExpiry = long
		}
	}
}

// WithLogger attaches a structured logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: creating directory: %w", err)
	}
	c := &Cache{
		dir:         dir,
		clock:       time.Now,
		shortExpiry: DefaultShortExpiry,
		longExpiry:  DefaultLongExpiry,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	mem, err := lru.New[string, memEntry](256)
	if err != nil {
		return nil, err
	}
	c.mem = mem
	return c, nil
}

// hashName converts an entry name into its on-disk file name. The mode
// suffix keeps short and long entries distinct.
func hashName(name string, long bool) string {
	sum := blake2b.Sum256([]byte(name))
	suffix := "s"
	if long {
		suffix = "l"
	}
	return hex.EncodeToString(sum[:]) + suffix
}

func (c *Cache) expiry(long bool) time.Duration {
	if long {
		return c.longExpiry
	}
	return c.shortExpiry
}

// Get returns the cached data for name, trying the short entry first and
// the long entry next. Reading a long entry resets its expiry delay.
// Returns ErrNoCache when nothing valid is cached.
func (c *Cache) Get(name string) ([]byte, error) {
	now := c.clock()

	for _, long := range []bool{false, true} {
		hashed := hashName(name, long)

		if entry, ok := c.mem.Get(hashed); ok {
			if now.Sub(entry.storedAt) < c.expiry(long) {
				if long {
					c.touch(hashed, now)
				}
				return entry.data, nil
			}
			c.mem.Remove(hashed)
		}

		path := filepath.Join(c.dir, hashed)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= c.expiry(long) {
			_ = os.Remove(path)
			continue
		}
		data, err := c.readEntry(path)
		if err != nil {
			c.log.Debug("cache entry unreadable", zap.String("path", path), zap.Error(err))
			_ = os.Remove(path)
			continue
		}
		if long {
			c.touch(hashed, now)
		}
		c.mem.Add(hashed, memEntry{data: data, storedAt: now})
		return data, nil
	}
	return nil, ErrNoCache
}

// touch resets a long entry's expiry delay.
func (c *Cache) touch(hashed string, now time.Time) {
	path := filepath.Join(c.dir, hashed)
	_ = os.Chtimes(path, now, now)
	if entry, ok := c.mem.Get(hashed); ok {
		entry.storedAt = now
		c.mem.Add(hashed, entry)
	}
}

// Set stores data under name in short mode, or long mode when long is
// true.
func (c *Cache) Set(name string, data []byte, long bool) error {
	hashed := hashName(name, long)
	path := filepath.Join(c.dir, hashed)

	if err := c.writeEntry(path, data); err != nil {
		return err
	}
	c.mem.Add(hashed, memEntry{data: data, storedAt: c.clock()})
	return nil
}

// Clear removes every expired entry from the directory.
func (c *Cache) Clear() error {
	now := c.clock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("cache: reading directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "" {
			continue
		}
		long := name[len(name)-1] == 'l'
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= c.expiry(long) {
			_ = os.Remove(filepath.Join(c.dir, name))
			c.mem.Remove(name)
		}
	}
	return nil
}

func (c *Cache) readEntry(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (c *Cache) writeEntry(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("cache: writing entry: %w", err)
	}

	zw := gzip.NewWriter(file)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		_ = file.Close()
		return fmt.Errorf("cache: compressing entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("cache: compressing entry: %w", err)
	}
	return file.Close()
}
