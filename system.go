package rfs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JGoutin/rfs/cache"
)

// Capabilities declares which optional operations a backend natively
// supports. The System raises ErrNotSupported proactively, before any
// backend call, when a capability is statically known absent.
type Capabilities struct {
	// Write allows whole-object writes.
	Write bool

	// Multipart allows chunked part uploads assembled server-side.
	Multipart bool

	// RandomWrite allows seeking within an open write stream. Gaps are
	// zero-filled in the accumulation buffer.
	RandomWrite bool

	// ListLocators allows enumerating the storage root.
	ListLocators bool

	// List allows enumerating objects under a locator.
	List bool

	// MakeDir allows creating locators and directory marker objects.
	MakeDir bool

	// Remove allows deleting objects and locators.
	Remove bool

	// Copy allows same-backend object-to-object copies.
	Copy bool
}

// Spec is the per-backend configuration record that specializes a System
// without subclassing: addressing roots, header field names, capability
// flags and chunking constraints.
type Spec struct {
	// Scheme names the backend, e.g. "s3". Used for registry lookups
	// and cache keys.
	Scheme string

	// Roots are tried in order when resolving paths.
	Roots []Root

	// SizeKeys, CTimeKeys and MTimeKeys are the ordered candidate header
	// field names for the standard attributes; first present wins.
	SizeKeys  []string
	CTimeKeys []string
	MTimeKeys []string

	Capabilities Capabilities

	// MinPartSize is the backend's minimum multipart chunk size.
	// Buffered stream buffer sizes are clamped to it.
	MinPartSize int

	// ListPageSize is the default page-size hint for listing calls.
	ListPageSize int

	// DirProbeEntries is the page size of the bounded listing probe used
	// by the virtual-directory fallback. Defaults to 1; tunable because
	// the probe's cost is backend-dependent.
	DirProbeEntries int
}

// System is a backend-agnostic storage handler: it resolves paths into
// backend addressing, synthesizes directory semantics, produces
// POSIX-like metadata and constructs I/O streams. All methods are safe
// for concurrent use.
type System struct {
	spec       Spec
	newClient  func() (Client, error)
	clientOnce sync.Once
	client     Client
	clientErr  error

	log   *zap.Logger
	cache *cache.Cache
}

// Option configures a System.
type Option func(*System)

// WithLogger attaches a structured logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *System) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCache attaches a metadata cache consulted before head calls. The
// System functions identically without one: a miss falls through to the
// backend.
func WithCache(c *cache.Cache) Option {
	return func(s *System) { s.cache = c }
}

// NewSystem builds a System from a backend spec and a client factory.
// The client is constructed on first use and reused for the System's
// lifetime.
func NewSystem(spec Spec, factory func() (Client, error), opts ...Option) (*System, error) {
	if len(spec.Roots) == 0 {
		return nil, errors.New("rfs: system requires at least one root")
	}
	if factory == nil {
		return nil, errors.New("rfs: system requires a client factory")
	}
	if spec.DirProbeEntries <= 0 {
		spec.DirProbeEntries = 1
	}
	s := &System{spec: spec, newClient: factory, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spec returns the backend configuration record.
func (s *System) Spec() Spec { return s.spec }

// Client returns the lazily-constructed backend client, shared by all
// streams of this System.
func (s *System) Client() (Client, error) {
	s.clientOnce.Do(func() {
		s.client, s.clientErr = s.newClient()
		if s.clientErr == nil {
			s.log.Debug("storage client initialized", zap.String("scheme", s.spec.Scheme))
		}
	})
	return s.client, s.clientErr
}

// Exists returns true if path refers to an existing object or locator.
func (s *System) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Head(ctx, path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Head returns the metadata header of an object or locator. The storage
// root has no backend header and yields an empty one.
func (s *System) Head(ctx context.Context, path string) (Header, error) {
	addr := s.addressing(path)
	if addr.IsRoot() {
		return Header{}, nil
	}

	cacheKey := s.spec.Scheme + "#head#" + addr.Locator + "/" + addr.Key
	if header, ok := s.cachedHeader(cacheKey); ok {
		return header, nil
	}

	client, err := s.Client()
	if err != nil {
		return nil, err
	}

	var header Header
	if addr.IsLocator() {
		header, err = client.HeadLocator(ctx, addr.Locator)
	} else {
		header, err = client.HeadObject(ctx, addr)
	}
	if err != nil {
		return nil, withPath(err, path)
	}

	s.storeHeader(cacheKey, header)
	return header, nil
}

func (s *System) cachedHeader(key string) (Header, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(key)
	if err != nil {
		return nil, false
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, false
	}
	return header, true
}

func (s *System) storeHeader(key string, header Header) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(header)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, data, false); err != nil {
		s.log.Debug("header cache write failed", zap.Error(err))
	}
}

// Size returns the size of path in bytes. Returns ErrNotSupported when
// the backend reports no size for this path.
func (s *System) Size(ctx context.Context, path string) (int64, error) {
	header, err := s.Head(ctx, path)
	if err != nil {
		return 0, err
	}
	return s.SizeFromHeader(header)
}

// SizeFromHeader extracts the size from a pre-fetched header, consuming
// the matching candidate field. Listing results already carry headers;
// this avoids a redundant head call.
func (s *System) SizeFromHeader(header Header) (int64, error) {
	return consumeSize(header, s.spec.SizeKeys)
}

// CTime returns the creation time of path. Returns ErrNotSupported when
// the backend does not report one.
func (s *System) CTime(ctx context.Context, path string) (time.Time, error) {
	header, err := s.Head(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return s.CTimeFromHeader(header)
}

// CTimeFromHeader extracts the creation time from a pre-fetched header.
func (s *System) CTimeFromHeader(header Header) (time.Time, error) {
	return consumeTime(header, s.spec.CTimeKeys)
}

// MTime returns the last modification time of path. Returns
// ErrNotSupported when the backend does not report one.
func (s *System) MTime(ctx context.Context, path string) (time.Time, error) {
	header, err := s.Head(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return s.MTimeFromHeader(header)
}

// MTimeFromHeader extracts the modification time from a pre-fetched header.
func (s *System) MTimeFromHeader(header Header) (time.Time, error) {
	return consumeTime(header, s.spec.MTimeKeys)
}

// Stat returns the POSIX-like status of path.
func (s *System) Stat(ctx context.Context, path string) (*StatResult, error) {
	header, err := s.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.statFromHeader(path, header), nil
}

// StatHeader builds the status of path from a pre-fetched header without
// any backend call.
func (s *System) StatHeader(path string, header Header) *StatResult {
	return s.statFromHeader(path, header)
}

// IsDir returns true if path is an existing directory.
//
// The storage root is always a directory. Other paths are directories
// when they exist explicitly (object key ending in a separator, or a
// locator) or, failing that, virtually: at least one object lists under
// the path as a prefix. Object stores frequently have no directory
// markers, so the fallback performs a bounded listing probe.
func (s *System) IsDir(ctx context.Context, path string) (bool, error) {
	rel := s.RelativePath(path)
	if rel == "" {
		return true, nil
	}

	if !strings.HasSuffix(path, "/") && !s.IsLocator(rel) {
		return false, nil
	}

	exists, err := s.Exists(ctx, path)
	if err != nil && !IsNotSupported(err) {
		return false, err
	}
	if exists {
		return true, nil
	}

	// Virtual directory fallback: probe for any key under the prefix.
	lister, err := s.ListObjects(ctx, path, false, s.spec.DirProbeEntries)
	if err != nil {
		if IsNotFound(err) || IsNotSupported(err) {
			return false, nil
		}
		return false, err
	}
	_, err = lister.Next(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, io.EOF) || IsNotFound(err) || IsNotSupported(err):
		return false, nil
	default:
		return false, err
	}
}

// IsFile returns true if path is an existing regular file. The storage
// root and directory-intent paths are never files.
func (s *System) IsFile(ctx context.Context, path string) (bool, error) {
	rel := s.RelativePath(path)
	if rel == "" {
		return false, nil
	}
	if strings.HasSuffix(path, "/") || s.IsLocator(rel) {
		return false, nil
	}
	return s.Exists(ctx, path)
}

// MakeDir creates a directory: the locator itself when path names one,
// a zero-byte marker object otherwise. Returns ErrNotSupported when the
// backend has no native creation.
func (s *System) MakeDir(ctx context.Context, path string) error {
	if !s.spec.Capabilities.MakeDir {
		return withPath(ErrNotSupported, path)
	}
	client, err := s.Client()
	if err != nil {
		return err
	}
	addr := s.addressing(s.EnsureDirPath(path))
	if addr.IsRoot() {
		return withPath(ErrNotSupported, path)
	}
	if addr.IsLocator() {
		err = client.MakeLocator(ctx, addr.Locator)
	} else {
		err = client.MakeObject(ctx, addr)
	}
	return withPath(err, path)
}

// Remove deletes an object, or a locator when path names one. Returns
// ErrNotSupported when the backend has no native deletion.
func (s *System) Remove(ctx context.Context, path string) error {
	if !s.spec.Capabilities.Remove {
		return withPath(ErrNotSupported, path)
	}
	client, err := s.Client()
	if err != nil {
		return err
	}
	addr := s.addressing(path)
	if addr.IsRoot() {
		return withPath(ErrNotSupported, path)
	}
	return withPath(client.Remove(ctx, addr), path)
}

// Copy performs a same-backend object-to-object copy. Returns
// ErrNotSupported when the backend has no native copy.
func (s *System) Copy(ctx context.Context, src, dst string) error {
	if !s.spec.Capabilities.Copy {
		return withPath(ErrNotSupported, src)
	}
	client, err := s.Client()
	if err != nil {
		return err
	}
	return withPath(client.Copy(ctx, s.addressing(src), s.addressing(dst)), src)
}
