package rfs

import "context"

// Addressing is the backend-native location derived from a path: the
// locator (bucket, container, top directory) and the key inside it. Both
// empty means the storage root.
type Addressing struct {
	Locator string
	Key     string
}

// IsRoot returns true when the addressing points at the storage root.
func (a Addressing) IsRoot() bool { return a.Locator == "" && a.Key == "" }

// IsLocator returns true when the addressing points at a locator itself.
func (a Addressing) IsLocator() bool { return a.Locator != "" && a.Key == "" }

// Header is the backend-returned metadata of one object or locator,
// keyed by backend-specific field names. Standard attributes (size,
// ctime, mtime) are consumed destructively from it; whatever remains is
// re-exposed as extended attributes by Stat.
type Header map[string]string

// clone returns a shallow copy, so destructive consumption never mutates
// a caller-owned header.
func (h Header) clone() Header {
	c := make(Header, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// ObjectEntry is one listing result: the backend-native object name and
// its header as returned by the listing call.
type ObjectEntry struct {
	Name   string
	Header Header
}

// Part identifies one completed piece of a multipart upload.
type Part struct {
	// Number is the 1-based sequence number assigned at dispatch time.
	Number int

	// Token is the backend receipt for the uploaded part (an ETag for
	// S3-style stores).
	Token string
}

// Client is the wire-level contract a backend adapter implements. One
// Client is lazily constructed per System, cached for the System's
// lifetime, and shared read-only by all of its streams: implementations
// must be safe for concurrent use.
//
// All errors returned by a Client must already be translated into the
// rfs taxonomy (ErrNotFound, ErrPermissionDenied, ErrNotSupported, or an
// opaque wrapped backend error). Adapters that do not implement an
// operation embed UnsupportedOps and let the System's capability flags
// gate the call proactively.
type Client interface {
	// HeadObject returns the metadata header of one object.
	HeadObject(ctx context.Context, addr Addressing) (Header, error)

	// HeadLocator returns the metadata header of one locator.
	HeadLocator(ctx context.Context, locator string) (Header, error)

	// ListLocators enumerates the locators of the storage root.
	ListLocators(ctx context.Context) ([]ObjectEntry, error)

	// ListObjects returns one page of objects under prefix inside
	// locator. pageToken resumes a previous page ("" for the first);
	// the returned token is "" when no pages remain. maxEntries is a
	// page-size hint, 0 for the backend default.
	ListObjects(ctx context.Context, locator, prefix, pageToken string, maxEntries int) ([]ObjectEntry, string, error)

	// GetRange reads [start, end) of an object. end <= 0 means "to the
	// end of the object". A start at or past the object length returns
	// an empty slice and no error.
	GetRange(ctx context.Context, addr Addressing, start, end int64) ([]byte, error)

	// GetAll reads a whole object with a single unranged request.
	GetAll(ctx context.Context, addr Addressing) ([]byte, error)

	// Put writes a whole object in one call, replacing any previous
	// content.
	Put(ctx context.Context, addr Addressing, data []byte) error

	// CreateUpload starts a multipart upload and returns its id.
	CreateUpload(ctx context.Context, addr Addressing) (string, error)

	// PutPart uploads one part and returns its completion token.
	// Parts may be uploaded concurrently and complete in any order.
	PutPart(ctx context.Context, addr Addressing, uploadID string, partNumber int, data []byte) (string, error)

	// CompleteUpload assembles the uploaded parts, ordered by part
	// number, into the final object.
	CompleteUpload(ctx context.Context, addr Addressing, uploadID string, parts []Part) error

	// AbortUpload discards an unfinished multipart upload.
	AbortUpload(ctx context.Context, addr Addressing, uploadID string) error

	// MakeLocator creates a locator.
	MakeLocator(ctx context.Context, locator string) error

	// MakeObject creates an empty object, typically a directory marker.
	MakeObject(ctx context.Context, addr Addressing) error

	// Remove deletes an object, or the locator itself when the
	// addressing has no key.
	Remove(ctx context.Context, addr Addressing) error

	// Copy performs a same-backend object-to-object copy.
	Copy(ctx context.Context, src, dst Addressing) error
}

// UnsupportedOps provides ErrNotSupported implementations for every
// optional Client operation. Backend adapters embed it and override what
// their store natively supports.
type UnsupportedOps struct{}

func (UnsupportedOps) HeadLocator(context.Context, string) (Header, error) {
	return nil, ErrNotSupported
}

func (UnsupportedOps) ListLocators(context.Context) ([]ObjectEntry, error) {
	return nil, ErrNotSupported
}

func (UnsupportedOps) ListObjects(context.Context, string, string, string, int) ([]ObjectEntry, string, error) {
	return nil, "", ErrNotSupported
}

func (UnsupportedOps) Put(context.Context, Addressing, []byte) error {
	return ErrNotSupported
}

func (UnsupportedOps) CreateUpload(context.Context, Addressing) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedOps) PutPart(context.Context, Addressing, string, int, []byte) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedOps) CompleteUpload(context.Context, Addressing, string, []Part) error {
	return ErrNotSupported
}

func (UnsupportedOps) AbortUpload(context.Context, Addressing, string) error {
	return ErrNotSupported
}

func (UnsupportedOps) MakeLocator(context.Context, string) error {
	return ErrNotSupported
}

func (UnsupportedOps) MakeObject(context.Context, Addressing) error {
	return ErrNotSupported
}

func (UnsupportedOps) Remove(context.Context, Addressing) error {
	return ErrNotSupported
}

func (UnsupportedOps) Copy(context.Context, Addressing, Addressing) error {
	return ErrNotSupported
}
