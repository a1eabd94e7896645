// Package memory provides an in-memory storage system for rfs.
//
// The memory backend is useful for:
//   - Unit testing without network access
//   - Temporary storage and prototyping
//
// It emulates a full object store: locators, flat keys, range reads and
// multipart uploads. Data is lost when the process exits.
package memory

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JGoutin/rfs"
)

func init() {
	rfs.RegisterScheme("memory", func(_ map[string]string) (*rfs.System, error) {
		return NewSystem(New())
	})
}

// Default page size for listing calls.
const defaultPageSize = 1000

type object struct {
	data     []byte
	created  time.Time
	modified time.Time
}

type locator struct {
	objects map[string]*object
	created time.Time
	denied  bool
}

type upload struct {
	addr   rfs.Addressing
	parts  map[int][]byte
	tokens map[int]string
}

// Backend is an in-memory rfs.Client. It is safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	locators map[string]*locator
	uploads  map[string]*upload
	clock    func() time.Time

	// rangeHook runs before every GetRange call; tests use it to skew
	// completion order.
	rangeHook func(addr rfs.Addressing, start int64)

	// partHook runs before every PutPart call; tests use it to inject
	// part failures.
	partHook func(partNumber int) error
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		locators: make(map[string]*locator),
		uploads:  make(map[string]*upload),
		clock:    time.Now,
	}
}

// Spec returns the backend configuration record of the memory store.
func Spec() rfs.Spec {
	return rfs.Spec{
		Scheme:    "memory",
		Roots:     []rfs.Root{{Prefix: "mem://"}},
		SizeKeys:  []string{"Content-Length"},
		CTimeKeys: []string{"Created"},
		MTimeKeys: []string{"Last-Modified"},
		Capabilities: rfs.Capabilities{
			Write:        true,
			Multipart:    true,
			RandomWrite:  true,
			ListLocators: true,
			List:         true,
			MakeDir:      true,
			Remove:       true,
			Copy:         true,
		},
		ListPageSize: defaultPageSize,
	}
}

// NewSystem builds an rfs.System over the backend.
func NewSystem(b *Backend, opts ...rfs.Option) (*rfs.System, error) {
	return rfs.NewSystem(Spec(), func() (rfs.Client, error) { return b, nil }, opts...)
}

// SetRangeHook installs a hook run before every range read.
func (b *Backend) SetRangeHook(hook func(addr rfs.Addressing, start int64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rangeHook = hook
}

// SetPartHook installs a hook run before every part upload.
func (b *Backend) SetPartHook(hook func(partNumber int) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partHook = hook
}

// DenyContents marks a locator so that listing its contents fails with
// ErrPermissionDenied while the locator itself remains visible.
func (b *Backend) DenyContents(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if loc, ok := b.locators[name]; ok {
		loc.denied = true
	}
}

// UploadCount returns the number of unfinished multipart uploads, for
// leak checks in tests.
func (b *Backend) UploadCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uploads)
}

func (b *Backend) objectHeader(obj *object) rfs.Header {
	return rfs.Header{
		"Content-Length": strconv.Itoa(len(obj.data)),
		"Last-Modified":  obj.modified.UTC().Format(http.TimeFormat),
		"Created":        obj.created.UTC().Format(http.TimeFormat),
	}
}

func (b *Backend) find(addr rfs.Addressing) (*locator, *object, error) {
	loc, ok := b.locators[addr.Locator]
	if !ok {
		return nil, nil, rfs.ErrNotFound
	}
	if addr.Key == "" {
		return loc, nil, nil
	}
	obj, ok := loc.objects[addr.Key]
	if !ok {
		return loc, nil, rfs.ErrNotFound
	}
	return loc, obj, nil
}

// HeadObject implements rfs.Client.
func (b *Backend) HeadObject(_ context.Context, addr rfs.Addressing) (rfs.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, obj, err := b.find(addr)
	if err != nil {
		return nil, err
	}
	return b.objectHeader(obj), nil
}

// HeadLocator implements rfs.Client.
func (b *Backend) HeadLocator(_ context.Context, name string) (rfs.Header, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	loc, ok := b.locators[name]
	if !ok {
		return nil, rfs.ErrNotFound
	}
	return rfs.Header{
		"Created": loc.created.UTC().Format(http.TimeFormat),
	}, nil
}

// ListLocators implements rfs.Client.
func (b *Backend) ListLocators(_ context.Context) ([]rfs.ObjectEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.locators))
	for name := range b.locators {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]rfs.ObjectEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, rfs.ObjectEntry{
			Name: name,
			Header: rfs.Header{
				"Created": b.locators[name].created.UTC().Format(http.TimeFormat),
			},
		})
	}
	return entries, nil
}

// ListObjects implements rfs.Client with sorted keys and token
// pagination; the token is the last key of the previous page.
func (b *Backend) ListObjects(_ context.Context, locatorName, prefix, pageToken string, maxEntries int) ([]rfs.ObjectEntry, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loc, ok := b.locators[locatorName]
	if !ok {
		return nil, "", rfs.ErrNotFound
	}
	if loc.denied {
		return nil, "", rfs.ErrPermissionDenied
	}
	if maxEntries <= 0 {
		maxEntries = defaultPageSize
	}

	keys := make([]string, 0, len(loc.objects))
	for key := range loc.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var entries []rfs.ObjectEntry
	for _, key := range keys {
		if pageToken != "" && key <= pageToken {
			continue
		}
		entries = append(entries, rfs.ObjectEntry{
			Name:   key,
			Header: b.objectHeader(loc.objects[key]),
		})
		if len(entries) == maxEntries {
			break
		}
	}

	next := ""
	if len(entries) == maxEntries && entries[len(entries)-1].Name != keys[len(keys)-1] {
		next = entries[len(entries)-1].Name
	}
	return entries, next, nil
}

// GetRange implements rfs.Client. A start at or past the object length
// returns an empty slice.
func (b *Backend) GetRange(_ context.Context, addr rfs.Addressing, start, end int64) ([]byte, error) {
	b.mu.RLock()
	hook := b.rangeHook
	b.mu.RUnlock()
	if hook != nil {
		hook(addr, start)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, obj, err := b.find(addr)
	if err != nil {
		return nil, err
	}
	size := int64(len(obj.data))
	if start >= size {
		return nil, nil
	}
	if end <= 0 || end > size {
		end = size
	}
	data := make([]byte, end-start)
	copy(data, obj.data[start:end])
	return data, nil
}

// GetAll implements rfs.Client.
func (b *Backend) GetAll(_ context.Context, addr rfs.Addressing) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, obj, err := b.find(addr)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

// Put implements rfs.Client, replacing any previous content.
func (b *Backend) Put(_ context.Context, addr rfs.Addressing, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.locators[addr.Locator]
	if !ok {
		return rfs.ErrNotFound
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	now := b.clock()
	if existing, ok := loc.objects[addr.Key]; ok {
		existing.data = stored
		existing.modified = now
		return nil
	}
	loc.objects[addr.Key] = &object{data: stored, created: now, modified: now}
	return nil
}

// CreateUpload implements rfs.Client.
func (b *Backend) CreateUpload(_ context.Context, addr rfs.Addressing) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.locators[addr.Locator]; !ok {
		return "", rfs.ErrNotFound
	}
	id := uuid.NewString()
	b.uploads[id] = &upload{
		addr:   addr,
		parts:  make(map[int][]byte),
		tokens: make(map[int]string),
	}
	return id, nil
}

// PutPart implements rfs.Client.
func (b *Backend) PutPart(_ context.Context, _ rfs.Addressing, uploadID string, partNumber int, data []byte) (string, error) {
	b.mu.RLock()
	hook := b.partHook
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(partNumber); err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	up, ok := b.uploads[uploadID]
	if !ok {
		return "", rfs.ErrNotFound
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	up.parts[partNumber] = stored
	token := uuid.NewString()
	up.tokens[partNumber] = token
	return token, nil
}

// CompleteUpload implements rfs.Client, assembling parts by number.
func (b *Backend) CompleteUpload(_ context.Context, addr rfs.Addressing, uploadID string, parts []rfs.Part) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	up, ok := b.uploads[uploadID]
	if !ok {
		return rfs.ErrNotFound
	}
	loc, ok := b.locators[addr.Locator]
	if !ok {
		return rfs.ErrNotFound
	}

	var data []byte
	for _, part := range parts {
		payload, ok := up.parts[part.Number]
		if !ok || up.tokens[part.Number] != part.Token {
			return rfs.ErrNotFound
		}
		data = append(data, payload...)
	}

	now := b.clock()
	loc.objects[addr.Key] = &object{data: data, created: now, modified: now}
	delete(b.uploads, uploadID)
	return nil
}

// AbortUpload implements rfs.Client.
func (b *Backend) AbortUpload(_ context.Context, _ rfs.Addressing, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.uploads, uploadID)
	return nil
}

// MakeLocator implements rfs.Client. Creating an existing locator is a
// no-op.
func (b *Backend) MakeLocator(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.locators[name]; !ok {
		b.locators[name] = &locator{
			objects: make(map[string]*object),
			created: b.clock(),
		}
	}
	return nil
}

// MakeObject implements rfs.Client, creating an empty object (typically
// a directory marker).
func (b *Backend) MakeObject(ctx context.Context, addr rfs.Addressing) error {
	return b.Put(ctx, addr, nil)
}

// Remove implements rfs.Client, deleting an object or the locator itself
// when the addressing has no key.
func (b *Backend) Remove(_ context.Context, addr rfs.Addressing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.locators[addr.Locator]
	if !ok {
		return rfs.ErrNotFound
	}
	if addr.Key == "" {
		delete(b.locators, addr.Locator)
		return nil
	}
	delete(loc.objects, addr.Key)
	return nil
}

// Copy implements rfs.Client with a same-backend object copy.
func (b *Backend) Copy(ctx context.Context, src, dst rfs.Addressing) error {
	data, err := b.GetAll(ctx, src)
	if err != nil {
		return err
	}
	return b.Put(ctx, dst, data)
}

// Ensure Backend implements rfs.Client.
var _ rfs.Client = (*Backend)(nil)
