package rfs

import (
	"context"
	"io"
	"strings"
)

// ObjectLister is a resumable enumeration cursor. Next returns entries
// one at a time, fetching backend pages on demand, and io.EOF once the
// enumeration is complete. A lister is not safe for concurrent use.
type ObjectLister struct {
	sys        *System
	client     Client
	path       string
	firstLevel bool
	maxEntries int

	pending []ObjectEntry
	err     error

	// Root enumeration state.
	fromRoot    bool
	locators    []ObjectEntry
	locFetched  bool
	locIndex    int
	inLocator   bool
	curLocator  string
	locToken    string
	yieldedLocs bool

	// Locator/sub-path enumeration state.
	locator   string
	prefix    string
	token     string
	exhausted bool
	rawCount  int
	seen      map[string]struct{}
}

// ListObjects enumerates objects under path.
//
// From the storage root it enumerates locators: with firstLevelOnly it
// yields locator entries only, otherwise it yields each locator followed
// by its contents, skipping locators whose contents are permission-denied.
// Under a locator it yields object names relative to path. With
// firstLevelOnly, deeper subtrees collapse into synthesized directory
// entries ("name/") with empty headers, each yielded once in
// first-encountered order.
//
// maxEntries is a page-size hint for each backend request, 0 for the
// backend default.
func (s *System) ListObjects(ctx context.Context, path string, firstLevelOnly bool, maxEntries int) (*ObjectLister, error) {
	rel := s.RelativePath(path)

	if rel == "" && !s.spec.Capabilities.ListLocators {
		return nil, withPath(ErrNotSupported, path)
	}
	if rel != "" && !s.spec.Capabilities.List {
		return nil, withPath(ErrNotSupported, path)
	}

	client, err := s.Client()
	if err != nil {
		return nil, err
	}

	if maxEntries <= 0 {
		maxEntries = s.spec.ListPageSize
	}

	l := &ObjectLister{
		sys:        s,
		client:     client,
		path:       path,
		firstLevel: firstLevelOnly,
		maxEntries: maxEntries,
	}
	if rel == "" {
		l.fromRoot = true
	} else {
		l.locator, l.prefix = s.SplitLocator(path)
		if firstLevelOnly {
			l.seen = make(map[string]struct{})
		}
	}
	return l, nil
}

// Next returns the next entry. It returns io.EOF when the enumeration is
// complete, and ErrNotFound when a non-root, non-locator path had no
// backend entries at all.
func (l *ObjectLister) Next(ctx context.Context) (ObjectEntry, error) {
	if l.err != nil {
		return ObjectEntry{}, l.err
	}
	for len(l.pending) == 0 {
		var err error
		if l.fromRoot {
			err = l.fillFromRoot(ctx)
		} else {
			err = l.fillFromLocator(ctx)
		}
		if err != nil {
			l.err = err
			return ObjectEntry{}, err
		}
	}
	entry := l.pending[0]
	l.pending = l.pending[1:]
	return entry, nil
}

// fillFromRoot advances the root enumeration: locator entries first, then
// each locator's contents unless firstLevel was requested. A
// PermissionDenied on a locator's contents skips that locator and
// continues with the next; the locator itself was already yielded.
func (l *ObjectLister) fillFromRoot(ctx context.Context) error {
	if !l.locFetched {
		locators, err := l.client.ListLocators(ctx)
		if err != nil {
			return withPath(err, l.path)
		}
		l.locators = locators
		l.locFetched = true

		if l.firstLevel {
			for _, loc := range locators {
				loc.Name = strings.TrimRight(loc.Name, "/")
				l.pending = append(l.pending, loc)
			}
			l.yieldedLocs = true
		}
		if len(l.pending) > 0 {
			return nil
		}
	}

	if l.yieldedLocs {
		return io.EOF
	}

	for {
		if !l.inLocator {
			if l.locIndex >= len(l.locators) {
				return io.EOF
			}
			loc := l.locators[l.locIndex]
			l.locIndex++
			loc.Name = strings.TrimRight(loc.Name, "/")
			l.curLocator = loc.Name
			l.inLocator = true
			l.locToken = ""
			l.pending = append(l.pending, loc)
			return nil
		}

		entries, next, err := l.client.ListObjects(ctx, l.curLocator, "", l.locToken, l.maxEntries)
		if err != nil {
			// Read access to a locator's content can be denied even
			// when the locator itself lists; skip it and keep going.
			if IsPermissionDenied(err) {
				l.inLocator = false
				continue
			}
			return withPath(err, l.path)
		}
		for _, entry := range entries {
			entry.Name = l.curLocator + "/" + strings.TrimLeft(entry.Name, "/")
			l.pending = append(l.pending, entry)
		}
		l.locToken = next
		if next == "" {
			l.inLocator = false
		}
		if len(l.pending) > 0 {
			return nil
		}
	}
}

// fillFromLocator advances enumeration under one locator, stripping the
// path prefix, skipping the parent directory marker, and flattening to
// first-level entries when requested.
func (l *ObjectLister) fillFromLocator(ctx context.Context) error {
	for len(l.pending) == 0 {
		if l.exhausted {
			// A sub-path with zero backend entries does not exist,
			// not even virtually.
			if l.rawCount == 0 && l.prefix != "" {
				return withPath(ErrNotFound, l.path)
			}
			return io.EOF
		}

		entries, next, err := l.client.ListObjects(ctx, l.locator, l.prefix, l.token, l.maxEntries)
		if err != nil {
			return withPath(err, l.path)
		}
		l.token = next
		if next == "" {
			l.exhausted = true
		}
		l.rawCount += len(entries)

		for _, entry := range entries {
			name := entry.Name
			if l.prefix != "" {
				_, after, found := strings.Cut(name, l.prefix)
				if !found {
					continue
				}
				name = strings.TrimLeft(after, "/")
			}
			// The entry matching the path itself is the parent
			// directory marker.
			if name == "" {
				continue
			}

			header := entry.Header
			if l.firstLevel {
				first, _, deeper := strings.Cut(strings.Trim(name, "/"), "/")
				if deeper {
					// Synthesized directory: its metadata is not
					// well-defined, so the child's header is dropped.
					name = first + "/"
					header = Header{}
				}
				if _, dup := l.seen[name]; dup {
					continue
				}
				l.seen[name] = struct{}{}
			}
			l.pending = append(l.pending, ObjectEntry{Name: name, Header: header})
		}
	}
	return nil
}
