package rfs

import (
	"io/fs"
	"regexp"
	"strings"
	"time"
)

// attrFilter normalizes extended-attribute names: lower-cased, every
// non-alphanumeric character stripped.
var attrFilter = regexp.MustCompile(`[^a-z0-9]+`)

// StatResult is the POSIX-like status of an object or directory.
type StatResult struct {
	// Mode is fs.ModeDir for directories, 0 for regular files.
	Mode fs.FileMode

	// Size in bytes, 0 when the backend does not report one.
	Size int64

	// CTime and MTime are zero when the backend does not report them.
	CTime time.Time
	MTime time.Time

	// Attrs holds every header field not consumed by the standard
	// extractors, re-exposed once under a normalized name so no backend
	// information is silently dropped.
	Attrs map[string]string
}

// IsDir returns true if the result describes a directory.
func (st *StatResult) IsDir() bool { return st.Mode&fs.ModeDir != 0 }

// statFromHeader builds a StatResult from a header. The header is
// consumed destructively: recognized standard fields are removed first,
// then every leftover field becomes an extended attribute.
//
// A path is a directory iff no size was resolved and the path is the
// storage root, ends in a separator, or names a locator.
func (s *System) statFromHeader(path string, header Header) *StatResult {
	h := header.clone()
	st := &StatResult{}

	if size, err := consumeSize(h, s.spec.SizeKeys); err == nil {
		st.Size = size
	}
	if t, err := consumeTime(h, s.spec.CTimeKeys); err == nil {
		st.CTime = t
	}
	if t, err := consumeTime(h, s.spec.MTimeKeys); err == nil {
		st.MTime = t
	}

	rel := s.RelativePath(path)
	if st.Size == 0 && (rel == "" || strings.HasSuffix(path, "/") || s.IsLocator(rel)) {
		st.Mode = fs.ModeDir
	}

	if len(h) > 0 {
		st.Attrs = make(map[string]string, len(h))
		for key, value := range h {
			st.Attrs[normalizeAttr(key)] = value
		}
	}
	return st
}

func normalizeAttr(key string) string {
	return attrFilter.ReplaceAllString(strings.ToLower(key), "")
}
