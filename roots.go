package rfs

import (
	"regexp"
	"strings"
)

// Root identifies the absolute paths or URLs that belong to one storage
// system. A root is either a literal prefix or a compiled pattern; a path
// is claimed by the first root that matches it.
type Root struct {
	// Prefix is a literal prefix, e.g. "s3://".
	Prefix string

	// Pattern matches the start of a path, e.g. a virtual-hosted URL
	// form. When set, Prefix is ignored.
	Pattern *regexp.Regexp
}

// split strips the root from path. The second return value reports
// whether this root claimed the path.
func (r Root) split(path string) (string, bool) {
	if r.Pattern != nil {
		loc := r.Pattern.FindStringIndex(path)
		if loc == nil || loc[0] != 0 {
			return "", false
		}
		return path[loc[1]:], true
	}
	if r.Prefix != "" && strings.HasPrefix(path, r.Prefix) {
		return path[len(r.Prefix):], true
	}
	return "", false
}

// RelativePath strips the system root from an absolute path or URL.
//
// Leading separators are stripped from the remainder. Trailing separators
// are preserved: they carry directory intent used by Stat and IsDir.
// A path claimed by no configured root is returned unchanged, which
// callers use to detect foreign paths.
func (s *System) RelativePath(path string) string {
	for _, root := range s.spec.Roots {
		if rel, ok := root.split(path); ok {
			return strings.TrimLeft(rel, "/")
		}
	}
	return path
}

// IsLocator returns true if the relative path names a locator: the
// top-level container of the backend namespace (bucket, storage
// container, top directory).
func (s *System) IsLocator(rel string) bool {
	rel = strings.TrimRight(rel, "/")
	return rel != "" && !strings.Contains(rel, "/")
}

// SplitLocator splits an absolute path into its locator name and the key
// inside the locator. The key is empty when the path names the locator
// itself or the storage root.
func (s *System) SplitLocator(path string) (locator, key string) {
	rel := s.RelativePath(path)
	locator, key, _ = strings.Cut(rel, "/")
	return locator, key
}

// EnsureDirPath normalizes a path for directory creation: locators lose
// their trailing separator, other non-empty paths gain exactly one, and
// the storage root is returned unchanged.
func (s *System) EnsureDirPath(path string) string {
	rel := s.RelativePath(path)
	switch {
	case rel == "":
		return path
	case s.IsLocator(rel):
		return strings.TrimRight(path, "/")
	default:
		return strings.TrimRight(path, "/") + "/"
	}
}

// addressing resolves a path into backend-native addressing.
func (s *System) addressing(path string) Addressing {
	locator, key := s.SplitLocator(path)
	return Addressing{Locator: locator, Key: key}
}
