package rfs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]SystemFactory)
	mounts     []*System
)

// SystemFactory builds a System from backend-specific settings. The
// settings map matches the backend's typed Config fields.
type SystemFactory func(settings map[string]string) (*System, error)

// RegisterScheme registers a system factory under a scheme name. It is
// typically called from init() in backend packages.
//
// RegisterScheme panics if factory is nil or the scheme is already
// registered.
func RegisterScheme(scheme string, factory SystemFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("rfs: RegisterScheme factory is nil")
	}
	if _, dup := factories[scheme]; dup {
		panic("rfs: RegisterScheme called twice for scheme " + scheme)
	}
	factories[scheme] = factory
}

// Schemes returns the sorted list of registered scheme names.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenSystem builds a System for a registered scheme. Returns
// ErrUnknownScheme when no factory is registered under the name.
func OpenSystem(scheme string, settings map[string]string) (*System, error) {
	registryMu.RLock()
	factory, ok := factories[scheme]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	return factory(settings)
}

// Mount adds a System to the process-wide mount table, making its paths
// resolvable by the package-level functions.
func Mount(sys *System) {
	registryMu.Lock()
	defer registryMu.Unlock()
	mounts = append(mounts, sys)
}

// Unmount removes a System from the mount table. Returns true if it was
// mounted.
func Unmount(sys *System) bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, m := range mounts {
		if m == sys {
			mounts = append(mounts[:i], mounts[i+1:]...)
			return true
		}
	}
	return false
}

// SystemFor returns the mounted System claiming path: the first one
// whose root set changes the path under RelativePath. Paths claimed by
// no mount are foreign (local files, typically).
func SystemFor(path string) (*System, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, sys := range mounts {
		if sys.RelativePath(path) != path {
			return sys, true
		}
	}
	return nil, false
}

// Stat resolves path against the mount table and returns its status.
func Stat(ctx context.Context, path string) (*StatResult, error) {
	sys, ok := SystemFor(path)
	if !ok {
		return nil, withPath(ErrNotMounted, path)
	}
	return sys.Stat(ctx, path)
}

// Exists resolves path against the mount table and reports existence.
func Exists(ctx context.Context, path string) (bool, error) {
	sys, ok := SystemFor(path)
	if !ok {
		return false, withPath(ErrNotMounted, path)
	}
	return sys.Exists(ctx, path)
}

// OpenRaw resolves path against the mount table and opens a raw stream.
func OpenRaw(ctx context.Context, path string, mode Mode) (*RawStream, error) {
	sys, ok := SystemFor(path)
	if !ok {
		return nil, withPath(ErrNotMounted, path)
	}
	return sys.OpenRaw(ctx, path, mode)
}

// OpenBuffered resolves path against the mount table and opens a
// buffered stream.
func OpenBuffered(ctx context.Context, path string, mode Mode, opts StreamOptions) (*BufferedStream, error) {
	sys, ok := SystemFor(path)
	if !ok {
		return nil, withPath(ErrNotMounted, path)
	}
	return sys.OpenBuffered(ctx, path, mode, opts)
}
