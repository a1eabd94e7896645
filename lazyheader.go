package rfs

import (
	"context"
	"sync"
)

// HeaderResolver fetches one header value on first access.
type HeaderResolver func(ctx context.Context) (string, error)

// LazyHeader is a header whose values may be resolved on demand, some of
// them from a declared parent object. It backs stores whose metadata is
// spread across related API objects: a field missing here is looked up
// through its resolver, then through the parent chain.
//
// Parents are plain back-references passed at construction; a LazyHeader
// never owns or points forward to its children, which keeps the chain
// acyclic.
type LazyHeader struct {
	mu        sync.Mutex
	values    Header
	resolvers map[string]HeaderResolver
	parent    *LazyHeader
}

// NewLazyHeader wraps known values with an optional parent to consult
// for keys missing locally. base may be nil.
func NewLazyHeader(base Header, parent *LazyHeader) *LazyHeader {
	values := base
	if values == nil {
		values = Header{}
	}
	return &LazyHeader{values: values, parent: parent}
}

// SetResolver declares how to fetch key when it is first accessed. The
// resolver runs at most once; its result is memoized.
func (h *LazyHeader) SetResolver(key string, resolver HeaderResolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolvers == nil {
		h.resolvers = make(map[string]HeaderResolver)
	}
	h.resolvers[key] = resolver
}

// Get returns the value for key, resolving it if needed: local value
// first, then the local resolver, then the parent chain.
func (h *LazyHeader) Get(ctx context.Context, key string) (string, error) {
	h.mu.Lock()
	if value, ok := h.values[key]; ok {
		h.mu.Unlock()
		return value, nil
	}
	resolver := h.resolvers[key]
	h.mu.Unlock()

	if resolver != nil {
		value, err := resolver(ctx)
		if err != nil {
			return "", err
		}
		h.mu.Lock()
		h.values[key] = value
		h.mu.Unlock()
		return value, nil
	}

	if h.parent != nil {
		return h.parent.Get(ctx, key)
	}
	return "", withPath(ErrNotFound, key)
}

// Snapshot resolves every declared key and returns a plain Header,
// suitable for Stat.
func (h *LazyHeader) Snapshot(ctx context.Context) (Header, error) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.resolvers))
	for key := range h.resolvers {
		keys = append(keys, key)
	}
	h.mu.Unlock()

	for _, key := range keys {
		if _, err := h.Get(ctx, key); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.values.clone(), nil
}
