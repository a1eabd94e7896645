package rfs

import (
	"errors"
	"fmt"
)

// Common errors returned by rfs systems and streams.
//
// Backend-native failures are translated into these sentinels at the
// backend adapter boundary; the core never inspects backend error codes.
var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("rfs: not found")

	// ErrPermissionDenied is returned when access to a path is denied.
	ErrPermissionDenied = errors.New("rfs: permission denied")

	// ErrNotSupported is returned when an operation is not implemented by
	// the backend. It is distinct from an operation failure: callers can
	// treat it as "this backend cannot do this".
	ErrNotSupported = errors.New("rfs: operation not supported")

	// ErrStreamClosed is returned when operating on a closed stream.
	ErrStreamClosed = errors.New("rfs: stream closed")

	// ErrUnknownScheme is returned by OpenSystem when the scheme name is
	// not registered.
	ErrUnknownScheme = errors.New("rfs: unknown storage scheme")

	// ErrNotMounted is returned by package-level path functions when no
	// mounted system claims the path.
	ErrNotMounted = errors.New("rfs: path does not belong to a mounted storage")
)

// IsNotFound returns true if the error indicates a path was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied returns true if the error indicates permission was denied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsNotSupported returns true if the error indicates an unsupported operation.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// withPath attaches the failing path to a taxonomy error.
// The sentinel stays matchable with errors.Is.
func withPath(err error, path string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", err, path)
}
