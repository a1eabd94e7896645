// Package rfs presents heterogeneous remote object stores (S3-style
// buckets, SFTP servers, plain HTTP endpoints, etc.) through a single
// POSIX-like filesystem abstraction: path resolution, directory listing,
// stat and byte-range I/O, independent of which backend holds the data.
//
// A System turns an absolute path or URL into backend-native addressing,
// synthesizes directory semantics where the backend has none, and builds
// POSIX-like metadata from arbitrary header formats. Streams layer a
// seekable, bufferable, concurrently-pipelined byte interface over the
// backend's range-read and whole-object-write primitives, including
// chunked multipart upload coordination.
//
// Basic usage:
//
//	sys, _ := s3.New(s3.Config{Region: "us-east-1"})
//	f, _ := sys.OpenBuffered(ctx, "s3://bucket/key", rfs.ModeRead, rfs.StreamOptions{})
//	defer f.Close()
//	io.Copy(dst, f)
package rfs

// Mode selects the I/O direction of a stream.
type Mode int

const (
	// ModeRead opens the object for sequential and range reads.
	ModeRead Mode = iota

	// ModeWrite opens the object for writing. The object is created or
	// replaced when the stream is closed.
	ModeWrite

	// ModeAppend opens the object for writing, preloading its current
	// content. Only supported by raw streams.
	ModeAppend
)

// String returns the mode letter, matching open() conventions.
func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "w"
	case ModeAppend:
		return "a"
	default:
		return "r"
	}
}
