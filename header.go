package rfs

import (
	"net/http"
	"strconv"
	"time"
)

// consumeSize extracts the object size from a header. Each backend
// declares an ordered list of candidate field names; the first present
// field wins and is removed from the header.
func consumeSize(h Header, keys []string) (int64, error) {
	for _, key := range keys {
		value, ok := h[key]
		if !ok {
			continue
		}
		delete(h, key)
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, err
		}
		return size, nil
	}
	return 0, ErrNotSupported
}

// consumeTime extracts a timestamp from a header, first candidate field
// wins and is removed. Returns ErrNotSupported when no candidate field is
// present, which callers must treat as "backend does not report this
// attribute".
func consumeTime(h Header, keys []string) (time.Time, error) {
	for _, key := range keys {
		value, ok := h[key]
		if !ok {
			continue
		}
		delete(h, key)
		return parseHeaderTime(value)
	}
	return time.Time{}, ErrNotSupported
}

// parseHeaderTime accepts the timestamp formats the backends in scope
// produce: HTTP dates, RFC 3339, and epoch seconds (integer or
// fractional).
func parseHeaderTime(value string) (time.Time, error) {
	if t, err := http.ParseTime(value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*float64(time.Second))), nil
}
