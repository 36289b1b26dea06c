// Package sizing provides safe size arithmetic and bounded reads.
package sizing

import (
	"errors"
	"io"
	"math"
)

// ErrSizeOverflow is returned when a byte count exceeds a limit or does not
// fit the target integer type.
var ErrSizeOverflow = errors.New("jmod: size overflow")

// ToInt64 converts a uint64 to int64, returning ErrSizeOverflow if it doesn't fit.
func ToInt64(size uint64) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, ErrSizeOverflow
	}
	return int64(size), nil
}

// Within reports whether size is allowed by limit. A zero limit allows any size.
func Within(size, limit uint64) bool {
	return limit == 0 || size <= limit
}

// ReadAllWithLimit reads r to EOF, failing with ErrSizeOverflow once more
// than maxSize bytes are available. A zero maxSize disables the limit.
func ReadAllWithLimit(r io.Reader, maxSize uint64) ([]byte, error) {
	if maxSize == 0 {
		return io.ReadAll(r)
	}
	if maxSize > uint64(math.MaxInt-1) {
		return nil, ErrSizeOverflow
	}
	limit := int64(maxSize) + 1 //nolint:gosec // checked above
	lr := &io.LimitedReader{R: r, N: limit}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize { //nolint:gosec // len is always non-negative
		return nil, ErrSizeOverflow
	}
	return data, nil
}
