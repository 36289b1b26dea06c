package jmod

import "log/slog"

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger used for debug records about the container.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// WithMaxEntrySize limits the size of content returned by ReadFile and
// written by Extract. Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(f *File) {
		f.maxEntrySize = limit
	}
}

// WithZstd controls whether zstd-compressed entries (zip method 93) can be
// read. Enabled by default.
func WithZstd(enabled bool) Option {
	return func(f *File) {
		f.zstd = enabled
	}
}
