package jmod

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/jmod/internal/sizing"
)

// Sentinel errors for container operations.
var (
	// ErrInvalidMagic is returned when the header does not start with the
	// container magic bytes, or when the file is too short to hold a header.
	ErrInvalidMagic = errors.New("jmod: invalid magic")

	// ErrUnsupportedVersion is returned when the header carries a version
	// newer than this reader supports.
	ErrUnsupportedVersion = errors.New("jmod: unsupported version")

	// ErrMalformedEntryPath is returned when a raw entry path does not follow
	// the "<section>/<name>" layout.
	ErrMalformedEntryPath = errors.New("jmod: malformed entry path")

	// ErrUnknownSection is returned when a directory prefix does not name a section.
	ErrUnknownSection = errors.New("jmod: unknown section")

	// ErrEntryNotFound is returned when a section has no entry with the requested name.
	ErrEntryNotFound = errors.New("jmod: entry not found")

	// ErrSizeOverflow is returned when an entry exceeds the configured size limit.
	ErrSizeOverflow = sizing.ErrSizeOverflow
)

// Causes carried by EntryPathError.
var (
	errNoSeparator = errors.New("no section separator")
	errShortPrefix = errors.New("section prefix too short")
	errEmptyName   = errors.New("empty name")
)

// UnsupportedVersionError reports a header version this reader refuses to open.
type UnsupportedVersionError struct {
	Stored    Version
	Supported Version
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("jmod: unsupported version %s (supported %s)", e.Stored, e.Supported)
}

// Unwrap returns ErrUnsupportedVersion.
func (e *UnsupportedVersionError) Unwrap() error {
	return ErrUnsupportedVersion
}

// UnknownSectionError reports a directory prefix that is not a section.
type UnknownSectionError struct {
	Dir string
}

func (e *UnknownSectionError) Error() string {
	return fmt.Sprintf("jmod: unknown section %q", e.Dir)
}

// Unwrap returns ErrUnknownSection.
func (e *UnknownSectionError) Unwrap() error {
	return ErrUnknownSection
}

// EntryPathError reports a raw entry path that cannot be mapped to a section
// and name. Err holds the cause: a short prefix, an empty name, or an
// *UnknownSectionError.
type EntryPathError struct {
	Path string
	Err  error
}

func (e *EntryPathError) Error() string {
	return fmt.Sprintf("jmod: malformed entry path %q: %v", e.Path, e.Err)
}

// Unwrap returns ErrMalformedEntryPath and the underlying cause.
func (e *EntryPathError) Unwrap() []error {
	return []error{ErrMalformedEntryPath, e.Err}
}

// EntryNotFoundError reports a missing entry in an open container.
type EntryNotFoundError struct {
	Section Section
	Name    string
	File    string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("jmod: %s not found in section %s: %s", e.Name, e.Section, e.File)
}

// Is matches ErrEntryNotFound and fs.ErrNotExist.
func (e *EntryNotFoundError) Is(target error) bool {
	return target == ErrEntryNotFound || target == fs.ErrNotExist
}
