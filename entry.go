package jmod

import (
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry is a file stored in one section of a container.
//
// An Entry obtained from File.Entries refers to the container it came from
// and is only usable while that File is open.
type Entry struct {
	// Section is the group the file belongs to.
	Section Section

	// Name is the path relative to the section directory (e.g., "com/foo/Bar.class").
	Name string

	// Size is the uncompressed size in bytes.
	Size uint64

	// Modified is the modification time recorded by the archive, if any.
	Modified time.Time

	raw *zip.File
}

// Path returns the stored path of the entry, "<section dir>/<name>".
func (e Entry) Path() string {
	return e.Section.Dir() + "/" + e.Name
}

func (e Entry) String() string {
	return e.Path()
}

// ParseEntry maps a raw archive path and uncompressed size to an Entry.
//
// The path must be "<section dir>/<name>" with a known section directory of
// at least two characters and a non-empty name. Directory placeholders such
// as "classes/" are rejected; File.Entries filters them out before parsing.
func ParseEntry(path string, size uint64) (Entry, error) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return Entry{}, &EntryPathError{Path: path, Err: errNoSeparator}
	}
	if i <= 1 {
		return Entry{}, &EntryPathError{Path: path, Err: errShortPrefix}
	}
	section, err := ParseSection(path[:i])
	if err != nil {
		return Entry{}, &EntryPathError{Path: path, Err: err}
	}
	name := path[i+1:]
	if name == "" {
		return Entry{}, &EntryPathError{Path: path, Err: errEmptyName}
	}
	return Entry{Section: section, Name: name, Size: size}, nil
}

// entryFromZip parses a raw zip entry, keeping the reference needed to open it.
func entryFromZip(zf *zip.File) (Entry, error) {
	e, err := ParseEntry(zf.Name, zf.UncompressedSize64)
	if err != nil {
		return Entry{}, err
	}
	e.Modified = zf.Modified
	e.raw = zf
	return e, nil
}

// isDirEntry reports whether a raw zip entry is a directory placeholder.
func isDirEntry(zf *zip.File) bool {
	return strings.HasSuffix(zf.Name, "/") || zf.Mode().IsDir()
}
