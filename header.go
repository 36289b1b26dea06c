package jmod

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// HeaderSize is the length of the container header in bytes.
const HeaderSize = 4

// Header magic and the newest version this reader understands.
const (
	Magic0 byte = 0x4A // 'J'
	Magic1 byte = 0x4D // 'M'

	MajorVersion uint8 = 0x01
	MinorVersion uint8 = 0x00
)

// SupportedVersion is the newest container version this reader accepts.
var SupportedVersion = Version{Major: MajorVersion, Minor: MinorVersion}

// Version is a container format version.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Readable reports whether a reader supporting v can open a container
// written with version stored. Older majors are always accepted; within the
// same major, the stored minor must not be newer.
func (v Version) Readable(stored Version) bool {
	if stored.Major != v.Major {
		return stored.Major < v.Major
	}
	return stored.Minor <= v.Minor
}

// ValidateHeader checks the magic bytes and version of a container header
// and returns the stored version.
func ValidateHeader(hdr [HeaderSize]byte) (Version, error) {
	if hdr[0] != Magic0 || hdr[1] != Magic1 {
		return Version{}, ErrInvalidMagic
	}
	stored := Version{Major: hdr[2], Minor: hdr[3]}
	if !SupportedVersion.Readable(stored) {
		return stored, &UnsupportedVersionError{Stored: stored, Supported: SupportedVersion}
	}
	return stored, nil
}

// ReadHeader reads exactly HeaderSize bytes from r and validates them.
// A stream shorter than the header fails with ErrInvalidMagic.
func ReadHeader(r io.Reader) (Version, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Version{}, fmt.Errorf("%w: truncated header", ErrInvalidMagic)
		}
		return Version{}, fmt.Errorf("read header: %w", err)
	}
	return ValidateHeader(hdr)
}

// CheckMagic validates the header of the container at path without opening
// the archive behind it.
func CheckMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := ReadHeader(f); err != nil {
		return &fs.PathError{Op: "checkmagic", Path: path, Err: err}
	}
	return nil
}
