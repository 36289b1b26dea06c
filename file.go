package jmod

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/jmod/internal/sizing"
)

// DefaultMaxEntrySize is the default limit for File.ReadFile (256MB).
const DefaultMaxEntrySize = 256 << 20

// File provides read access to the sections of a container.
//
// A File is not safe for concurrent use with Close. Streams returned by Open
// read through io.ReaderAt and may be consumed concurrently, but none of them
// may be used after the File is closed.
type File struct {
	path         string
	version      Version
	closer       io.Closer // nil when the caller owns the source
	zr           *zip.Reader
	index        map[string]*zip.File
	closed       bool
	maxEntrySize uint64
	zstd         bool
	logger       *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (f *File) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Open validates the header of the container at path and opens the archive
// behind it. Nothing is left open when Open returns an error.
func Open(path string, opts ...Option) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			_ = osf.Close() //nolint:errcheck // best-effort cleanup on failed open
		}
	}()

	info, err := osf.Stat()
	if err != nil {
		return nil, err
	}
	f, err := newFile(path, osf, info.Size(), opts)
	if err != nil {
		return nil, err
	}
	f.closer = osf
	success = true
	return f, nil
}

// NewFile opens a container held by r, which must expose size bytes starting
// with the header. If r implements io.Closer, Close closes it.
func NewFile(r io.ReaderAt, size int64, opts ...Option) (*File, error) {
	f, err := newFile("", r, size, opts)
	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	return f, nil
}

func newFile(path string, r io.ReaderAt, size int64, opts []Option) (*File, error) {
	f := &File{
		path:         path,
		maxEntrySize: DefaultMaxEntrySize,
		zstd:         true,
	}
	for _, opt := range opts {
		opt(f)
	}

	version, err := ReadHeader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	f.version = version

	zr, err := zip.NewReader(io.NewSectionReader(r, HeaderSize, size-HeaderSize), size-HeaderSize)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	if f.zstd {
		zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	}
	f.zr = zr

	f.index = make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		if _, dup := f.index[zf.Name]; !dup {
			f.index[zf.Name] = zf
		}
	}

	f.log().Debug("opened container", "path", path, "version", version.String(), "entries", len(zr.File))
	return f, nil
}

// Path returns the path the container was opened from, or "" for NewFile.
func (f *File) Path() string {
	return f.path
}

// Version returns the format version stored in the header.
func (f *File) Version() Version {
	return f.version
}

// Close releases the underlying archive. Calling Close more than once is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.zr = nil
	f.index = nil
	f.log().Debug("closed container", "path", f.path)
	if f.closer == nil {
		return nil
	}
	if err := f.closer.Close(); err != nil {
		return &fs.PathError{Op: "close", Path: f.path, Err: err}
	}
	return nil
}

func (f *File) errClosed(op string) error {
	return &fs.PathError{Op: op, Path: f.path, Err: fs.ErrClosed}
}

// Open returns a stream of the decompressed content of the named entry in
// section. The caller must close the stream, and must not close the File
// while the stream is in use. Corrupt data is reported by Read.
func (f *File) Open(section Section, name string) (io.ReadCloser, error) {
	if f.closed {
		return nil, f.errClosed("open")
	}
	zf, ok := f.index[section.Dir()+"/"+name]
	if !ok || isDirEntry(zf) {
		return nil, &EntryNotFoundError{Section: section, Name: name, File: f.path}
	}
	return f.openRaw(zf)
}

// OpenEntry returns a stream of the decompressed content of e, which must
// have been produced by this File's Entries.
func (f *File) OpenEntry(e Entry) (io.ReadCloser, error) {
	if f.closed {
		return nil, f.errClosed("open")
	}
	if e.raw == nil {
		return f.Open(e.Section, e.Name)
	}
	return f.openRaw(e.raw)
}

func (f *File) openRaw(zf *zip.File) (io.ReadCloser, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: f.path + "!" + zf.Name, Err: err}
	}
	return rc, nil
}

// ReadFile returns the whole decompressed content of the named entry.
// Entries larger than the WithMaxEntrySize limit fail with ErrSizeOverflow.
func (f *File) ReadFile(section Section, name string) ([]byte, error) {
	rc, err := f.Open(section, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := sizing.ReadAllWithLimit(rc, f.maxEntrySize)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", section.Dir(), name, err)
	}
	return data, nil
}

// Digest returns the SHA-256 digest of the decompressed content of the named entry.
func (f *File) Digest(section Section, name string) (digest.Digest, error) {
	rc, err := f.Open(section, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	d, err := digest.FromReader(rc)
	if err != nil {
		return "", fmt.Errorf("digest %s/%s: %w", section.Dir(), name, err)
	}
	return d, nil
}

// Entries returns an iterator over the file entries of the container in
// archive order. Directory placeholders are skipped.
//
// A raw entry whose path does not follow the "<section>/<name>" layout is
// reported as a (zero Entry, *EntryPathError) pair and iteration continues
// with the next raw entry; callers that treat it as fatal should stop. Each
// call returns an independent sequence. On a closed File the sequence yields
// a single error wrapping fs.ErrClosed.
func (f *File) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if f.closed {
			yield(Entry{}, f.errClosed("entries"))
			return
		}
		for _, zf := range f.zr.File {
			if f.closed {
				yield(Entry{}, f.errClosed("entries"))
				return
			}
			if isDirEntry(zf) {
				f.log().Debug("skipped directory entry", "path", f.path, "entry", zf.Name)
				continue
			}
			e, err := entryFromZip(zf)
			if err != nil {
				f.log().Debug("malformed entry", "path", f.path, "entry", zf.Name, "error", err)
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// EntriesIn returns an iterator over the entries of a single section.
// Malformed entries are still reported so that corrupt containers are not
// mistaken for empty sections.
func (f *File) EntriesIn(section Section) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range f.Entries() {
			if err == nil && e.Section != section {
				continue
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// SectionFS returns a read-only fs.FS rooted at the directory of section.
// The returned FS must not be used after the File is closed.
func (f *File) SectionFS(section Section) (fs.FS, error) {
	if f.closed {
		return nil, f.errClosed("sectionfs")
	}
	if !section.Valid() {
		return nil, &fs.PathError{Op: "sectionfs", Path: f.path, Err: fs.ErrInvalid}
	}
	sub, err := fs.Sub(f.zr, section.Dir())
	if err != nil {
		return nil, &fs.PathError{Op: "sectionfs", Path: f.path, Err: err}
	}
	return sub, nil
}

// collect drains seq, joining the errors it reports.
func collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var (
		entries []Entry
		errs    []error
	)
	for e, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}

// List returns every entry of the container. Malformed entries are skipped
// and their errors returned joined together alongside the valid entries.
func (f *File) List() ([]Entry, error) {
	return collect(f.Entries())
}
