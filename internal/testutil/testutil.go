// Package testutil builds container fixtures for tests.
package testutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// Header is the header written by BuildContainer unless overridden.
var Header = [4]byte{0x4A, 0x4D, 0x01, 0x00}

// TestEntry describes a raw zip entry in a fixture container.
type TestEntry struct {
	// Path is the raw stored path, e.g. "classes/module-info.class".
	Path string

	// Data is the stored content. Ignored for directories.
	Data []byte

	// Method is the zip compression method (zip.Store, zip.Deflate or
	// zstd.ZipMethodWinZip). Zero means zip.Store.
	Method uint16

	// Modified is recorded in the entry header when non-zero.
	Modified time.Time
}

// Dir returns a directory placeholder entry for path, which must end in "/".
func Dir(path string) TestEntry {
	return TestEntry{Path: path}
}

// BuildContainer returns a container with the given header and entries.
func BuildContainer(t testing.TB, header []byte, entries []TestEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(header)

	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, e := range entries {
		fh := &zip.FileHeader{
			Name:     e.Path,
			Method:   e.Method,
			Modified: e.Modified,
		}
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		if len(e.Path) > 0 && e.Path[len(e.Path)-1] == '/' {
			continue
		}
		_, err = w.Write(e.Data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteContainer writes a container with the default header to a new file
// in a temporary directory and returns its path.
func WriteContainer(t testing.TB, entries []TestEntry) string {
	t.Helper()
	return WriteFile(t, BuildContainer(t, Header[:], entries))
}

// WriteFile writes raw bytes to a new file in a temporary directory and
// returns its path.
func WriteFile(t testing.TB, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.jmod")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// MockByteSource implements io.ReaderAt and io.Closer over a byte slice and
// counts Close calls.
type MockByteSource struct {
	data   []byte
	closes atomic.Int32
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Close records the call.
func (m *MockByteSource) Close() error {
	m.closes.Add(1)
	return nil
}

// Closes returns how many times Close was called.
func (m *MockByteSource) Closes() int {
	return int(m.closes.Load())
}
