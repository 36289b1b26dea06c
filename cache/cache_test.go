package cache

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	data     []byte
	sourceID string
	reads    atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *countingSource) Size() int64 {
	return int64(len(s.data))
}

func (s *countingSource) SourceID() string {
	return s.sourceID
}

func alphabet() *countingSource {
	return &countingSource{
		data:     []byte("abcdefghijklmnopqrstuvwxyz"),
		sourceID: "https://example.test/a.jmod#\"v1\"",
	}
}

func TestReaderReuse(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	src := alphabet()
	r, err := c.Wrap(src, WithBlockSize(8))
	require.NoError(t, err)
	assert.Equal(t, src.Size(), r.Size())
	assert.Equal(t, src.sourceID, r.SourceID())

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(buf[:n]))
	assert.Equal(t, int64(1), src.reads.Load())

	buf = make([]byte, 3)
	_, err = r.ReadAt(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, "fgh", string(buf))
	assert.Equal(t, int64(1), src.reads.Load(), "second read should hit the cache")

	buf = make([]byte, 4)
	_, err = r.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "ghij", string(buf))
	assert.Equal(t, int64(2), src.reads.Load(), "read spanning into block 1 fetches it")

	assert.Equal(t, int64(16), c.SizeBytes())
}

func TestReaderSharedAcrossWraps(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	src := alphabet()
	r, err := c.Wrap(src, WithBlockSize(8))
	require.NoError(t, err)
	_, err = r.ReadAt(make([]byte, 8), 0)
	require.NoError(t, err)

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(8), reopened.SizeBytes())

	fresh := alphabet()
	r2, err := reopened.Wrap(fresh, WithBlockSize(8))
	require.NoError(t, err)
	buf := make([]byte, 8)
	_, err = r2.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf))
	assert.Zero(t, fresh.reads.Load())
}

func TestReaderTail(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	r, err := c.Wrap(alphabet(), WithBlockSize(8))
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := r.ReadAt(buf, 20)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "uvwxyz", string(buf[:n]))

	n, err = r.ReadAt(buf, 26)
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)

	_, err = r.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestReaderBypassLargeReads(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	src := alphabet()
	r, err := c.Wrap(src, WithBlockSize(4), WithMaxBlocksPerRead(2))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", string(buf))
	assert.Zero(t, c.SizeBytes())
}

func TestReaderConcurrentMisses(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	src := alphabet()
	r, err := c.Wrap(src, WithBlockSize(32))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			buf := make([]byte, 4)
			_, err := r.ReadAt(buf, 0)
			assert.NoError(t, err)
			assert.Equal(t, "abcd", string(buf))
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, src.reads.Load(), int64(8))
	assert.Equal(t, int64(26), c.SizeBytes())
}

func TestWrapErrors(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = c.Wrap(nil)
	require.Error(t, err)

	_, err = c.Wrap(&countingSource{data: []byte("x")})
	require.Error(t, err)

	_, err = c.Wrap(alphabet(), WithBlockSize(0))
	require.Error(t, err)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)

	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
}

func TestMaxBytesPrunesOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(16), WithShardPrefixLen(0))
	require.NoError(t, err)
	assert.Equal(t, int64(16), c.MaxBytes())

	r, err := c.Wrap(alphabet(), WithBlockSize(8))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	for i, off := range []int64{0, 8, 16} {
		_, err := r.ReadAt(make([]byte, 8), off)
		require.NoError(t, err)
		if i == 0 {
			// Make the first block unambiguously the oldest.
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.NoError(t, os.Chtimes(filepath.Join(dir, entries[0].Name()), past, past))
		}
	}
	assert.LessOrEqual(t, c.SizeBytes(), int64(16))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	_, err = os.Stat(filepath.Join(dir, blockKey(alphabet().sourceID, 8, 0)))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)
	r, err := c.Wrap(alphabet(), WithBlockSize(8))
	require.NoError(t, err)
	_, err = r.ReadAt(make([]byte, 16), 0)
	require.NoError(t, err)
	require.Equal(t, int64(16), c.SizeBytes())

	freed, err := c.Prune(-1)
	require.NoError(t, err)
	assert.Equal(t, int64(16), freed)
	assert.Zero(t, c.SizeBytes())
}

func TestCorruptBlockRefetched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)
	src := alphabet()
	r, err := c.Wrap(src, WithBlockSize(8))
	require.NoError(t, err)

	path := filepath.Join(dir, blockKey(src.sourceID, 8, 0))
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	buf := make([]byte, 8)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf))
	assert.Equal(t, int64(1), src.reads.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(data))
}
