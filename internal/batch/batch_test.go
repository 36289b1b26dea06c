package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/jmod/internal/sizing"
)

func job(path string, content []byte) *Job {
	return &Job{
		Path: path,
		Size: uint64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	jobs := []*Job{
		job("a/one.txt", []byte("one")),
		job("a/b/two.txt", []byte("two!")),
		job("three.txt", nil),
	}

	for _, workers := range []int{-1, 0, 2} {
		stats, err := NewProcessor(WithWorkers(workers)).Process(context.Background(), jobs, NewFileSink(dest, WithOverwrite(true)))
		require.NoError(t, err)
		assert.Equal(t, 3, stats.FileCount)
		assert.Equal(t, uint64(7), stats.TotalBytes)
	}

	got, err := os.ReadFile(filepath.Join(dest, "a", "b", "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two!", string(got))
}

func TestProcessEmpty(t *testing.T) {
	t.Parallel()

	stats, err := NewProcessor().Process(context.Background(), nil, NewFileSink(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestProcessOpenError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	jobs := []*Job{{
		Path: "x",
		Open: func() (io.ReadCloser, error) { return nil, boom },
	}}
	_, err := NewProcessor().Process(context.Background(), jobs, NewFileSink(t.TempDir()))
	require.ErrorIs(t, err, boom)
}

func TestProcessSizeLimit(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()

	// Declared size over the limit.
	_, err := NewProcessor(WithMaxFileSize(2)).Process(context.Background(),
		[]*Job{job("big", []byte("abc"))}, NewFileSink(dest))
	require.ErrorIs(t, err, sizing.ErrSizeOverflow)

	// Declared size lies; the stream is still bounded.
	lying := job("liar", []byte("abcdef"))
	lying.Size = 1
	_, err = NewProcessor(WithMaxFileSize(2)).Process(context.Background(), []*Job{lying}, NewFileSink(dest))
	require.ErrorIs(t, err, sizing.ErrSizeOverflow)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileSinkRejectsInvalidPaths(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir())
	for _, p := range []string{"../escape", "/abs", "a/../../b", ".", ""} {
		_, err := sink.Writer(&Job{Path: p})
		require.ErrorIs(t, err, fs.ErrInvalid, "path %q", p)
	}
}

func TestFileSinkDiscard(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	sink := NewFileSink(dest)

	w, err := sink.Writer(&Job{Path: "dir/file"})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(filepath.Join(dest, "dir"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".jmod-"), "temp file %s left behind", e.Name())
	}
	_, err = os.Stat(filepath.Join(dest, "dir", "file"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileSinkShouldProcess(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "exists"), []byte("x"), 0o600))

	assert.False(t, NewFileSink(dest).ShouldProcess(&Job{Path: "exists"}))
	assert.True(t, NewFileSink(dest).ShouldProcess(&Job{Path: "missing"}))
	assert.True(t, NewFileSink(dest, WithOverwrite(true)).ShouldProcess(&Job{Path: "exists"}))
}
