package jmod

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/meigma/jmod/internal/batch"
)

// ExtractStats summarizes an Extract call.
type ExtractStats struct {
	FileCount  int
	TotalBytes uint64
	Skipped    int
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	sections      []Section
	overwrite     bool
	preserveTimes bool
	workers       int
}

// ExtractWithSections restricts extraction to the given sections.
// By default every section is extracted.
func ExtractWithSections(sections ...Section) ExtractOption {
	return func(c *extractConfig) {
		c.sections = append(c.sections, sections...)
	}
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveTimes applies archived modification times to extracted files.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers sets the number of files written concurrently.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// Extract writes the container's entries to destDir, each at
// "<destDir>/<section dir>/<name>". destDir is created if needed.
//
// Files are written atomically using temp files and renames. Names that
// would escape destDir are rejected with fs.ErrInvalid. Extraction stops at
// the first malformed entry, write failure or cancellation of ctx; the
// returned stats cover the files written until then.
func (f *File) Extract(ctx context.Context, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if f.closed {
		return ExtractStats{}, f.errClosed("extract")
	}

	var jobs []*batch.Job //nolint:prealloc // size unknown until iteration
	for e, err := range f.Entries() {
		if err != nil {
			return ExtractStats{}, err
		}
		if len(cfg.sections) > 0 && !slices.Contains(cfg.sections, e.Section) {
			continue
		}
		if !fs.ValidPath(e.Name) {
			return ExtractStats{}, &fs.PathError{Op: "extract", Path: e.Path(), Err: fs.ErrInvalid}
		}
		jobs = append(jobs, &batch.Job{
			Path:     e.Path(),
			Size:     e.Size,
			Modified: e.Modified,
			Open: func() (io.ReadCloser, error) {
				return f.OpenEntry(e)
			},
		})
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return ExtractStats{}, fmt.Errorf("create destination %s: %w", destDir, err)
	}

	sink := batch.NewFileSink(destDir,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveTimes(cfg.preserveTimes),
	)
	proc := batch.NewProcessor(
		batch.WithWorkers(cfg.workers),
		batch.WithMaxFileSize(f.maxEntrySize),
		batch.WithProcessorLogger(f.logger),
	)
	stats, err := proc.Process(ctx, jobs, sink)
	return ExtractStats(stats), err
}
