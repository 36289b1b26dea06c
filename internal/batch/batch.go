// Package batch writes many archive entries to a sink with bounded parallelism.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/jmod/internal/sizing"
)

// Stats summarizes a Process call.
type Stats struct {
	FileCount  int
	TotalBytes uint64
	Skipped    int
}

// Processor copies job content into a Sink.
type Processor struct {
	workers     int // 0 = auto, <0 = serial, >0 = fixed count
	maxFileSize uint64
	logger      *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithMaxFileSize rejects jobs whose content exceeds limit bytes.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) ProcessorOption {
	return func(p *Processor) {
		p.maxFileSize = limit
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) workerCount(jobs int) int {
	if p.workers < 0 {
		return 1
	}
	n := p.workers
	if n == 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return max(1, min(n, jobs))
}

// Process writes every job to sink. Jobs rejected by sink.ShouldProcess are
// counted as skipped. Processing stops on the first error or when ctx is
// cancelled; the first error is returned.
func (p *Processor) Process(ctx context.Context, jobs []*Job, sink Sink) (Stats, error) {
	if len(jobs) == 0 {
		return Stats{}, nil
	}

	var (
		files   atomic.Int64
		bytes   atomic.Uint64
		skipped atomic.Int64
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workerCount(len(jobs)))
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !sink.ShouldProcess(job) {
				skipped.Add(1)
				p.log().Debug("skipping existing file", "path", job.Path)
				return nil
			}
			n, err := p.processJob(job, sink)
			if err != nil {
				return err
			}
			files.Add(1)
			bytes.Add(n)
			p.log().Debug("wrote file", "path", job.Path, "bytes", n)
			return nil
		})
	}
	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := Stats{
		FileCount:  int(files.Load()),
		TotalBytes: bytes.Load(),
		Skipped:    int(skipped.Load()),
	}
	return stats, err
}

func (p *Processor) processJob(job *Job, sink Sink) (uint64, error) {
	if !sizing.Within(job.Size, p.maxFileSize) {
		return 0, fmt.Errorf("extract %s: %w", job.Path, sizing.ErrSizeOverflow)
	}

	rc, err := job.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	w, err := sink.Writer(job)
	if err != nil {
		return 0, err
	}

	var src io.Reader = rc
	if p.maxFileSize > 0 {
		src = io.LimitReader(rc, int64(min(p.maxFileSize, uint64(1<<62)))+1) //nolint:gosec // bounded above
	}
	n, err := io.Copy(w, src)
	if err == nil && !sizing.Within(uint64(n), p.maxFileSize) { //nolint:gosec // n is non-negative
		err = sizing.ErrSizeOverflow
	}
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return 0, fmt.Errorf("extract %s: %w", job.Path, err)
	}
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return uint64(n), nil //nolint:gosec // n is non-negative
}
