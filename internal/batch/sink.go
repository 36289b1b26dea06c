package batch

import (
	"io"
	"time"
)

// Job describes one file to be written by a Processor.
type Job struct {
	// Path is the slash-separated destination path relative to the sink root.
	Path string

	// Size is the expected uncompressed size in bytes.
	Size uint64

	// Modified is applied to the written file when the sink preserves times.
	Modified time.Time

	// Open returns the content stream. The Processor closes it.
	Open func() (io.ReadCloser, error)
}

// Sink receives decompressed content during batch processing.
type Sink interface {
	// ShouldProcess returns false if this job should be skipped.
	ShouldProcess(job *Job) bool

	// Writer returns a writer for the job's content.
	// The returned Committer must have Commit() called after a successful
	// copy, or Discard() called on any error.
	Writer(job *Job) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
