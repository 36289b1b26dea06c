// Package cache keeps blocks of remote containers on local disk.
//
// Opening a container reads its trailing central directory and then the
// entries the caller asks for. Against a remote source each of those reads is
// a round trip; a Cache stores them in fixed-size blocks so that listing or
// reopening the same container is served locally.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBlockSize is the size of each cached block.
	DefaultBlockSize int64 = 64 << 10

	// DefaultMaxBlocksPerRead caps the blocks cached for one ReadAt. Larger
	// reads, such as streaming a big entry, go straight to the source.
	DefaultMaxBlocksPerRead = 4

	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Source is a random-access container source that can be cached.
type Source interface {
	io.ReaderAt

	// Size returns the total size of the source in bytes.
	Size() int64

	// SourceID identifies the content. It must change whenever the bytes
	// behind the source change.
	SourceID() string
}

// Cache is a disk-backed block cache. It is safe for concurrent use.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64 // 0 = unlimited
	bytes          atomic.Int64
	fetchGroup     singleflight.Group // one fetch per block key
	pruneMu        sync.Mutex
	logger         *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes bounds the total size of cached blocks. The oldest blocks are
// removed to make room. Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = max(n, 0)
	}
}

// WithShardPrefixLen sets the number of hex characters of a block key used
// as a subdirectory. Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithLogger sets the logger for cache activity.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// New creates a cache rooted at dir, creating dir if needed. Blocks already
// present count towards the size limit.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache: dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("cache: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// MaxBytes returns the configured size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current size of cached blocks.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest blocks until the cache is at or below
// targetBytes. It returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	if freed > 0 {
		c.log().Debug("pruned block cache", "dir", c.dir, "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

// WrapOption configures a Reader.
type WrapOption func(*Reader)

// WithBlockSize sets the block size. Blocks are keyed by size, so readers with
// different block sizes do not share entries.
func WithBlockSize(n int64) WrapOption {
	return func(r *Reader) {
		r.blockSize = n
	}
}

// WithMaxBlocksPerRead bypasses the cache when a ReadAt spans more than n
// blocks. Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(r *Reader) {
		r.maxBlocksPerRead = n
	}
}

// Wrap returns a Reader that serves reads of src through the cache.
func (c *Cache) Wrap(src Source, opts ...WrapOption) (*Reader, error) {
	if src == nil {
		return nil, errors.New("cache: source is nil")
	}
	r := &Reader{
		src:              src,
		cache:            c,
		sourceID:         src.SourceID(),
		blockSize:        DefaultBlockSize,
		maxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.blockSize <= 0 || r.blockSize > math.MaxInt32 {
		return nil, fmt.Errorf("cache: invalid block size %d", r.blockSize)
	}
	if r.sourceID == "" {
		return nil, errors.New("cache: source id is empty")
	}
	return r, nil
}

// Reader is an io.ReaderAt over a cached Source.
type Reader struct {
	src              Source
	cache            *Cache
	sourceID         string
	blockSize        int64
	maxBlocksPerRead int
}

// Size returns the size of the underlying source.
func (r *Reader) Size() int64 {
	return r.src.Size()
}

// SourceID returns the identifier of the underlying source.
func (r *Reader) SourceID() string {
	return r.sourceID
}

// ReadAt reads len(p) bytes at off, fetching missing blocks from the source.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := r.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), size)
	first := off / r.blockSize
	last := (end - 1) / r.blockSize
	if r.maxBlocksPerRead > 0 && last-first+1 > int64(r.maxBlocksPerRead) {
		return r.src.ReadAt(p, off)
	}

	var n int64
	for block := first; block <= last; block++ {
		blockStart := block * r.blockSize
		blockEnd := min(blockStart+r.blockSize, size)

		data, err := r.cache.block(r.sourceID, r.blockSize, block, blockEnd-blockStart, func() ([]byte, error) {
			return r.fetch(blockStart, blockEnd-blockStart)
		})
		if err != nil {
			return int(n), err
		}

		from := max(off, blockStart)
		to := min(end, blockEnd)
		n += int64(copy(p[from-off:to-off], data[from-blockStart:to-blockStart]))
	}

	if end-off < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (r *Reader) fetch(off, length int64) ([]byte, error) {
	buf := make([]byte, int(length))
	n, err := r.src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) != length {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

// block returns the cached block, calling fetch on a miss. Concurrent
// misses on the same block share one fetch.
func (c *Cache) block(sourceID string, blockSize, index, length int64, fetch func() ([]byte, error)) ([]byte, error) {
	key := blockKey(sourceID, blockSize, index)
	v, err, _ := c.fetchGroup.Do(key, func() (any, error) {
		path := c.pathForKey(key)
		data, err := os.ReadFile(path) //nolint:gosec // path is derived from a hash
		switch {
		case err == nil && int64(len(data)) == length:
			return data, nil
		case err == nil:
			c.bytes.Add(-int64(len(data)))
			_ = os.Remove(path) //nolint:errcheck // replaced below
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}

		data, err = fetch()
		if err != nil {
			return nil, err
		}
		if err := c.write(path, data); err != nil {
			// The read still succeeds without a cached copy.
			c.log().Debug("block cache write failed", "path", path, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil //nolint:forcetypeassert // Do returns what the closure returned
}

func (c *Cache) write(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if ok, err := c.ensureCapacity(int64(len(data))); err != nil || !ok {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()        //nolint:errcheck // cleanup
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	c.bytes.Add(int64(len(data)))
	return nil
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}

func (c *Cache) pathForKey(key string) string {
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, key)
	}
	return filepath.Join(c.dir, key[:min(c.shardPrefixLen, len(key))], key)
}

// blockKey hashes the source id with the block geometry.
func blockKey(sourceID string, blockSize, index int64) string {
	h := sha256.New()
	_, _ = h.Write([]byte(sourceID)) //nolint:errcheck // hash writes never fail

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(blockSize)) //nolint:gosec // validated > 0
	binary.BigEndian.PutUint64(buf[8:], uint64(index))     //nolint:gosec // never negative
	_, _ = h.Write(buf[:])                                 //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(h.Sum(nil))
}
