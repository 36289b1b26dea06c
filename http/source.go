// Package http reads containers served over HTTP without downloading them.
//
// A Source issues one range request per ReadAt, so only the archive's
// central directory and the entries actually opened are transferred.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meigma/jmod"
	"github.com/meigma/jmod/cache"
)

var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("jmod/http: range requests not supported")

	// ErrContentChanged is returned when the remote container no longer
	// matches the validators captured by NewSource.
	ErrContentChanged = errors.New("jmod/http: remote content changed")
)

// Source implements io.ReaderAt over a remote container using HTTP range
// requests. Reads are pinned to the strong ETag or Last-Modified value
// observed when the Source was created.
type Source struct {
	readCtx      context.Context //nolint:containedctx // ReadAt has no ctx parameter
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	logger       *slog.Logger
	cache        *cache.Cache
	cacheOpts    []cache.WrapOption
	limiter      *rate.Limiter
	metrics      *Metrics
	size         int64
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithLogger sets the logger for request tracing.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithCache serves reads made by Container through c. Sources whose server
// sends neither ETag nor Last-Modified are read uncached.
func WithCache(c *cache.Cache, opts ...cache.WrapOption) Option {
	return func(s *Source) {
		s.cache = c
		s.cacheOpts = opts
	}
}

// WithRateLimit makes each request wait for a token from limiter.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(s *Source) {
		s.limiter = limiter
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Source) {
		s.metrics = m
	}
}

// WithReadContext sets the context for requests made by ReadAt. It defaults
// to context.Background, so the context given to NewSource bounds only the
// probe.
func WithReadContext(ctx context.Context) Option {
	return func(s *Source) {
		s.readCtx = ctx
	}
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// NewSource probes url for its size and validators. ctx bounds the probe
// only; use WithReadContext to bound later reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		readCtx: context.Background(),
		url:     url,
		client:  nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.readCtx == nil {
		s.readCtx = context.Background()
	}

	if err := s.probe(ctx); err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	s.log().Debug("probed remote container", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// Container opens the container served at url. The returned File reads
// through a Source; closing it releases nothing remote.
func Container(ctx context.Context, url string, srcOpts []Option, opts ...jmod.Option) (*jmod.File, error) {
	src, err := NewSource(ctx, url, srcOpts...)
	if err != nil {
		return nil, err
	}
	if src.cache == nil || src.SourceID() == "" {
		if src.cache != nil {
			src.log().Warn("remote container has no validators, reading uncached", "url", url)
		}
		return jmod.NewFile(src, src.Size(), opts...)
	}
	cr, err := src.cache.Wrap(src, src.cacheOpts...)
	if err != nil {
		return nil, err
	}
	return jmod.NewFile(cr, cr.Size(), opts...)
}

// URL returns the remote location.
func (s *Source) URL() string {
	return s.url
}

// Size returns the total size of the remote container.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies the remote content by URL and validator, or returns ""
// when the server sent neither a strong ETag nor Last-Modified. Weak ETags
// do not promise identical bytes, so they never identify cached blocks.
func (s *Source) SourceID() string {
	switch {
	case s.etag != "" && !isWeak(s.etag):
		return s.url + "#" + s.etag
	case s.lastModified != "":
		return s.url + "#" + s.lastModified
	default:
		return ""
	}
}

// ReadAt reads len(p) bytes starting at off with a single range request.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), s.size) - 1
	want := int(end - off + 1)

	resp, err := s.get(s.readCtx, fmt.Sprintf("bytes=%d-%d", off, end))
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, ErrContentChanged
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	s.metrics.read(n)
	if err != nil {
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// probe sizes the container with a one-byte range request. A HEAD response,
// when the server answers one, must agree with it.
func (s *Source) probe(ctx context.Context) error {
	headSize := int64(-1)
	if resp, err := s.do(ctx, nethttp.MethodHead, ""); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
		}
		drain(resp)
	}

	resp, err := s.get(ctx, "bytes=0-0")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		return ErrContentChanged
	default:
		return fmt.Errorf("range probe failed: %s", resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	return nil
}

func (s *Source) get(ctx context.Context, byteRange string) (*nethttp.Response, error) {
	return s.do(ctx, nethttp.MethodGet, byteRange)
}

func (s *Source) do(ctx context.Context, method, byteRange string) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Compressed transfer would break byte offsets.
	req.Header.Set("Accept-Encoding", "identity")
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	if method == nethttp.MethodGet {
		// If-Match compares strongly; a weak ETag would always fail it.
		if s.etag != "" && !isWeak(s.etag) && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.throttled()
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.observe(method, 0, start)
		return nil, err
	}
	s.metrics.observe(method, resp.StatusCode, start)
	return resp, nil
}

func isWeak(etag string) bool {
	return strings.HasPrefix(etag, "W/")
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // connection reuse only
	_ = resp.Body.Close()                 //nolint:errcheck // read-only body
}

// parseContentRange returns the complete length from a
// "bytes <first>-<last>/<length>" header value.
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
