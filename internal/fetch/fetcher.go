// Package fetch downloads update archives into a partial file that survives
// interruption and resumes with HTTP Range requests.
//
// A Fetcher runs at most one download at a time. Starting a new Fetch cancels
// the one in flight and waits for it to close its file before the new one
// touches disk; the cancelled call returns ErrSuperseded and its partial bytes
// stay on disk for the next attempt.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/adamancini/updraft/internal/httputil"
	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/throttle"
	"github.com/adamancini/updraft/internal/types"
)

var log = logging.L("fetch")

const copyBufferSize = 32 * 1024

// Options configures a Fetcher.
type Options struct {
	// Client overrides the HTTP client. When nil one is built from the
	// timeouts below.
	Client *http.Client

	// MaxAttempts is the number of GET attempts per Fetch, each resuming
	// from the current partial size.
	// Default: 3
	MaxAttempts int

	// DialTimeout bounds TCP connection setup.
	// Default: 10s
	DialTimeout time.Duration

	// HeaderTimeout bounds the wait for response headers.
	// Default: 30s
	HeaderTimeout time.Duration

	// StallTimeout aborts an attempt when no body bytes arrive for this long.
	// Default: 60s
	StallTimeout time.Duration

	// Retry controls backoff between attempts and the HEAD retry bound.
	Retry httputil.RetryConfig

	// FreeSpace reports free bytes for a directory. Default uses gopsutil.
	// A failing check skips the preflight.
	FreeSpace func(dir string) (uint64, error)
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		DialTimeout:   10 * time.Second,
		HeaderTimeout: 30 * time.Second,
		StallTimeout:  60 * time.Second,
		Retry:         httputil.DefaultRetryConfig(),
		FreeSpace:     diskFree,
	}
}

// Request describes one download.
type Request struct {
	URL         string
	TargetPath  string
	PartialPath string

	// BytesPerSecond caps throughput; <= 0 is unlimited.
	BytesPerSecond int64

	// OnProgress, if set, is called after every chunk is written.
	OnProgress func(Progress)

	// CleanupPattern is a glob over file names in the target directory.
	// Matching partials left by earlier downloads are removed after a
	// successful Fetch. Empty leaves the directory alone.
	CleanupPattern string
}

func (r Request) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", r.URL)
	}
	if r.TargetPath == "" || r.PartialPath == "" {
		return errors.New("target and partial paths are required")
	}
	if filepath.Clean(r.TargetPath) == filepath.Clean(r.PartialPath) {
		return errors.New("partial path must differ from target path")
	}
	if r.CleanupPattern != "" {
		if _, err := filepath.Match(r.CleanupPattern, ""); err != nil || strings.ContainsRune(r.CleanupPattern, filepath.Separator) {
			return fmt.Errorf("invalid cleanup pattern %q", r.CleanupPattern)
		}
	}
	return nil
}

// Result describes a completed download.
type Result struct {
	Session Session
	Path    string
	Bytes   int64
	Resumed bool
	Elapsed time.Duration
}

// Fetcher performs resumable downloads, one at a time.
type Fetcher struct {
	opts   Options
	client *http.Client

	mu      sync.Mutex
	active  *run
	current *liveSession
}

type run struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New creates a Fetcher. Zero option fields take their defaults.
func New(opts Options) *Fetcher {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = def.HeaderTimeout
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = def.StallTimeout
	}
	if opts.Retry == (httputil.RetryConfig{}) {
		opts.Retry = def.Retry
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = def.FreeSpace
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   opts.DialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: opts.HeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				DisableCompression:    true, // raw bytes for range requests
			},
		}
	}

	return &Fetcher{opts: opts, client: client}
}

// Current returns a snapshot of the most recent session, if any.
func (f *Fetcher) Current() (Session, bool) {
	f.mu.Lock()
	cur := f.current
	f.mu.Unlock()
	if cur == nil {
		return Session{}, false
	}
	return cur.snapshot(), true
}

// Settle records the verification outcome for a finished session. It is a
// no-op if id is no longer the current session.
func (f *Fetcher) Settle(id string, verified bool) {
	f.mu.Lock()
	cur := f.current
	f.mu.Unlock()
	if cur == nil {
		return
	}
	cur.update(func(s *Session) {
		if s.ID != id {
			return
		}
		if verified {
			s.Status = types.SessionVerified
		} else {
			s.Status = types.SessionFailed
		}
	})
}

// Fetch downloads req.URL to req.TargetPath, resuming from req.PartialPath
// when it exists. It supersedes any Fetch already running on f.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	fctx, cancel := context.WithCancelCause(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	f.acquire(r)
	defer f.release(r)

	sess := newLiveSession(req)
	f.mu.Lock()
	f.current = sess
	f.mu.Unlock()

	j := &job{
		f:       f,
		req:     req,
		sess:    sess,
		limiter: throttle.New(req.BytesPerSecond),
		logger:  log.With(logging.KeySessionID, sess.snapshot().ID),
	}

	start := time.Now()
	res, err := j.run(fctx)
	if err != nil {
		// Cancelled sessions are failed too; their partial stays for the next Fetch.
		if errors.Is(context.Cause(fctx), ErrSuperseded) {
			sess.setStatus(types.SessionFailed)
			j.logger.Info("download superseded", "written", sess.snapshot().BytesWritten)
			return nil, ErrSuperseded
		}
		if ctx.Err() != nil {
			sess.setStatus(types.SessionFailed)
			j.logger.Info("download cancelled", "written", sess.snapshot().BytesWritten)
			return nil, ctx.Err()
		}
		sess.setStatus(types.SessionFailed)
		j.logger.Error("download failed", "url", req.URL, logging.KeyError, err)
		return nil, err
	}

	res.Elapsed = time.Since(start)
	res.Session = sess.snapshot()
	j.logger.Info("download complete",
		"path", res.Path,
		"size", humanize.IBytes(uint64(res.Bytes)),
		"resumed", res.Resumed,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// acquire cancels the in-flight run, waits for its teardown, and installs r.
func (f *Fetcher) acquire(r *run) {
	for {
		f.mu.Lock()
		prev := f.active
		if prev == nil {
			f.active = r
			f.mu.Unlock()
			return
		}
		prev.cancel(ErrSuperseded)
		f.mu.Unlock()
		<-prev.done
	}
}

func (f *Fetcher) release(r *run) {
	f.mu.Lock()
	if f.active == r {
		f.active = nil
	}
	f.mu.Unlock()
	r.cancel(nil)
	close(r.done)
}

// job holds the per-Fetch state shared by its attempts.
type job struct {
	f       *Fetcher
	req     Request
	sess    *liveSession
	limiter *throttle.Limiter
	logger  *slog.Logger
}

func (j *job) run(ctx context.Context) (*Result, error) {
	req := j.req
	dir := filepath.Dir(req.TargetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &DiskError{Path: dir, Err: err}
	}

	offset := fileSize(req.PartialPath)
	total := int64(-1)
	resumed := false

	if offset > 0 {
		remote, err := j.remoteSize(ctx)
		if err != nil {
			return nil, err
		}
		total = remote
		switch {
		case remote >= 0 && offset > remote:
			j.logger.Warn("partial larger than remote archive, restarting",
				"partial", offset, "remote", remote)
			if err := os.Remove(req.PartialPath); err != nil && !os.IsNotExist(err) {
				return nil, &DiskError{Path: req.PartialPath, Err: err}
			}
			offset, total = 0, -1
		case offset == remote:
			j.logger.Info("partial already complete", "size", offset)
		default:
			resumed = true
			j.logger.Info("resuming download", "offset", offset, "total", total)
		}
	}

	j.sess.update(func(s *Session) {
		s.BytesWritten = offset
		s.TotalBytes = total
		s.Status = types.SessionDownloading
	})

	var lastErr error
	for attempt := 0; attempt < j.f.opts.MaxAttempts; attempt++ {
		if total >= 0 && offset == total {
			lastErr = nil
			break
		}
		if attempt > 0 {
			delay := j.f.opts.Retry.Delay(attempt)
			j.logger.Warn("retrying download",
				"attempt", attempt+1,
				"delay", delay,
				"offset", offset,
				logging.KeyError, lastErr,
			)
			j.sess.setStatus(types.SessionPaused)
			if err := httputil.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			j.sess.setStatus(types.SessionDownloading)
		}

		next, size, err := j.transfer(ctx, offset, total)
		offset, total = next, size
		if err == nil {
			lastErr = nil
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var diskErr *DiskError
		if errors.As(err, &diskErr) {
			if rmErr := os.Remove(req.PartialPath); rmErr != nil && !os.IsNotExist(rmErr) {
				j.logger.Warn("failed to remove partial", "path", req.PartialPath, logging.KeyError, rmErr)
			}
			return nil, err
		}
		var netErr *NetworkError
		if errors.As(err, &netErr) && !netErr.Temporary() {
			return nil, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if err := os.Rename(req.PartialPath, req.TargetPath); err != nil {
		return nil, &DiskError{Path: req.TargetPath, Err: err}
	}
	j.sess.setStatus(types.SessionVerifying)
	if req.CleanupPattern != "" {
		j.cleanupPartials(dir, req.CleanupPattern)
	}

	return &Result{Path: req.TargetPath, Bytes: offset, Resumed: resumed}, nil
}

// transfer performs one GET from offset and appends the body to the partial
// file. It returns the new offset and the total size, if known.
func (j *job) transfer(ctx context.Context, offset, total int64) (int64, int64, error) {
	req := j.req
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	httpReq, err := http.NewRequestWithContext(actx, http.MethodGet, req.URL, nil)
	if err != nil {
		return offset, total, &NetworkError{URL: req.URL, StatusCode: http.StatusBadRequest, Err: err}
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := j.f.client.Do(httpReq)
	if err != nil {
		return offset, total, &NetworkError{URL: req.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && start != offset {
			j.logger.Warn("server returned unexpected range, restarting", "want", offset, "got", start)
			return j.restart(ctx)
		}
		switch {
		case ok && size >= 0:
			total = size
		case resp.ContentLength >= 0:
			total = offset + resp.ContentLength
		}
	case http.StatusOK:
		if offset > 0 {
			j.logger.Warn("server ignored range request, restarting from zero", "offset", offset)
		}
		offset = 0
		flags |= os.O_TRUNC
		total = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		if size, ok := parseUnsatisfiedRange(resp.Header.Get("Content-Range")); ok && offset > 0 && size == offset {
			j.logger.Info("partial already complete", "size", offset)
			return offset, offset, nil
		}
		j.logger.Warn("partial is stale for remote archive, restarting", "offset", offset)
		return j.restart(ctx)
	default:
		return offset, total, &NetworkError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	j.sess.update(func(s *Session) {
		s.BytesWritten = offset
		s.TotalBytes = total
	})

	if total >= 0 {
		if err := j.preflight(total - offset); err != nil {
			return offset, total, err
		}
	}

	file, err := os.OpenFile(req.PartialPath, flags, 0o644)
	if err != nil {
		return offset, total, &DiskError{Path: req.PartialPath, Err: err}
	}

	stall := time.AfterFunc(j.f.opts.StallTimeout, func() { cancel(ErrStalled) })
	stall.Stop()
	defer stall.Stop()
	body := throttle.NewReader(actx, &stallReader{r: resp.Body, timer: stall, timeout: j.f.opts.StallTimeout}, j.limiter)

	written := offset
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				_ = file.Close()
				return written, total, &DiskError{Path: req.PartialPath, Err: werr}
			}
			written += int64(n)

			j.sess.update(func(s *Session) { s.BytesWritten = written })
			if req.OnProgress != nil {
				req.OnProgress(Progress{SessionID: j.sess.snapshot().ID, Written: written, Total: total})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = file.Close()
			return written, total, attemptError(actx, req.URL, rerr)
		}
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return written, total, &DiskError{Path: req.PartialPath, Err: err}
	}
	if err := file.Close(); err != nil {
		return written, total, &DiskError{Path: req.PartialPath, Err: err}
	}

	if total >= 0 && written != total {
		return written, total, &NetworkError{
			URL: req.URL,
			Err: fmt.Errorf("%w: have %d of %d bytes", ErrShortBody, written, total),
		}
	}
	return written, written, nil
}

// restart truncates the partial and performs a fresh transfer from zero.
func (j *job) restart(ctx context.Context) (int64, int64, error) {
	if err := os.Remove(j.req.PartialPath); err != nil && !os.IsNotExist(err) {
		return 0, -1, &DiskError{Path: j.req.PartialPath, Err: err}
	}
	j.sess.update(func(s *Session) {
		s.BytesWritten = 0
		s.TotalBytes = -1
	})
	return j.transfer(ctx, 0, -1)
}

func (j *job) remoteSize(ctx context.Context) (int64, error) {
	target := j.req.URL
	resp, err := httputil.Do(ctx, j.f.client, http.MethodHead, target, nil, nil, j.f.opts.Retry)
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		var statusErr *httputil.RetryableStatusError
		if errors.As(err, &statusErr) {
			return -1, &NetworkError{URL: target, StatusCode: statusErr.StatusCode, Err: err}
		}
		return -1, &NetworkError{URL: target, Err: err}
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		// Size unknown; the Range response will tell.
		return -1, nil
	case resp.StatusCode >= 400:
		return -1, &NetworkError{URL: target, StatusCode: resp.StatusCode}
	}
	return resp.ContentLength, nil
}

func (j *job) preflight(remaining int64) error {
	if remaining <= 0 {
		return nil
	}
	dir := filepath.Dir(j.req.TargetPath)
	free, err := j.f.opts.FreeSpace(dir)
	if err != nil {
		j.logger.Warn("free-space check failed", "dir", dir, logging.KeyError, err)
		return nil
	}
	if free < uint64(remaining) {
		return &DiskError{
			Path: j.req.PartialPath,
			Err:  &InsufficientSpaceError{Dir: dir, Free: free, Remaining: remaining},
		}
	}
	return nil
}

// cleanupPartials removes files in dir matching pattern, such as partials
// left by earlier versions.
func (j *job) cleanupPartials(dir, pattern string) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		j.logger.Warn("failed to list partial files", "dir", dir, logging.KeyError, err)
		return
	}
	for _, m := range matches {
		if m == filepath.Clean(j.req.TargetPath) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("failed to remove stale partial", "path", m, logging.KeyError, err)
			continue
		}
		j.logger.Debug("removed stale partial", "path", m)
	}
}

// stallReader arms timer only while the underlying Read is blocked, so time
// spent waiting on the throttle never counts as a stall.
type stallReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	s.timer.Reset(s.timeout)
	n, err := s.r.Read(p)
	s.timer.Stop()
	return n, err
}

func attemptError(actx context.Context, target string, err error) error {
	if errors.Is(context.Cause(actx), ErrStalled) {
		return &NetworkError{URL: target, Err: ErrStalled}
	}
	return &NetworkError{URL: target, Err: err}
}

// parseContentRange parses "bytes start-end/size". size is -1 for "*".
func parseContentRange(h string) (start, size int64, ok bool) {
	rest, found := strings.CutPrefix(h, "bytes ")
	if !found {
		return 0, -1, false
	}
	span, sizeStr, found := strings.Cut(rest, "/")
	if !found {
		return 0, -1, false
	}
	startStr, _, found := strings.Cut(span, "-")
	if !found {
		return 0, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return 0, -1, false
	}
	size = -1
	if sizeStr != "*" {
		size, err = strconv.ParseInt(strings.TrimSpace(sizeStr), 10, 64)
		if err != nil {
			return 0, -1, false
		}
	}
	return start, size, true
}

// parseUnsatisfiedRange parses the "bytes */size" form sent with a 416.
func parseUnsatisfiedRange(h string) (size int64, ok bool) {
	rest, found := strings.CutPrefix(h, "bytes */")
	if !found {
		return -1, false
	}
	size, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return -1, false
	}
	return size, true
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
