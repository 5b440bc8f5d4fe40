package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSuperseded is returned by a Fetch that was cancelled because a newer
	// Fetch started on the same Fetcher. Its partial file is kept.
	ErrSuperseded = errors.New("fetch: superseded by a newer download")

	// ErrStalled is wrapped by NetworkError when no body bytes arrived within
	// the stall timeout.
	ErrStalled = errors.New("fetch: transfer stalled")

	// ErrShortBody is wrapped by NetworkError when the body ended before the
	// announced size was reached.
	ErrShortBody = errors.New("fetch: body ended before expected size")
)

// NetworkError is a transfer failure that leaves the partial file in place so
// a later attempt can resume.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request may succeed.
func (e *NetworkError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// DiskError is a local write failure. The partial file is removed.
type DiskError struct {
	Path string
	Err  error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }

// InsufficientSpaceError is wrapped by DiskError when the free-space preflight fails.
type InsufficientSpaceError struct {
	Dir       string
	Free      uint64
	Remaining int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: %d bytes free, %d bytes needed", e.Dir, e.Free, e.Remaining)
}
