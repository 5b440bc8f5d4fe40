package fetch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamancini/updraft/internal/types"
)

// Session is a snapshot of one download. The Fetcher owns the live record;
// callers only ever see copies.
type Session struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	TargetPath   string              `json:"targetPath"`
	PartialPath  string              `json:"partialPath"`
	BytesWritten int64               `json:"bytesWritten"`
	TotalBytes   int64               `json:"totalBytes"` // -1 until known
	Status       types.SessionStatus `json:"status"`
	StartedAt    time.Time           `json:"startedAt"`
}

// Progress is delivered to Options.OnProgress after every written chunk.
type Progress struct {
	SessionID string
	Written   int64
	Total     int64 // -1 when unknown
}

// Fraction returns completion in [0,1], or -1 if the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Written) / float64(p.Total)
	if f > 1 {
		f = 1
	}
	return f
}

type liveSession struct {
	mu sync.Mutex
	s  Session
}

func newLiveSession(req Request) *liveSession {
	return &liveSession{s: Session{
		ID:          uuid.NewString(),
		URL:         req.URL,
		TargetPath:  req.TargetPath,
		PartialPath: req.PartialPath,
		TotalBytes:  -1,
		Status:      types.SessionIdle,
		StartedAt:   time.Now(),
	}}
}

func (l *liveSession) snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

func (l *liveSession) update(fn func(s *Session)) Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.s)
	return l.s
}

func (l *liveSession) setStatus(status types.SessionStatus) {
	l.update(func(s *Session) { s.Status = status })
}
