package extract

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize bounds a single protocol line.
const MaxMessageSize = 1 << 20

// Message types on the wire.
const (
	TypeReady    = "ready"
	TypeStart    = "start"
	TypeLog      = "log"
	TypeComplete = "complete"
	TypeError    = "error"
)

// ErrMalformed is wrapped by Decode for lines that are not a known message.
var ErrMalformed = errors.New("extract: malformed message")

// Message is one line of the worker protocol. The set of implementations is
// closed: Ready, Start, Log, Complete and Failure.
type Message interface {
	messageType() string
}

// Ready is sent once by the worker when it can accept a Start.
type Ready struct{}

// Start is sent once by the parent to begin extraction.
type Start struct {
	ArchivePath    string
	DestinationDir string
}

// Log carries a progress line from the worker.
type Log struct {
	Message string
}

// Complete reports successful extraction. It is terminal.
type Complete struct{}

// Failure reports a failed extraction. It is terminal.
type Failure struct {
	Message string
}

func (Ready) messageType() string    { return TypeReady }
func (Start) messageType() string    { return TypeStart }
func (Log) messageType() string      { return TypeLog }
func (Complete) messageType() string { return TypeComplete }
func (Failure) messageType() string  { return TypeError }

// IsTerminal reports whether m ends the exchange.
func IsTerminal(m Message) bool {
	switch m.(type) {
	case Complete, Failure:
		return true
	default:
		return false
	}
}

type wireMessage struct {
	Type           string `json:"type"`
	ArchivePath    string `json:"archivePath,omitempty"`
	DestinationDir string `json:"destinationDir,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Encode marshals m as a single JSON object without a trailing newline.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.messageType()}
	switch v := m.(type) {
	case Start:
		w.ArchivePath = v.ArchivePath
		w.DestinationDir = v.DestinationDir
	case Log:
		w.Message = v.Message
	case Failure:
		w.Message = v.Message
	}
	return json.Marshal(w)
}

// Decode parses one protocol line.
func Decode(line []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch w.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeStart:
		if w.ArchivePath == "" || w.DestinationDir == "" {
			return nil, fmt.Errorf("%w: start requires archivePath and destinationDir", ErrMalformed)
		}
		return Start{ArchivePath: w.ArchivePath, DestinationDir: w.DestinationDir}, nil
	case TypeLog:
		return Log{Message: w.Message}, nil
	case TypeComplete:
		return Complete{}, nil
	case TypeError:
		return Failure{Message: w.Message}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}
}

// Conn frames Messages as newline-delimited JSON over a reader/writer pair.
type Conn struct {
	scanner *bufio.Scanner
	w       io.Writer
	mu      sync.Mutex // serializes writes
}

// NewConn wraps r and w. Send and Recv may be used from different goroutines.
func NewConn(r io.Reader, w io.Writer) *Conn {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxMessageSize)
	return &Conn{scanner: s, w: w}
}

// Send writes m followed by a newline.
func (c *Conn) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("extract: encode %s: %w", m.messageType(), err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("extract: write %s: %w", m.messageType(), err)
	}
	return nil
}

// Recv reads the next message. It returns io.EOF when the stream ends.
// Blank lines are skipped; malformed lines return an error wrapping
// ErrMalformed and the stream stays usable.
func (c *Conn) Recv() (Message, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
