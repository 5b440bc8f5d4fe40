package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/adamancini/updraft/internal/logging"
)

// ErrUnexpectedMessage is returned by Serve when the parent sends something
// other than a Start after Ready.
var ErrUnexpectedMessage = errors.New("extract: unexpected message")

// Serve runs the worker side of the protocol. It announces Ready and then
// extracts the archive named by the first Start. The returned error is
// non-nil whenever a Failure was sent, so the caller can exit non-zero.
func Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logger := logging.L("extract-worker")
	conn := NewConn(in, out)

	if err := conn.Send(Ready{}); err != nil {
		return err
	}

	msg, err := conn.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("parent closed the channel before start")
		}
		_ = conn.Send(Failure{Message: err.Error()})
		return err
	}

	start, ok := msg.(Start)
	if !ok {
		err := fmt.Errorf("%w: want %s, got %s", ErrUnexpectedMessage, TypeStart, msg.messageType())
		_ = conn.Send(Failure{Message: err.Error()})
		return err
	}

	logger.Info("extraction started", "archive", start.ArchivePath, "dest", start.DestinationDir)
	logf := func(format string, args ...any) {
		_ = conn.Send(Log{Message: fmt.Sprintf(format, args...)})
	}

	if err := Unzip(ctx, start.ArchivePath, start.DestinationDir, logf); err != nil {
		logger.Error("extraction failed", logging.KeyError, err)
		_ = conn.Send(Failure{Message: err.Error()})
		return err
	}

	return conn.Send(Complete{})
}
