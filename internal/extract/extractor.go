// Package extract unpacks verified archives in a separate worker process.
//
// The parent and the worker talk newline-delimited JSON over the worker's
// stdin and stdout. The worker announces {"type":"ready"}, receives exactly
// one {"type":"start"}, may emit {"type":"log"} lines, and finishes with one
// {"type":"complete"} or {"type":"error"}. The worker's exit always resolves
// the job, so a crash without a terminal message is reported as an error
// rather than leaving the caller waiting.
package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/types"
)

var log = logging.L("extract")

// WorkerCommand is the hidden CLI subcommand that runs Serve.
const WorkerCommand = "extract-worker"

// DefaultStartTimeout bounds the wait for the worker's ready message.
const DefaultStartTimeout = 30 * time.Second

var (
	// ErrNoTerminalMessage means the worker exited without sending
	// complete or error.
	ErrNoTerminalMessage = errors.New("extract: worker exited without a result")

	// ErrStartTimeout means the worker never announced ready.
	ErrStartTimeout = errors.New("extract: worker did not become ready")

	// ErrTerminated means the job was stopped through Handle.Terminate.
	ErrTerminated = errors.New("extract: worker terminated")
)

// ExtractionError describes a failed extraction job.
type ExtractionError struct {
	Archive  string
	ExitCode int    // -1 if the process was killed or never exited normally
	Message  string // failure reported by the worker, if any
	Err      error
}

func (e *ExtractionError) Error() string {
	reason := e.Message
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	if reason == "" {
		reason = "worker failed"
	}
	return fmt.Sprintf("extract %s: %s (exit code %d)", e.Archive, reason, e.ExitCode)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Job is one archive to unpack.
type Job struct {
	ArchivePath    string          `json:"archivePath"`
	DestinationDir string          `json:"destinationDir"`
	Status         types.JobStatus `json:"status"`
}

// Result is delivered once on Handle.Done.
type Result struct {
	Job      Job
	ExitCode int
	Err      error
}

// Options configures an Extractor.
type Options struct {
	// Command is the worker argv. Default: the running executable with
	// the extract-worker subcommand.
	Command []string

	// Env is appended to the inherited environment.
	Env []string

	// StartTimeout bounds the wait for ready.
	// Default: 30s
	StartTimeout time.Duration
}

// Extractor launches worker processes.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	return &Extractor{opts: opts}
}

func (e *Extractor) command() ([]string, error) {
	if len(e.opts.Command) > 0 {
		return e.opts.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return []string{exe, WorkerCommand}, nil
}

// Handle tracks a running extraction.
type Handle struct {
	done       chan Result
	cancel     context.CancelCauseFunc
	terminated atomic.Bool

	mu  sync.Mutex
	job Job
	pid int
}

// Done delivers the job's Result exactly once.
func (h *Handle) Done() <-chan Result { return h.done }

// Terminate kills the worker. Done still delivers a Result.
func (h *Handle) Terminate() {
	h.terminated.Store(true)
	h.cancel(ErrTerminated)
}

// PID returns the worker's process id.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Job returns a snapshot of the job record.
func (h *Handle) Job() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

func (h *Handle) setStatus(s types.JobStatus) Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.job.Status = s
	return h.job
}

// Start launches a worker for job. Cancelling ctx kills the worker.
func (e *Extractor) Start(ctx context.Context, job Job) (*Handle, error) {
	if job.ArchivePath == "" || job.DestinationDir == "" {
		return nil, errors.New("extract: archive path and destination are required")
	}
	argv, err := e.command()
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancelCause(ctx)
	cmd := exec.CommandContext(hctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("extract: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("extract: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("extract: stderr pipe: %w", err)
	}

	job.Status = types.JobPending
	if err := cmd.Start(); err != nil {
		cancel(nil)
		return nil, &ExtractionError{Archive: job.ArchivePath, ExitCode: -1, Err: fmt.Errorf("start worker: %w", err)}
	}

	h := &Handle{
		done:   make(chan Result, 1),
		cancel: cancel,
		job:    job,
		pid:    cmd.Process.Pid,
	}
	logger := log.With("pid", h.pid, "archive", job.ArchivePath)
	logger.Info("extraction worker started", "command", argv)

	s := &supervisor{
		h:            h,
		ctx:          hctx,
		cmd:          cmd,
		conn:         NewConn(stdout, stdin),
		stdin:        stdin,
		stderr:       stderr,
		startTimeout: e.opts.StartTimeout,
		logger:       logger,
	}
	go s.run()
	return h, nil
}

type supervisor struct {
	h            *Handle
	ctx          context.Context
	cmd          *exec.Cmd
	conn         *Conn
	stdin        io.WriteCloser
	stderr       io.Reader
	startTimeout time.Duration
	logger       *slog.Logger
}

func (s *supervisor) run() {
	var readers sync.WaitGroup

	msgs := make(chan Message)
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer close(msgs)
		for {
			m, err := s.conn.Recv()
			if err != nil {
				if errors.Is(err, ErrMalformed) {
					s.logger.Warn("ignoring malformed worker message", logging.KeyError, err)
					continue
				}
				if !errors.Is(err, io.EOF) {
					s.logger.Debug("worker stdout closed", logging.KeyError, err)
				}
				return
			}
			msgs <- m
		}
	}()
	go func() {
		defer readers.Done()
		sc := bufio.NewScanner(s.stderr)
		for sc.Scan() {
			s.logger.Info("worker: " + sc.Text())
		}
	}()

	job := s.h.Job()
	var (
		terminal Message
		ready    bool
		failure  error
	)

	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()

loop:
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				break loop
			}
			switch msg := m.(type) {
			case Ready:
				if ready {
					s.logger.Warn("duplicate ready from worker")
					continue
				}
				ready = true
				timer.Stop()
				start := Start{ArchivePath: job.ArchivePath, DestinationDir: job.DestinationDir}
				if err := s.conn.Send(start); err != nil {
					failure = err
					s.h.cancel(err)
					continue
				}
				s.h.setStatus(types.JobRunning)
			case Log:
				s.logger.Info("worker: " + msg.Message)
			case Complete, Failure:
				if terminal != nil {
					s.logger.Warn("ignoring extra terminal message", "type", msg.messageType())
					continue
				}
				terminal = msg
				_ = s.stdin.Close()
			case Start:
				s.logger.Warn("worker sent a start message")
			}
		case <-timer.C:
			if !ready {
				failure = fmt.Errorf("%w within %s", ErrStartTimeout, s.startTimeout)
				s.logger.Error("worker did not become ready", "timeout", s.startTimeout)
				s.h.cancel(failure)
			}
		}
	}

	_ = s.stdin.Close()
	readers.Wait()
	waitErr := s.cmd.Wait()
	exitCode := -1
	if s.cmd.ProcessState != nil {
		exitCode = s.cmd.ProcessState.ExitCode()
	}

	err := s.resolve(job.ArchivePath, terminal, failure, exitCode, waitErr)
	status := types.JobComplete
	if err != nil {
		status = types.JobFailed
		s.logger.Error("extraction failed", "exitCode", exitCode, logging.KeyError, err)
	} else {
		s.logger.Info("extraction complete")
	}

	s.h.cancel(nil)
	s.h.done <- Result{Job: s.h.setStatus(status), ExitCode: exitCode, Err: err}
	close(s.h.done)
}

func (s *supervisor) resolve(archive string, terminal Message, failure error, exitCode int, waitErr error) error {
	if s.h.terminated.Load() {
		return &ExtractionError{Archive: archive, ExitCode: exitCode, Err: ErrTerminated}
	}
	if s.ctx.Err() != nil && terminal == nil {
		return &ExtractionError{Archive: archive, ExitCode: exitCode, Err: context.Cause(s.ctx)}
	}
	if failure != nil {
		return &ExtractionError{Archive: archive, ExitCode: exitCode, Err: failure}
	}

	switch msg := terminal.(type) {
	case Failure:
		return &ExtractionError{Archive: archive, ExitCode: exitCode, Message: msg.Message}
	case Complete:
		if exitCode != 0 {
			return &ExtractionError{Archive: archive, ExitCode: exitCode, Err: waitErr}
		}
		return nil
	default:
		return &ExtractionError{Archive: archive, ExitCode: exitCode, Err: ErrNoTerminalMessage}
	}
}
