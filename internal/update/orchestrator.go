// Package update drives an update descriptor through download, verification
// and extraction, and hands the result to the platform installer.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/adamancini/updraft/internal/extract"
	"github.com/adamancini/updraft/internal/fetch"
	"github.com/adamancini/updraft/internal/integrity"
	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/types"
)

var log = logging.L("update")

const progressLogInterval = 1500 * time.Millisecond

var (
	// ErrNotReady is returned by Install outside the ready-to-install state.
	ErrNotReady = errors.New("update: not ready to install")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("update: orchestrator closed")
)

// Options configures an Orchestrator.
type Options struct {
	Layout Layout

	// Platform selects the installer binary. Default: Detect()
	Platform Platform

	// LogDir receives the installer's dated log. Default: Layout.Root
	LogDir string

	// DefaultThrottleKBps applies to descriptors without a speed.
	// Zero means unlimited.
	DefaultThrottleKBps float64

	// RequireExternalInstaller enables the exit hook's handoff.
	// Usually Platform.RequiresInstaller().
	RequireExternalInstaller bool

	Downloader Downloader // Default: fetch.New(fetch.DefaultOptions())
	Unpacker   Unpacker   // Default: extract.New(extract.Options{})
	Launcher   Launcher   // Default: DetachedLauncher
	Sharer     Sharer     // Optional
}

// InstallRequest is an explicit request to run the installer.
type InstallRequest struct {
	Relaunch   bool
	PayloadDir string // Default: the layout's payload directory
}

type subscriber struct {
	id int
	fn func(Transition)
}

// Orchestrator owns the update state. Each accepted descriptor runs in its
// own pipeline goroutine; a newer descriptor cancels the running pipeline
// and waits for it to exit before starting.
type Orchestrator struct {
	opts      Options
	installer *Installer
	now       func() time.Time

	submitMu sync.Mutex

	mu       sync.Mutex
	state    State
	desc     *Descriptor
	armed    bool
	relaunch bool
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	subs     []subscriber
	nextSub  int
	ready    []func(Descriptor)
}

// New creates an idle Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Platform == (Platform{}) {
		opts.Platform = Detect()
	}
	if opts.LogDir == "" {
		opts.LogDir = opts.Layout.Root
	}
	if opts.Downloader == nil {
		opts.Downloader = fetch.New(fetch.DefaultOptions())
	}
	if opts.Unpacker == nil {
		opts.Unpacker = extract.New(extract.Options{})
	}

	o := &Orchestrator{
		opts:      opts,
		installer: NewInstaller(opts.Layout, opts.Platform, opts.LogDir, opts.Launcher),
		now:       time.Now,
	}
	o.state = State{Kind: types.StateIdle, Since: o.now()}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Descriptor returns the most recently accepted descriptor.
func (o *Orchestrator) Descriptor() (Descriptor, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.desc == nil {
		return Descriptor{}, false
	}
	return *o.desc, true
}

// Subscribe registers fn for every transition. fn runs on the goroutine
// that changed the state and must not block or call back into Submit.
func (o *Orchestrator) Subscribe(fn func(Transition)) (cancel func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs = append(o.subs, subscriber{id: id, fn: fn})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.subs = slices.DeleteFunc(o.subs, func(s subscriber) bool { return s.id == id })
	}
}

// OnReady registers fn to run each time a descriptor reaches ready-to-install.
func (o *Orchestrator) OnReady(fn func(Descriptor)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = append(o.ready, fn)
}

// Submit accepts a descriptor. Resubmitting the artifact that is already in
// flight or ready is a no-op; anything else supersedes the current pipeline.
func (o *Orchestrator) Submit(d Descriptor) error {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	if err := d.Validate(); err != nil {
		o.rejectDescriptor(err)
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	prev := o.desc
	if prev != nil && prev.SameArtifact(d) && (o.state.Kind.InFlight() || o.state.Kind == types.StateReadyToInstall) {
		o.desc = &d
		o.mu.Unlock()
		log.Info("descriptor already accepted", logging.KeyVersion, d.VersionID)
		return nil
	}
	prevCancel, prevDone := o.cancel, o.done
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	if prev != nil && prev.VersionID == d.VersionID && !prev.SameArtifact(d) {
		o.removeFile(o.opts.Layout.ArchivePath(d.VersionID))
		o.removeFile(o.opts.Layout.PartialPath(d.VersionID))
	}
	o.removeStaleArchives(d.VersionID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	o.desc = &d
	o.armed, o.relaunch = false, false
	o.cancel, o.done = cancel, done
	from := o.state.Kind
	o.mu.Unlock()

	log.Info("descriptor accepted",
		logging.KeyVersion, d.VersionID,
		"url", d.ArchiveURL,
		"mandatory", d.Mandatory)

	if from == types.StateReadyToInstall || from == types.StateFailed {
		o.transition(ctx, State{Kind: types.StateIdle}, &d)
	}
	go o.run(ctx, d, done)
	return nil
}

// rejectDescriptor records an invalid descriptor when nothing else owns the state.
func (o *Orchestrator) rejectDescriptor(err error) {
	o.mu.Lock()
	idle := o.state.Kind == types.StateIdle && !o.closed && !o.running()
	o.mu.Unlock()

	log.Warn("descriptor rejected", logging.KeyError, err)
	if idle {
		o.transition(context.Background(), State{Kind: types.StateFailed, Reason: types.ReasonInvalidDescriptor, Error: err.Error()}, nil)
	}
}

// running reports whether a pipeline goroutine is still active. Callers hold mu.
func (o *Orchestrator) running() bool {
	if o.done == nil {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current pipeline stops and returns the state it
// left behind.
func (o *Orchestrator) Wait(ctx context.Context) (State, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return o.State(), ctx.Err()
		}
	}
	return o.State(), nil
}

// Close cancels the running pipeline and waits for it. An interrupted
// pipeline leaves the state idle.
func (o *Orchestrator) Close() error {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	o.mu.Lock()
	inFlight, d := o.state.Kind.InFlight(), o.desc
	o.mu.Unlock()
	if inFlight {
		o.transition(context.Background(), State{Kind: types.StateIdle}, d)
	}
	return nil
}

// Arm records the user's request to install, used by OnExit.
func (o *Orchestrator) Arm(relaunch bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.armed = true
	o.relaunch = relaunch
}

// Install hands the extracted payload to the installer. It is never called
// automatically.
func (o *Orchestrator) Install(ctx context.Context, req InstallRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if kind := o.State().Kind; kind != types.StateReadyToInstall {
		return fmt.Errorf("%w (state %s)", ErrNotReady, kind)
	}
	return o.installer.Handoff(types.InstallModeFor(req.Relaunch), req.PayloadDir)
}

// OnExit is the process exit hook. It launches the installer when an update
// is ready, was armed or is mandatory, and the platform needs an external
// installer. Otherwise it does nothing.
func (o *Orchestrator) OnExit(ctx context.Context) error {
	o.mu.Lock()
	kind, d, armed, relaunch := o.state.Kind, o.desc, o.armed, o.relaunch
	o.mu.Unlock()

	if kind != types.StateReadyToInstall || d == nil {
		log.Debug("exit hook: no update ready", "state", kind)
		return nil
	}
	if !armed && !d.Mandatory {
		log.Info("exit hook: optional update left for later", logging.KeyVersion, d.VersionID)
		return nil
	}
	if !o.opts.RequireExternalInstaller {
		log.Info("exit hook: platform does not use an external installer", "os", o.opts.Platform.OS)
		return nil
	}
	return o.Install(ctx, InstallRequest{Relaunch: relaunch})
}

func (o *Orchestrator) run(ctx context.Context, d Descriptor, done chan struct{}) {
	defer close(done)

	logger := log.With(logging.KeyVersion, d.VersionID)
	archive := o.opts.Layout.ArchivePath(d.VersionID)

	var sessionID string
	if _, err := os.Stat(archive); err == nil {
		logger.Info("archive already present, skipping download", "path", archive)
		if !o.transition(ctx, State{Kind: types.StateVerifying}, &d) {
			return
		}
	} else {
		if !o.transition(ctx, State{Kind: types.StateDownloading, Total: -1}, &d) {
			return
		}
		res, err := o.download(ctx, d, archive, logger)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fetch.ErrSuperseded) {
				logger.Info("download stopped", "reason", err)
				return
			}
			o.fail(ctx, &d, failureReason(err), err)
			return
		}
		sessionID = res.Session.ID
		if !o.transition(ctx, State{Kind: types.StateVerifying}, &d) {
			return
		}
	}

	if err := integrity.Check(archive, d.ExpectedDigest); err != nil {
		if sessionID != "" {
			o.opts.Downloader.Settle(sessionID, false)
		}
		var mismatch *integrity.DigestMismatchError
		if errors.As(err, &mismatch) {
			o.quarantine(archive)
			o.fail(ctx, &d, types.ReasonDigestMismatch, err)
			return
		}
		o.fail(ctx, &d, types.ReasonDisk, err)
		return
	}
	if sessionID != "" {
		o.opts.Downloader.Settle(sessionID, true)
	}
	logger.Info("archive verified", "path", archive)

	if o.opts.Sharer != nil {
		if err := o.opts.Sharer.Store(archive, d.VersionID); err != nil {
			logger.Warn("failed to share archive", logging.KeyError, err)
		}
	}

	if !o.transition(ctx, State{Kind: types.StateExtracting}, &d) {
		return
	}
	if err := o.unpack(ctx, archive); err != nil {
		if ctx.Err() != nil {
			logger.Info("extraction stopped", "reason", ctx.Err())
			return
		}
		o.fail(ctx, &d, types.ReasonExtraction, err)
		return
	}

	if !o.transition(ctx, State{Kind: types.StateReadyToInstall}, &d) {
		return
	}
	logger.Info("update ready to install", "payload", o.opts.Layout.PayloadDir())

	o.mu.Lock()
	listeners := slices.Clone(o.ready)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(d)
	}
}

func (o *Orchestrator) download(ctx context.Context, d Descriptor, archive string, logger *slog.Logger) (*fetch.Result, error) {
	var last time.Time
	req := fetch.Request{
		URL:            d.ArchiveURL,
		TargetPath:     archive,
		PartialPath:    o.opts.Layout.PartialPath(d.VersionID),
		BytesPerSecond: d.BytesPerSecond(o.opts.DefaultThrottleKBps),
		CleanupPattern: PartialGlob,
		OnProgress: func(p fetch.Progress) {
			now := o.now()
			finished := p.Total > 0 && p.Written >= p.Total
			if now.Sub(last) < progressLogInterval && !finished {
				return
			}
			last = now
			logger.Info("download progress",
				"written", humanize.IBytes(uint64(p.Written)),
				"total", formatTotal(p.Total),
				"percent", fmt.Sprintf("%.1f", p.Fraction()*100))
			o.transition(ctx, State{Kind: types.StateDownloading, Written: p.Written, Total: p.Total}, &d)
		},
	}
	return o.opts.Downloader.Fetch(ctx, req)
}

func (o *Orchestrator) unpack(ctx context.Context, archive string) error {
	h, err := o.opts.Unpacker.Start(ctx, extract.Job{
		ArchivePath:    archive,
		DestinationDir: o.opts.Layout.PayloadDir(),
	})
	if err != nil {
		return err
	}

	select {
	case res := <-h.Done():
		return res.Err
	case <-ctx.Done():
		h.Terminate()
		<-h.Done()
		return ctx.Err()
	}
}

// transition moves to next if the table allows it and ctx is still live.
// Subscribers are called after the lock is released.
func (o *Orchestrator) transition(ctx context.Context, next State, d *Descriptor) bool {
	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		return false
	}
	from := o.state
	if !CanTransition(from.Kind, next.Kind) {
		o.mu.Unlock()
		log.Error("illegal state transition", "from", from.Kind, "to", next.Kind)
		return false
	}
	if next.Version == "" && d != nil {
		next.Version = d.VersionID
	}
	next.Since = o.now()
	o.state = next
	subs := slices.Clone(o.subs)
	o.mu.Unlock()

	if from.Kind != next.Kind {
		log.Debug("state changed", "from", from.Kind, "to", next.Kind)
	}
	t := Transition{From: from, To: next, Descriptor: d}
	for _, s := range subs {
		s.fn(t)
	}
	return true
}

func (o *Orchestrator) fail(ctx context.Context, d *Descriptor, reason types.FailureReason, err error) {
	log.Error("update failed", logging.KeyVersion, d.VersionID, "reason", reason, logging.KeyError, err)
	o.transition(ctx, State{Kind: types.StateFailed, Reason: reason, Error: err.Error()}, d)
}

// quarantine moves a mismatched archive aside so the next attempt downloads
// a fresh copy.
func (o *Orchestrator) quarantine(archive string) {
	dst := archive + ".mismatch"
	if err := os.Rename(archive, dst); err != nil {
		log.Warn("failed to move mismatched archive", "path", archive, logging.KeyError, err)
		return
	}
	log.Info("mismatched archive moved aside", "path", dst)
}

// removeStaleArchives deletes archives of other versions from the root.
func (o *Orchestrator) removeStaleArchives(keepVersion string) {
	keep := o.opts.Layout.ArchivePath(keepVersion)
	matches, err := filepath.Glob(filepath.Join(o.opts.Layout.Root, "*.zip"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if m == keep {
			continue
		}
		o.removeFile(m)
	}
}

func (o *Orchestrator) removeFile(path string) {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to remove file", "path", path, logging.KeyError, err)
		}
		return
	}
	log.Info("removed stale file", "path", path)
}

func failureReason(err error) types.FailureReason {
	var diskErr *fetch.DiskError
	if errors.As(err, &diskErr) {
		return types.ReasonDisk
	}
	return types.ReasonNetwork
}

func formatTotal(total int64) string {
	if total < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(total))
}
