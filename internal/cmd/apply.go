package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/interactive"
	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/types"
	"github.com/adamancini/updraft/internal/update"
)

type applyOptions struct {
	install  bool
	relaunch bool
	yes      bool
	wait     time.Duration
	current  string
}

// applyResult is what apply reports once the pipeline stops.
type applyResult struct {
	Descriptor update.Descriptor `json:"descriptor" yaml:"descriptor"`
	State      update.State      `json:"state" yaml:"state"`
	Archive    string            `json:"archive" yaml:"archive"`
	PayloadDir string            `json:"payloadDir" yaml:"payloadDir"`
	Installer  string            `json:"installer,omitempty" yaml:"installer,omitempty"`
	Launched   bool              `json:"launched" yaml:"launched"`
}

func (r applyResult) String() string {
	s := fmt.Sprintf("Update %s: %s\n  Archive: %s", r.Descriptor.VersionID, r.State, r.Archive)
	if r.State.Kind == types.StateReadyToInstall {
		s += "\n  Payload: " + r.PayloadDir
	}
	if r.Launched {
		s += "\n  Installer launched: " + r.Installer
	}
	return s
}

func newApplyCmd() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "apply <descriptor|-|url>",
		Short: "Download, verify and stage an update",
		Long: `Apply reads an update descriptor and runs the update pipeline until the
payload is ready to install.

The descriptor is a JSON, YAML or TOML document with versionNo, updateFlag,
fileUrl, fileMd5 and an optional speed in KB/s. It is read from a file, from
stdin when the argument is '-', or from an http(s) URL.

The archive is downloaded to <app_root>/<version>.zip with resume and
throttling, checked against its MD5 or SHA-256 digest and unpacked into
<app_root>/updateApp by a worker process. An archive that is already present
is verified without downloading it again.

With --install the platform installer is launched once the payload is ready.
Otherwise a mandatory update is handed to the installer when updraft exits on
platforms that need an external installer.

Examples:
  updraft apply update.json
  curl -s https://updates.example.com/latest.json | updraft apply -
  updraft apply https://updates.example.com/latest.json --install --relaunch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.install, "install", false, "Launch the installer once the update is ready")
	cmd.Flags().BoolVar(&opts.relaunch, "relaunch", false, "Ask the installer to restart the application")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip the install confirmation prompt")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "Give up after this long (0 waits until the pipeline stops)")
	cmd.Flags().StringVar(&opts.current, "current", "", "Skip the update unless it is newer than this version")

	return cmd
}

func runApply(cmd *cobra.Command, source string, opts applyOptions) error {
	ctx := cmd.Context()

	d, err := readDescriptor(ctx, cmd, source)
	if err != nil {
		return err
	}

	if opts.current != "" {
		newer, err := d.NewerThan(opts.current)
		if err != nil {
			return fmt.Errorf("--current: %w", err)
		}
		if !newer {
			if !quiet {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Already up to date (%s >= %s)\n", update.NormalizeVersion(opts.current), d.VersionID)
			}
			return nil
		}
	}

	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}

	layout := newLayout(cfg)
	orch := newOrchestrator(cfg)
	defer orch.Close()

	stateFile := update.NewStateFile(layout.StatePath())
	orch.Subscribe(stateFile.Record)
	if !quiet && !writer.Structured() {
		orch.Subscribe(progressPrinter(cmd.ErrOrStderr()))
	}

	if err := orch.Submit(d); err != nil {
		return err
	}

	waitCtx := ctx
	if opts.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.wait)
		defer cancel()
	}

	state, err := orch.Wait(waitCtx)
	if err != nil {
		// Close leaves the state idle; the partial download is kept for the next run.
		_ = orch.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("update %s did not finish within %s (%s)", d.VersionID, opts.wait, state)
		}
		return fmt.Errorf("update %s interrupted: %w", d.VersionID, err)
	}

	result := applyResult{
		Descriptor: d,
		State:      state,
		Archive:    layout.ArchivePath(d.VersionID),
		PayloadDir: layout.PayloadDir(),
	}

	if state.Kind != types.StateReadyToInstall {
		_ = writer.Write(result)
		if state.Kind == types.StateFailed {
			return fmt.Errorf("update %s failed (%s): %s", d.VersionID, state.Reason, state.Error)
		}
		return fmt.Errorf("update %s stopped in state %s", d.VersionID, state.Kind)
	}

	if opts.install {
		installer := update.NewInstaller(layout, update.Detect(), cfg.ResolvedLogDir(), nil)
		bin, _ := installer.Command(types.InstallModeFor(opts.relaunch))
		result.Installer = bin

		if confirmInstall(cmd, d, opts, bin) {
			err := orch.Install(ctx, update.InstallRequest{Relaunch: opts.relaunch})
			var missing *update.InstallerMissingError
			switch {
			case errors.As(err, &missing):
				// The payload stays staged for a later install.
				logging.L("cmd").Warn("installer handoff skipped", logging.KeyVersion, d.VersionID, logging.KeyError, err)
			case err != nil:
				_ = writer.Write(result)
				return err
			default:
				result.Launched = true
			}
		}
	} else if err := orch.OnExit(ctx); err != nil {
		// A mandatory update on a platform with an external installer is
		// handed off here; a missing installer leaves the payload staged.
		logging.L("cmd").Warn("exit handoff skipped", logging.KeyVersion, d.VersionID, logging.KeyError, err)
	}

	return writer.Write(result)
}

// confirmInstall asks before launching the installer unless --yes was
// given. Without a terminal there is nobody to ask, so it declines.
func confirmInstall(cmd *cobra.Command, d update.Descriptor, opts applyOptions, installer string) bool {
	if opts.yes {
		return true
	}
	if !interactive.IsTerminal() {
		logging.L("cmd").Warn("not a terminal, install needs --yes", logging.KeyVersion, d.VersionID)
		return false
	}
	p := interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())
	return p.ConfirmInstall(d.VersionID, d.Mandatory, opts.relaunch, installer)
}

// progressPrinter writes one line per state change.
func progressPrinter(w io.Writer) func(update.Transition) {
	return func(t update.Transition) {
		if t.To.Kind == types.StateDownloading && t.To.Written > 0 {
			_, _ = fmt.Fprintf(w, "  downloading %s / %s\n", formatBytes(t.To.Written), formatBytes(t.To.Total))
			return
		}
		version := ""
		if t.Descriptor != nil {
			version = " " + t.Descriptor.VersionID
		}
		_, _ = fmt.Fprintf(w, "%s -> %s%s\n", t.From.Kind, t.To, version)
	}
}
