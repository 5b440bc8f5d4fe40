package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/interactive"
	"github.com/adamancini/updraft/internal/types"
	"github.com/adamancini/updraft/internal/update"
)

// installLauncher starts the installer; nil launches it detached.
var installLauncher update.Launcher

// installResult is what the install command reports.
type installResult struct {
	Version    string   `json:"version" yaml:"version"`
	Installer  string   `json:"installer" yaml:"installer"`
	Args       []string `json:"args" yaml:"args"`
	PayloadDir string   `json:"payloadDir" yaml:"payloadDir"`
	Launched   bool     `json:"launched" yaml:"launched"`
}

func (r installResult) String() string {
	if !r.Launched {
		return fmt.Sprintf("Install of %s skipped", r.Version)
	}
	return fmt.Sprintf("Installer launched for %s: %s %q\n  Payload: %s", r.Version, r.Installer, r.Args, r.PayloadDir)
}

func newInstallCmd() *cobra.Command {
	var (
		relaunch bool
		yes      bool
		path     string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Hand a staged update to the platform installer",
		Long: `Install launches the platform installer for the update staged by
'updraft apply'. The recorded state must be ready-to-install.

The installer (update.exe, or update32.exe on 32-bit systems) is looked up in
the application root and started detached with the install mode and the
dated log file as arguments. updraft does not wait for it.

--path points at a payload directory other than <app_root>/updateApp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, relaunch, yes, path)
		},
	}

	cmd.Flags().BoolVar(&relaunch, "relaunch", false, "Ask the installer to restart the application")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().StringVar(&path, "path", "", "Payload directory (default <app_root>/updateApp)")

	return cmd
}

func runInstall(cmd *cobra.Command, relaunch, yes bool, payloadDir string) error {
	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}

	layout := newLayout(cfg)
	snap, err := update.ReadStateFile(layout.StatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: no update recorded in %s", update.ErrNotReady, layout.Root)
	}
	if err != nil {
		return err
	}
	if snap.State.Kind != types.StateReadyToInstall || snap.Descriptor == nil {
		return fmt.Errorf("%w (state %s)", update.ErrNotReady, snap.State)
	}
	if payloadDir == "" {
		payloadDir = layout.PayloadDir()
	}

	d := *snap.Descriptor
	mode := types.InstallModeFor(relaunch)
	installer := update.NewInstaller(layout, update.Detect(), cfg.ResolvedLogDir(), installLauncher)
	bin, args := installer.Command(mode)
	result := installResult{Version: d.VersionID, Installer: bin, Args: args, PayloadDir: payloadDir}

	if !yes {
		if !interactive.IsTerminal() {
			return fmt.Errorf("refusing to launch the installer without a terminal; pass --yes")
		}
		p := interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())
		if !p.ConfirmInstall(d.VersionID, d.Mandatory, relaunch, bin) {
			return writer.Write(result)
		}
	}

	if err := installer.Handoff(mode, payloadDir); err != nil {
		return err
	}
	result.Launched = true
	return writer.Write(result)
}
