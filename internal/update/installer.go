package update

import (
	"fmt"
	"os"
	"time"

	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/types"
)

// InstallerMissingError is returned when the handoff cannot find what the
// installer needs. The handoff is skipped; nothing is launched.
type InstallerMissingError struct {
	What string // "installer" or "payload"
	Path string
}

func (e *InstallerMissingError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

// Installer hands the extracted payload to the platform installer.
type Installer struct {
	layout   Layout
	platform Platform
	logDir   string
	launcher Launcher
	now      func() time.Time
}

// NewInstaller creates an installer for layout. A nil launcher launches
// detached processes.
func NewInstaller(layout Layout, platform Platform, logDir string, launcher Launcher) *Installer {
	if launcher == nil {
		launcher = DetachedLauncher{}
	}
	return &Installer{
		layout:   layout,
		platform: platform,
		logDir:   logDir,
		launcher: launcher,
		now:      time.Now,
	}
}

// Command returns the installer path and arguments for mode without
// launching anything.
func (i *Installer) Command(mode types.InstallMode) (string, []string) {
	logPath := logging.DailyLogPath(i.logDir, i.now())
	return i.layout.InstallerPath(i.platform), []string{mode.String(), logPath}
}

// Handoff launches the installer for the payload in payloadDir (the layout's
// payload directory when empty). It returns once the process has started.
func (i *Installer) Handoff(mode types.InstallMode, payloadDir string) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	if payloadDir == "" {
		payloadDir = i.layout.PayloadDir()
	}

	bin, args := i.Command(mode)
	if _, err := os.Stat(bin); err != nil {
		log.Warn("installer handoff skipped", "missing", bin)
		return &InstallerMissingError{What: "installer", Path: bin}
	}
	if info, err := os.Stat(payloadDir); err != nil || !info.IsDir() {
		log.Warn("installer handoff skipped", "missing", payloadDir)
		return &InstallerMissingError{What: "payload", Path: payloadDir}
	}

	if err := i.launcher.Launch(bin, args); err != nil {
		return fmt.Errorf("launch installer: %w", err)
	}
	log.Info("installer launched", "installer", bin, "mode", mode, "log", args[1])
	return nil
}

// DetachedLauncher starts the installer in its own session with stdio
// discarded and releases it.
type DetachedLauncher struct{}

// Launch implements Launcher.
func (DetachedLauncher) Launch(path string, args []string) error {
	return launchDetached(path, args)
}
