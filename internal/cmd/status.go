package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/types"
	"github.com/adamancini/updraft/internal/update"
)

// statusReport is the recorded pipeline state plus what is on disk.
type statusReport struct {
	AppRoot       string             `json:"appRoot" yaml:"appRoot"`
	StateFile     string             `json:"stateFile" yaml:"stateFile"`
	Recorded      bool               `json:"recorded" yaml:"recorded"`
	State         update.State       `json:"state" yaml:"state"`
	Descriptor    *update.Descriptor `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
	UpdatedAt     time.Time          `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	Archive       string             `json:"archive,omitempty" yaml:"archive,omitempty"`
	ArchiveSize   int64              `json:"archiveSize,omitempty" yaml:"archiveSize,omitempty"`
	PartialSize   int64              `json:"partialSize,omitempty" yaml:"partialSize,omitempty"`
	PayloadReady  bool               `json:"payloadReady" yaml:"payloadReady"`
	Installer     string             `json:"installer" yaml:"installer"`
	InstallerSeen bool               `json:"installerPresent" yaml:"installerPresent"`
}

func (r statusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "App root:  %s\n", r.AppRoot)
	if !r.Recorded {
		b.WriteString("State:     no update recorded")
		return b.String()
	}

	fmt.Fprintf(&b, "State:     %s (since %s)\n", r.State, formatTime(r.State.Since))
	if r.Descriptor != nil {
		mandatory := ""
		if r.Descriptor.Mandatory {
			mandatory = " (mandatory)"
		}
		fmt.Fprintf(&b, "Version:   %s%s\n", r.Descriptor.VersionID, mandatory)
		fmt.Fprintf(&b, "URL:       %s\n", r.Descriptor.ArchiveURL)
	}
	if r.State.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", r.State.Error)
	}
	if r.ArchiveSize > 0 {
		fmt.Fprintf(&b, "Archive:   %s (%s)\n", r.Archive, formatBytes(r.ArchiveSize))
	} else if r.PartialSize > 0 {
		fmt.Fprintf(&b, "Partial:   %s downloaded\n", formatBytes(r.PartialSize))
	}
	fmt.Fprintf(&b, "Payload:   %s\n", presence(r.PayloadReady))
	fmt.Fprintf(&b, "Installer: %s (%s)", r.Installer, presence(r.InstallerSeen))
	return b.String()
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded update state",
		Long: `Status shows the last state recorded by 'updraft apply' together with the
archive, partial download, payload and installer found in the application root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}

	report, err := buildStatus(newLayout(cfg), update.Detect())
	if err != nil {
		return err
	}
	return writer.Write(report)
}

func buildStatus(layout update.Layout, platform update.Platform) (statusReport, error) {
	report := statusReport{
		AppRoot:   layout.Root,
		StateFile: layout.StatePath(),
		State:     update.State{Kind: types.StateIdle},
		Installer: layout.InstallerPath(platform),
	}
	report.InstallerSeen = fileSize(report.Installer) >= 0

	snap, err := update.ReadStateFile(report.StateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, err
	}

	report.Recorded = true
	report.State = snap.State
	report.Descriptor = snap.Descriptor
	report.UpdatedAt = snap.UpdatedAt

	if snap.Descriptor != nil {
		version := snap.Descriptor.VersionID
		report.Archive = layout.ArchivePath(version)
		report.ArchiveSize = max(fileSize(report.Archive), 0)
		report.PartialSize = max(fileSize(layout.PartialPath(version)), 0)
	}
	if info, err := os.Stat(layout.PayloadDir()); err == nil && info.IsDir() {
		report.PayloadReady = true
	}
	return report, nil
}

// fileSize returns the size of a regular file, or -1 if it does not exist.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return -1
	}
	return info.Size()
}
