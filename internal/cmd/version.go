package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/update"
)

// versionInfo is what the version command reports.
type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
	Installer string `json:"installer" yaml:"installer"`
}

func (v versionInfo) String() string {
	return fmt.Sprintf("updraft version %s (commit %s, built %s, %s, %s)", v.Version, v.Commit, v.Date, v.GoVersion, v.Platform)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the updraft version, build information and the installer this platform uses.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			writer, err := newWriter(cmd)
			if err != nil {
				return err
			}
			platform := update.Detect()
			return writer.Write(versionInfo{
				Version:   updraftVersion,
				Commit:    buildCommit,
				Date:      buildDate,
				GoVersion: runtime.Version(),
				Platform:  platform.OS + "/" + platform.Arch,
				Installer: platform.InstallerName(update.DefaultInstaller64, update.DefaultInstaller32),
			})
		},
	}
}
