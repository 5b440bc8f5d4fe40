package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/backup"
	"github.com/adamancini/updraft/internal/interactive"
)

func newArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "Manage shared update archives",
		Long: `Archives manages the share directory configured by share_dir.

Every archive that passes verification during 'updraft apply' is copied there
as <version>.zip with a <version>.json record of its SHA-256 and store time.
Only the newest share_keep archives are retained.`,
	}

	cmd.AddCommand(newArchivesListCmd())
	cmd.AddCommand(newArchivesShowCmd())
	cmd.AddCommand(newArchivesDeleteCmd())
	cmd.AddCommand(newArchivesPruneCmd())

	return cmd
}

func newArchivesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List shared archives",
		Long:  `List displays the shared archives with their store time and size, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchivesList(cmd)
		},
	}
}

func newArchivesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "Show a shared archive's metadata",
		Long:  `Show prints the stored metadata for a version. Use 'latest' for the most recent archive.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchivesShow(cmd, args[0])
		},
	}
}

func newArchivesDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <version>",
		Short: "Delete a shared archive",
		Long:  `Delete removes a shared archive and its metadata.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchivesDelete(cmd, args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func newArchivesPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old shared archives",
		Long: `Prune deletes old archives, keeping only the most recent N.

By default, keeps share_keep archives.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = cfg.ShareKeep
			}
			return runArchivesPrune(cmd, keep)
		},
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeepCount, "Number of archives to keep")

	return cmd
}

// shareManager returns the configured share, or an error when share_dir is unset.
func shareManager() (*backup.Manager, error) {
	share := newShare(cfg)
	if share == nil {
		return nil, fmt.Errorf("no share directory configured (set share_dir or UPDRAFT_SHARE_DIR)")
	}
	return share, nil
}

func runArchivesList(cmd *cobra.Command) error {
	manager, err := shareManager()
	if err != nil {
		return err
	}

	archives, err := manager.List()
	if err != nil {
		return err
	}

	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if writer.Structured() {
		return writer.Write(archives)
	}

	out := cmd.OutOrStdout()
	if len(archives) == 0 {
		_, _ = fmt.Fprintln(out, "No shared archives found.")
		_, _ = fmt.Fprintf(out, "Share directory: %s\n", manager.Dir())
		return nil
	}

	_, _ = fmt.Fprintf(out, "Archives stored in %s:\n\n", manager.Dir())
	rows := make([][]string, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, []string{a.Version, formatTime(a.StoredAt), formatBytes(a.Size)})
	}
	return writer.Table([]string{"VERSION", "STORED", "SIZE"}, rows)
}

func runArchivesShow(cmd *cobra.Command, version string) error {
	manager, err := shareManager()
	if err != nil {
		return err
	}

	archive, err := manager.Get(version)
	if err != nil {
		return err
	}

	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if writer.Structured() {
		return writer.Write(archive)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Version: %s\n", archive.Version)
	_, _ = fmt.Fprintf(out, "Stored:  %s\n", formatTime(archive.StoredAt))
	_, _ = fmt.Fprintf(out, "SHA-256: %s\n", archive.SHA256)
	if archive.Source != "" {
		_, _ = fmt.Fprintf(out, "Source:  %s\n", archive.Source)
	}
	return nil
}

func runArchivesDelete(cmd *cobra.Command, version string, yes bool) error {
	manager, err := shareManager()
	if err != nil {
		return err
	}

	if !yes && interactive.IsTerminal() {
		p := interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())
		if !p.Confirm("Delete shared archive %s?", version) {
			return nil
		}
	}

	if err := manager.Delete(version); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Archive deleted: %s\n", version)
	return nil
}

func runArchivesPrune(cmd *cobra.Command, keep int) error {
	manager, err := shareManager()
	if err != nil {
		return err
	}

	result, err := manager.Prune(keep)
	if err != nil {
		return err
	}

	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if writer.Structured() {
		return writer.Write(result)
	}

	out := cmd.OutOrStdout()
	if len(result.Deleted) == 0 {
		_, _ = fmt.Fprintf(out, "No archives to prune. Keeping %d archives.\n", result.Kept)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Pruned %d archive(s), keeping %d:\n", len(result.Deleted), result.Kept)
	for _, a := range result.Deleted {
		_, _ = fmt.Fprintf(out, "  - %s (%s)\n", a.Version, formatTime(a.StoredAt))
	}
	return nil
}
