package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/extract"
)

// newWorkerCmd is the extraction worker entry point. The parent talks to it
// over stdin/stdout; logs go to stderr and are forwarded by the parent.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:           extract.WorkerCommand,
		Short:         "Run the archive extraction worker",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The failure was already reported over the channel; the error
			// only sets the exit code.
			return extract.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
