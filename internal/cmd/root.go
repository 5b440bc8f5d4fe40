package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/config"
	"github.com/adamancini/updraft/internal/extract"
	"github.com/adamancini/updraft/internal/logging"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool

	// cfg is loaded by the root command's PersistentPreRunE.
	cfg *config.Config

	// logCloser releases the log file opened by log.file, if any.
	logCloser io.Closer
)

// skipsConfig lists commands that run without loading the config file.
var skipsConfig = map[string]bool{
	extract.WorkerCommand: true,
	"completion":          true,
	"init":                true,
	"version":             true,
	"help":                true,
}

// Execute runs the updraft CLI.
func Execute(version, commit, date string) error {
	SetVersion(version, commit, date)
	defer closeLog()

	// Interrupts cancel the running pipeline; partial downloads are kept.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updraft",
		Short: "Resumable, verified self-update pipeline",
		Long: `updraft downloads, verifies and stages application updates.

An update descriptor names a version, an archive URL, its MD5 or SHA-256 digest
and an optional speed limit. updraft fetches the archive with resume and
throttling, checks the digest, unpacks it in a worker process and hands the
payload to the platform installer.`,
		Version:      updraftVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig[cmd.Name()] {
				return initLogging(cmd, config.Default().Log)
			}
			return loadConfig(cmd)
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	flags.StringVar(&configPath, "config", "", "Path to updraft config file")
	flags.String("app-root", "", "Application root holding archives, payload and installer")
	flags.String("log-format", "text", "Log format: text, json")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Append logs to this file instead of stderr")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newDigestCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newArchivesCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}

// loadConfig loads the config found for --config and configures logging
// from it.
func loadConfig(cmd *cobra.Command) error {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}

	loaded, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = loaded

	if err := initLogging(cmd, cfg.Log); err != nil {
		return err
	}
	if path != "" {
		logging.L("cmd").Debug("config loaded", "path", path)
	}
	return nil
}

// initLogging applies log settings, letting --verbose and --quiet win over
// the configured level.
func initLogging(cmd *cobra.Command, lc config.LogConfig) error {
	level := lc.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}

	var out io.Writer = cmd.ErrOrStderr()
	if lc.File != "" {
		f, err := logging.OpenFile(lc.File)
		if err != nil {
			return fmt.Errorf("log.file: %w", err)
		}
		closeLog()
		logCloser = f
		out = f
	}

	logging.Init(lc.Format, level, out)
	return nil
}

func closeLog() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}
