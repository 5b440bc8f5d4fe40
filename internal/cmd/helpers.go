package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/backup"
	"github.com/adamancini/updraft/internal/config"
	"github.com/adamancini/updraft/internal/extract"
	"github.com/adamancini/updraft/internal/fetch"
	"github.com/adamancini/updraft/internal/httputil"
	"github.com/adamancini/updraft/internal/logging"
	"github.com/adamancini/updraft/internal/output"
	"github.com/adamancini/updraft/internal/update"
)

// maxDescriptorSize bounds descriptor documents read from stdin or a URL.
const maxDescriptorSize = 1 << 20

var (
	updraftVersion = "dev"
	buildCommit    = "none"
	buildDate      = "unknown"
)

// SetVersion records build information for the version command.
func SetVersion(version, commit, date string) {
	updraftVersion = version
	buildCommit = commit
	buildDate = date
}

// newWriter returns an output writer for the --output flag.
func newWriter(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(cmd.OutOrStdout(), format), nil
}

// newLayout maps the config onto the application root layout.
func newLayout(c *config.Config) update.Layout {
	layout := update.NewLayout(c.AppRoot)
	layout.Installer64 = c.Installer.Bin64
	layout.Installer32 = c.Installer.Bin32
	return layout
}

func newFetcher(c *config.Config) *fetch.Fetcher {
	return fetch.New(fetch.Options{
		MaxAttempts:   c.Network.MaxAttempts,
		HeaderTimeout: c.Network.HeaderTimeout.Duration,
		StallTimeout:  c.Network.StallTimeout.Duration,
		Retry:         httputil.DefaultRetryConfig(),
	})
}

func newExtractor(c *config.Config) *extract.Extractor {
	return extract.New(extract.Options{
		Command:      c.Extract.WorkerCommand,
		StartTimeout: c.Extract.StartTimeout.Duration,
	})
}

// newShare returns the archive share for c, or nil when share_dir is unset.
// share_dir = "auto" selects the per-user cache directory.
func newShare(c *config.Config) *backup.Manager {
	switch c.ShareDir {
	case "":
		return nil
	case config.ShareDirAuto:
		share, err := backup.NewManager(c.ShareKeep)
		if err != nil {
			logging.L("cmd").Warn("share directory disabled", logging.KeyError, err)
			return nil
		}
		return share
	}
	return backup.NewManagerWithDir(c.ShareDir, c.ShareKeep)
}

// newOrchestrator wires an orchestrator from the loaded config.
func newOrchestrator(c *config.Config) *update.Orchestrator {
	platform := update.Detect()
	opts := update.Options{
		Layout:                   newLayout(c),
		Platform:                 platform,
		LogDir:                   c.ResolvedLogDir(),
		DefaultThrottleKBps:      c.DefaultThrottleKBps,
		RequireExternalInstaller: c.RequireExternalInstaller(platform.OS),
		Downloader:               newFetcher(c),
		Unpacker:                 newExtractor(c),
		Launcher:                 installLauncher,
	}
	// Assigned only when configured so the interface stays nil otherwise.
	if share := newShare(c); share != nil {
		opts.Sharer = share
	}
	return update.New(opts)
}

// readDescriptor loads an update descriptor from a file, stdin ("-") or an
// http(s) URL. The format comes from the extension or the content.
func readDescriptor(ctx context.Context, cmd *cobra.Command, source string) (update.Descriptor, error) {
	name, content, err := readSource(ctx, cmd, source)
	if err != nil {
		return update.Descriptor{}, err
	}

	var record update.Record
	if err := config.Decode(name, content, &record); err != nil {
		return update.Descriptor{}, fmt.Errorf("%w: %v", update.ErrInvalidDescriptor, err)
	}
	return record.Descriptor()
}

func readSource(ctx context.Context, cmd *cobra.Command, source string) (string, []byte, error) {
	switch {
	case source == "-":
		content, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxDescriptorSize))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read descriptor from stdin: %w", err)
		}
		return "-", content, nil

	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		u, err := url.Parse(source)
		if err != nil {
			return "", nil, fmt.Errorf("invalid descriptor url: %w", err)
		}
		content, err := fetchDescriptor(ctx, source)
		if err != nil {
			return "", nil, err
		}
		return path.Base(u.Path), content, nil

	default:
		content, err := os.ReadFile(source)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read descriptor: %w", err)
		}
		return source, content, nil
	}
}

func fetchDescriptor(ctx context.Context, source string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	headers := http.Header{"Accept": []string{"application/json, application/yaml, application/toml"}}

	resp, err := httputil.Do(ctx, client, http.MethodGet, source, nil, headers, httputil.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch descriptor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch descriptor: %s returned %s", source, resp.Status)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	return content, nil
}

// formatBytes renders a byte count, or "?" when unknown.
func formatBytes(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(n))
}

// formatTime renders t for tables.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
