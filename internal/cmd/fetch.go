package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/fetch"
	"github.com/adamancini/updraft/internal/integrity"
)

// fetchResult is what the fetch command reports.
type fetchResult struct {
	Session  fetch.Session `json:"session" yaml:"session"`
	Bytes    int64         `json:"bytes" yaml:"bytes"`
	Resumed  bool          `json:"resumed" yaml:"resumed"`
	Elapsed  string        `json:"elapsed" yaml:"elapsed"`
	Verified bool          `json:"verified,omitempty" yaml:"verified,omitempty"`
}

func (r fetchResult) String() string {
	s := fmt.Sprintf("Downloaded %s (%s) in %s", r.Session.TargetPath, formatBytes(r.Bytes), r.Elapsed)
	if r.Resumed {
		s += ", resumed"
	}
	if r.Verified {
		s += ", digest verified"
	}
	return s
}

func newFetchCmd() *cobra.Command {
	var (
		speed   float64
		partial string
		expect  string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url> <target>",
		Short: "Download a file with resume and throttling",
		Long: `Fetch downloads a single file the way the update pipeline does.

Bytes are written to a partial file (<target>.part unless --partial is given)
and renamed into place once the transfer completes. An interrupted fetch
resumes from the partial file on the next run when the server supports range
requests.

--speed caps throughput in KB/s (0 is unlimited). --expect verifies the
finished file against an MD5 or SHA-256 hex digest.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], args[1], partial, speed, expect)
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 0, "Throughput limit in KB/s (0 is unlimited)")
	cmd.Flags().StringVar(&partial, "partial", "", "Partial file path (default <target>.part)")
	cmd.Flags().StringVar(&expect, "expect", "", "Expected MD5 or SHA-256 hex digest")

	return cmd
}

func runFetch(cmd *cobra.Command, rawURL, target, partial string, speed float64, expect string) error {
	ctx := cmd.Context()
	if speed < 0 {
		return fmt.Errorf("--speed must be non-negative")
	}
	if expect != "" {
		if _, err := integrity.AlgorithmFor(expect); err != nil {
			return fmt.Errorf("--expect: %w", err)
		}
	}
	if partial == "" {
		partial = target + ".part"
	}

	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}

	req := fetch.Request{
		URL:            rawURL,
		TargetPath:     target,
		PartialPath:    partial,
		BytesPerSecond: int64(speed * 1024),
	}
	if !quiet && !writer.Structured() {
		req.OnProgress = progressLine(cmd.ErrOrStderr(), time.Second)
	}

	res, err := newFetcher(cfg).Fetch(ctx, req)
	if err != nil {
		return err
	}

	result := fetchResult{
		Session: res.Session,
		Bytes:   res.Bytes,
		Resumed: res.Resumed,
		Elapsed: res.Elapsed.Round(time.Millisecond).String(),
	}
	if expect != "" {
		if err := integrity.Check(res.Path, expect); err != nil {
			return err
		}
		result.Verified = true
	}

	return writer.Write(result)
}

// progressLine returns an OnProgress callback printing at most once per
// interval, plus the final chunk.
func progressLine(w io.Writer, interval time.Duration) func(fetch.Progress) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(p fetch.Progress) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		finished := p.Total > 0 && p.Written >= p.Total
		if !finished && now.Sub(last) < interval {
			return
		}
		last = now

		if f := p.Fraction(); f >= 0 {
			_, _ = fmt.Fprintf(w, "  %s / %s (%.0f%%)\n", formatBytes(p.Written), formatBytes(p.Total), f*100)
			return
		}
		_, _ = fmt.Fprintf(w, "  %s\n", formatBytes(p.Written))
	}
}
