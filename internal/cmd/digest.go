package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/updraft/internal/integrity"
)

// digestResult is what the digest command reports.
type digestResult struct {
	Path      string              `json:"path" yaml:"path"`
	Algorithm integrity.Algorithm `json:"algorithm" yaml:"algorithm"`
	Digest    string              `json:"digest" yaml:"digest"`
	Expected  string              `json:"expected,omitempty" yaml:"expected,omitempty"`
	Match     *bool               `json:"match,omitempty" yaml:"match,omitempty"`
}

func (r digestResult) String() string {
	s := fmt.Sprintf("%s  %s", r.Digest, r.Path)
	if r.Match != nil {
		if *r.Match {
			s += "\nOK"
		} else {
			s += "\nMISMATCH (expected " + r.Expected + ")"
		}
	}
	return s
}

func newDigestCmd() *cobra.Command {
	var (
		algo   string
		expect string
	)

	cmd := &cobra.Command{
		Use:   "digest <file>",
		Short: "Print or verify a file digest",
		Long: `Digest prints the MD5 (default) or SHA-256 digest of a file.

With --expect the file is verified instead: the algorithm is taken from the
length of the expected digest and the command fails on a mismatch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(cmd, args[0], algo, expect)
		},
	}

	cmd.Flags().StringVar(&algo, "algo", string(integrity.MD5), "Digest algorithm: md5, sha256")
	cmd.Flags().StringVar(&expect, "expect", "", "Expected hex digest to verify against")
	_ = cmd.RegisterFlagCompletionFunc("algo", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{string(integrity.MD5), string(integrity.SHA256)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runDigest(cmd *cobra.Command, path, algoName, expect string) error {
	writer, err := newWriter(cmd)
	if err != nil {
		return err
	}

	algo, err := integrity.ParseAlgorithm(algoName)
	if err != nil {
		return err
	}
	if expect != "" {
		if algo, err = integrity.AlgorithmFor(expect); err != nil {
			return fmt.Errorf("--expect: %w", err)
		}
	}

	sum, err := integrity.Digest(path, algo)
	if err != nil {
		return err
	}
	result := digestResult{Path: path, Algorithm: algo, Digest: sum}

	if expect == "" {
		return writer.Write(result)
	}

	match := strings.EqualFold(sum, strings.TrimSpace(expect))
	result.Expected = expect
	result.Match = &match
	if err := writer.Write(result); err != nil {
		return err
	}
	if !match {
		return &integrity.DigestMismatchError{Path: path, Expected: expect, Actual: sum}
	}
	return nil
}
