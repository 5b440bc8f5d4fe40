// Package integrity computes and verifies archive digests.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
)

// ErrUnknownAlgorithm is returned when an algorithm name or digest length is not recognized.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// DigestMismatchError reports that a file's digest differs from the expected value.
type DigestMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// ParseAlgorithm parses a user-supplied algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case MD5:
		return MD5, nil
	case SHA256, "sha-256":
		return SHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// AlgorithmFor infers the algorithm from the length of a hex digest:
// 32 characters is MD5, 64 is SHA-256.
func AlgorithmFor(hexDigest string) (Algorithm, error) {
	h := strings.TrimSpace(hexDigest)
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("%w: digest is not hex", ErrUnknownAlgorithm)
	}
	switch len(h) {
	case md5.Size * 2:
		return MD5, nil
	case sha256.Size * 2:
		return SHA256, nil
	default:
		return "", fmt.Errorf("%w: digest has %d hex characters", ErrUnknownAlgorithm, len(h))
	}
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// Digest streams the file at path through algo and returns the lowercase hex digest.
func Digest(path string, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file's digest equals expected, ignoring case.
// The algorithm is chosen from the length of expected.
func Verify(path, expected string) (bool, error) {
	algo, err := AlgorithmFor(expected)
	if err != nil {
		return false, err
	}
	actual, err := Digest(path, algo)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}

// Check is Verify that reports a mismatch as *DigestMismatchError.
func Check(path, expected string) error {
	algo, err := AlgorithmFor(expected)
	if err != nil {
		return err
	}
	actual, err := Digest(path, algo)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &DigestMismatchError{Path: path, Expected: strings.ToLower(strings.TrimSpace(expected)), Actual: actual}
	}
	return nil
}
