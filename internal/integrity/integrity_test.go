package integrity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	emptyMD5    = "d41d8cd98f00b204e9800998ecf8427e"
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	helloMD5    = "5d41402abc4b2a76b9719d911017c592"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDigest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		algo    Algorithm
		want    string
	}{
		{"empty md5", "", MD5, emptyMD5},
		{"empty sha256", "", SHA256, emptySHA256},
		{"hello md5", "hello", MD5, helloMD5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Digest(writeFile(t, tt.content), tt.algo)
			if err != nil {
				t.Fatalf("Digest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Digest() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDigestIsDeterministic(t *testing.T) {
	path := writeFile(t, strings.Repeat("updraft payload ", 4096))
	first, err := Digest(path, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Digest(path, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("digest changed between runs: %s vs %s", first, second)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	path := writeFile(t, "release 1.2.3")

	for _, algo := range []Algorithm{MD5, SHA256} {
		t.Run(string(algo), func(t *testing.T) {
			d, err := Digest(path, algo)
			if err != nil {
				t.Fatal(err)
			}
			ok, err := Verify(path, d)
			if err != nil || !ok {
				t.Fatalf("Verify(own digest) = %v, %v", ok, err)
			}
			ok, err = Verify(path, strings.ToUpper(d))
			if err != nil || !ok {
				t.Errorf("Verify should be case-insensitive, got %v, %v", ok, err)
			}
		})
	}
}

func TestVerifyMismatch(t *testing.T) {
	path := writeFile(t, "not empty")

	ok, err := Verify(path, emptyMD5)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() should be false for a different digest")
	}

	err = Check(path, emptyMD5)
	var mismatch *DigestMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DigestMismatchError, got %v", err)
	}
	if mismatch.Expected != emptyMD5 {
		t.Errorf("Expected = %s", mismatch.Expected)
	}
}

func TestAlgorithmFor(t *testing.T) {
	tests := []struct {
		name    string
		digest  string
		want    Algorithm
		wantErr bool
	}{
		{"md5", emptyMD5, MD5, false},
		{"sha256", emptySHA256, SHA256, false},
		{"uppercase md5", strings.ToUpper(emptyMD5), MD5, false},
		{"sha1 length", "da39a3ee5e6b4b0d3255bfef95601890afd80709", "", true},
		{"not hex", strings.Repeat("z", 32), "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AlgorithmFor(tt.digest)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AlgorithmFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownAlgorithm) {
				t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
			}
			if got != tt.want {
				t.Errorf("AlgorithmFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	if a, err := ParseAlgorithm("SHA-256"); err != nil || a != SHA256 {
		t.Errorf("ParseAlgorithm(SHA-256) = %s, %v", a, err)
	}
	if a, err := ParseAlgorithm("md5"); err != nil || a != MD5 {
		t.Errorf("ParseAlgorithm(md5) = %s, %v", a, err)
	}
	if _, err := ParseAlgorithm("crc32"); err == nil {
		t.Error("crc32 should be rejected")
	}
}

func TestDigestMissingFile(t *testing.T) {
	_, err := Digest(filepath.Join(t.TempDir(), "missing.zip"), MD5)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
