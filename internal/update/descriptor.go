package update

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/adamancini/updraft/internal/integrity"
)

// DefaultThrottleKBps is the download limit used when neither the descriptor
// nor the configuration names one (0.6 MiB/s).
const DefaultThrottleKBps = 614.4

// ErrInvalidDescriptor wraps every descriptor validation failure.
var ErrInvalidDescriptor = errors.New("invalid update descriptor")

// Record is the update record as the backend publishes it.
type Record struct {
	VersionNo  string  `json:"versionNo" yaml:"versionNo" toml:"versionNo"`
	UpdateFlag string  `json:"updateFlag" yaml:"updateFlag" toml:"updateFlag"`
	FileURL    string  `json:"fileUrl" yaml:"fileUrl" toml:"fileUrl"`
	FileMD5    string  `json:"fileMd5" yaml:"fileMd5" toml:"fileMd5"`
	Speed      float64 `json:"speed,omitempty" yaml:"speed,omitempty" toml:"speed,omitempty"` // KB/s
}

// Descriptor is one published update. It is immutable once accepted; a
// newer descriptor replaces it wholesale.
type Descriptor struct {
	VersionID      string  `json:"versionId" yaml:"versionId"`
	ArchiveURL     string  `json:"archiveUrl" yaml:"archiveUrl"`
	ExpectedDigest string  `json:"expectedDigest" yaml:"expectedDigest"`
	Mandatory      bool    `json:"mandatory" yaml:"mandatory"`
	ThrottleKBps   float64 `json:"throttleKBps,omitempty" yaml:"throttleKBps,omitempty"`
}

// Descriptor converts the record and validates the result.
func (r Record) Descriptor() (Descriptor, error) {
	mandatory, _ := strconv.ParseBool(strings.TrimSpace(r.UpdateFlag))
	d := Descriptor{
		VersionID:      NormalizeVersion(r.VersionNo),
		ArchiveURL:     strings.TrimSpace(r.FileURL),
		ExpectedDigest: strings.ToLower(strings.TrimSpace(r.FileMD5)),
		Mandatory:      mandatory,
		ThrottleKBps:   r.Speed,
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the descriptor fields and reports every problem at once.
func (d Descriptor) Validate() error {
	var problems []string

	if d.VersionID == "" {
		problems = append(problems, "version: must not be empty")
	} else if _, err := ParseVersion(d.VersionID); err != nil {
		problems = append(problems, fmt.Sprintf("version: %v", err))
	}

	if d.ArchiveURL == "" {
		problems = append(problems, "url: must not be empty")
	} else if u, err := url.Parse(d.ArchiveURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("url: %q is not an http(s) URL", d.ArchiveURL))
	}

	if _, err := integrity.AlgorithmFor(d.ExpectedDigest); err != nil {
		problems = append(problems, fmt.Sprintf("digest: %v", err))
	}

	if d.ThrottleKBps < 0 {
		problems = append(problems, "speed: must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidDescriptor, strings.Join(problems, "\n  - "))
	}
	return nil
}

// SameArtifact reports whether both descriptors point at the same archive.
func (d Descriptor) SameArtifact(other Descriptor) bool {
	return d.VersionID == other.VersionID &&
		d.ArchiveURL == other.ArchiveURL &&
		strings.EqualFold(d.ExpectedDigest, other.ExpectedDigest)
}

// BytesPerSecond resolves the download limit. fallbackKBps applies when the
// descriptor carries no speed of its own.
func (d Descriptor) BytesPerSecond(fallbackKBps float64) int64 {
	kbps := d.ThrottleKBps
	if kbps <= 0 {
		kbps = fallbackKBps
	}
	if kbps <= 0 {
		return 0
	}
	return int64(kbps * 1024)
}

// NewerThan reports whether the descriptor's version sorts above current.
func (d Descriptor) NewerThan(current string) (bool, error) {
	cmp, err := CompareVersions(d.VersionID, current)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}
