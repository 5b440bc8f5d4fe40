package update

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionRegex = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)(?:-([a-zA-Z0-9.-]+))?$`)

// Version is a dotted numeric release id such as "1.2.3", "2024.1" or
// "1.0.0.17", optionally followed by a prerelease tag.
type Version struct {
	Parts      []int
	Prerelease string
}

// NormalizeVersion trims whitespace and a leading "v".
func NormalizeVersion(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "v")
}

// ParseVersion parses a release id.
// Supports formats like "1.2.3", "v1.2", "1.0.0.17", "0.9.0-rc.1"
func ParseVersion(s string) (*Version, error) {
	matches := versionRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	fields := strings.Split(matches[1], ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid version component %q in %q", f, s)
		}
		parts[i] = n
	}

	return &Version{Parts: parts, Prerelease: matches[2]}, nil
}

// String returns the normalized form.
func (v *Version) String() string {
	fields := make([]string, len(v.Parts))
	for i, n := range v.Parts {
		fields[i] = strconv.Itoa(n)
	}
	s := strings.Join(fields, ".")
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Compare returns 1, 0 or -1. Missing trailing components count as zero,
// so "1.2" equals "1.2.0". A release sorts above its prereleases.
func (v *Version) Compare(other *Version) int {
	n := max(len(v.Parts), len(other.Parts))
	for i := 0; i < n; i++ {
		a, b := component(v.Parts, i), component(other.Parts, i)
		if a != b {
			if a > b {
				return 1
			}
			return -1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease > other.Prerelease:
		return 1
	default:
		return -1
	}
}

func component(parts []int, i int) int {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}

// IsGreaterThan returns true if v > other
func (v *Version) IsGreaterThan(other *Version) bool {
	return v.Compare(other) > 0
}

// CompareVersions compares two version strings
// Returns:
//   - 1 if v1 > v2
//   - 0 if v1 == v2
//   - -1 if v1 < v2
//   - error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	ver1, err := ParseVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	ver2, err := ParseVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return ver1.Compare(ver2), nil
}
