// Package backup keeps copies of verified update archives in a share
// directory so they can be reinstalled or handed to other machines.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adamancini/updraft/internal/integrity"
	"github.com/adamancini/updraft/internal/logging"
)

var log = logging.L("backup")

// Archive is the metadata stored next to each shared archive.
type Archive struct {
	Version  string    `json:"version" yaml:"version"`
	StoredAt time.Time `json:"stored_at" yaml:"stored_at"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	SHA256   string    `json:"sha256" yaml:"sha256"`
}

// ArchiveInfo provides summary information about a shared archive for listing.
type ArchiveInfo struct {
	Version  string    `json:"version" yaml:"version"`
	StoredAt time.Time `json:"stored_at" yaml:"stored_at"`
	Size     int64     `json:"size" yaml:"size"`
	Path     string    `json:"path" yaml:"path"`
}

// Manager handles the share directory.
type Manager struct {
	dir  string
	keep int
	now  func() time.Time
}

// NewManager creates a manager for the default share directory.
func NewManager(keep int) (*Manager, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return NewManagerWithDir(dir, keep), nil
}

// NewManagerWithDir creates a manager for dir. Store prunes to keep
// archives when keep is positive.
func NewManagerWithDir(dir string, keep int) *Manager {
	return &Manager{dir: dir, keep: keep, now: time.Now}
}

// DefaultDir returns the default share directory path.
func DefaultDir() (string, error) {
	// Use XDG_CACHE_HOME or default to ~/.cache
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "updraft", "share"), nil
}

// Store copies archivePath into the share directory as <version>.zip,
// replacing any earlier copy of the same version.
func (m *Manager) Store(archivePath, version string) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create share directory: %w", err)
	}

	dst := m.archivePath(version)
	if err := copyAtomic(archivePath, dst); err != nil {
		return fmt.Errorf("failed to copy archive: %w", err)
	}

	sum, err := integrity.Digest(dst, integrity.SHA256)
	if err != nil {
		return fmt.Errorf("failed to hash shared archive: %w", err)
	}

	meta := Archive{
		Version:  version,
		StoredAt: m.now(),
		Source:   archivePath,
		SHA256:   sum,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive metadata: %w", err)
	}
	if err := os.WriteFile(m.metaPath(version), data, 0644); err != nil {
		return fmt.Errorf("failed to write archive metadata: %w", err)
	}
	log.Info("archive shared", "version", version, "path", dst)

	if m.keep > 0 {
		if _, err := m.Prune(m.keep); err != nil {
			log.Warn("failed to prune share directory", logging.KeyError, err)
		}
	}
	return nil
}

// List returns all shared archives sorted by store time (newest first).
func (m *Manager) List() ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ArchiveInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read share directory: %w", err)
	}

	archives := []ArchiveInfo{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		meta, err := m.loadMeta(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		info, err := os.Stat(m.archivePath(meta.Version))
		if err != nil {
			continue
		}

		archives = append(archives, ArchiveInfo{
			Version:  meta.Version,
			StoredAt: meta.StoredAt,
			Size:     info.Size(),
			Path:     m.archivePath(meta.Version),
		})
	}

	// Sort by store time, newest first
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].StoredAt.After(archives[j].StoredAt)
	})

	return archives, nil
}

// Get returns the metadata for version. Use "latest" for the most recent.
func (m *Manager) Get(version string) (*Archive, error) {
	if version == "latest" {
		archives, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(archives) == 0 {
			return nil, fmt.Errorf("no shared archives found")
		}
		version = archives[0].Version
	}
	return m.loadMeta(m.metaPath(version))
}

// Delete removes a shared archive and its metadata.
func (m *Manager) Delete(version string) error {
	if _, err := os.Stat(m.metaPath(version)); os.IsNotExist(err) {
		return fmt.Errorf("shared archive not found: %s", version)
	}

	if err := os.Remove(m.archivePath(version)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	if err := os.Remove(m.metaPath(version)); err != nil {
		return fmt.Errorf("failed to delete archive metadata: %w", err)
	}
	return nil
}

// Dir returns the share directory path.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) archivePath(version string) string {
	return filepath.Join(m.dir, version+".zip")
}

func (m *Manager) metaPath(version string) string {
	return filepath.Join(m.dir, version+".json")
}

// loadMeta reads and parses a metadata file.
func (m *Manager) loadMeta(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("shared archive not found: %s", filepath.Base(path))
		}
		return nil, fmt.Errorf("failed to read archive metadata: %w", err)
	}

	var meta Archive
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse archive metadata: %w", err)
	}

	return &meta, nil
}

// copyAtomic copies src to dst through a temporary file and a rename.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	syncErr := out.Sync()
	closeErr := out.Close()
	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tmp->final: %w", err)
	}
	return nil
}
