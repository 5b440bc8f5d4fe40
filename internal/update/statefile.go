package update

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adamancini/updraft/internal/logging"
)

// Snapshot is the persisted form of the orchestrator state.
type Snapshot struct {
	State      State       `json:"state" yaml:"state"`
	Descriptor *Descriptor `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
	UpdatedAt  time.Time   `json:"updatedAt" yaml:"updatedAt"`
}

// StateFile records transitions to disk so other processes can read the
// pipeline's progress.
type StateFile struct {
	path string
	mu   sync.Mutex
}

// NewStateFile creates a StateFile writing to path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the file location.
func (f *StateFile) Path() string { return f.path }

// Record is a Subscribe callback. Write errors are logged.
func (f *StateFile) Record(t Transition) {
	if err := f.Write(Snapshot{State: t.To, Descriptor: t.Descriptor, UpdatedAt: time.Now()}); err != nil {
		log.Warn("failed to record state", "path", f.path, logging.KeyError, err)
	}
}

// Write replaces the file atomically.
func (f *StateFile) Write(s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tmp->final: %w", err)
	}
	return nil
}

// ReadStateFile loads a snapshot written by StateFile.
func ReadStateFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return &s, nil
}
