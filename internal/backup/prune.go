package backup

import (
	"fmt"
)

// DefaultKeepCount is the default number of shared archives to retain.
const DefaultKeepCount = 3

// PruneResult contains information about what was pruned.
type PruneResult struct {
	Deleted []ArchiveInfo
	Kept    int
}

// Prune removes old archives, keeping only the most recent N.
func (m *Manager) Prune(keep int) (*PruneResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must be non-negative")
	}

	archives, err := m.List()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}

	// Archives are already sorted newest first
	if len(archives) <= keep {
		result.Kept = len(archives)
		return result, nil
	}

	toDelete := archives[keep:]
	result.Kept = keep

	for _, a := range toDelete {
		if err := m.Delete(a.Version); err != nil {
			return nil, fmt.Errorf("failed to delete archive %s: %w", a.Version, err)
		}
		result.Deleted = append(result.Deleted, a)
	}

	return result, nil
}
