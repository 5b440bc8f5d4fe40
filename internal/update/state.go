package update

import (
	"fmt"
	"slices"
	"time"

	"github.com/adamancini/updraft/internal/types"
)

// State is the orchestrator's current position in the update pipeline.
type State struct {
	Kind    types.StateKind     `json:"kind" yaml:"kind"`
	Version string              `json:"version,omitempty" yaml:"version,omitempty"`
	Written int64               `json:"written,omitempty" yaml:"written,omitempty"`
	Total   int64               `json:"total,omitempty" yaml:"total,omitempty"`
	Reason  types.FailureReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error   string              `json:"error,omitempty" yaml:"error,omitempty"`
	Since   time.Time           `json:"since" yaml:"since"`
}

func (s State) String() string {
	switch s.Kind {
	case types.StateDownloading:
		if s.Total > 0 {
			return fmt.Sprintf("%s %d/%d", s.Kind, s.Written, s.Total)
		}
		return fmt.Sprintf("%s %d", s.Kind, s.Written)
	case types.StateFailed:
		return fmt.Sprintf("%s (%s)", s.Kind, s.Reason)
	default:
		return s.Kind.String()
	}
}

// Transition is delivered to subscribers on every state change.
type Transition struct {
	From       State       `json:"from" yaml:"from"`
	To         State       `json:"to" yaml:"to"`
	Descriptor *Descriptor `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
}

// transitions lists the legal successors of each state. Extraction is only
// reachable from verifying. In-flight states may jump back to downloading or
// verifying when a newer descriptor supersedes them, and fall back to idle
// when the orchestrator is closed.
var transitions = map[types.StateKind][]types.StateKind{
	types.StateIdle: {
		types.StateDownloading,
		types.StateVerifying,
		types.StateFailed,
	},
	types.StateDownloading: {
		types.StateDownloading,
		types.StateVerifying,
		types.StateFailed,
		types.StateIdle,
	},
	types.StateVerifying: {
		types.StateExtracting,
		types.StateDownloading,
		types.StateVerifying,
		types.StateFailed,
		types.StateIdle,
	},
	types.StateExtracting: {
		types.StateReadyToInstall,
		types.StateDownloading,
		types.StateVerifying,
		types.StateFailed,
		types.StateIdle,
	},
	types.StateReadyToInstall: {
		types.StateIdle,
	},
	types.StateFailed: {
		types.StateIdle,
	},
}

// CanTransition reports whether the pipeline may move from one state to another.
func CanTransition(from, to types.StateKind) bool {
	return slices.Contains(transitions[from], to)
}
