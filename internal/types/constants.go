// Package types provides type-safe constants for the update pipeline.
//
// This package centralizes the enumerated states and reasons used by the
// fetch, extract and update packages, replacing magic strings with typed
// constants that provide compile-time safety and validation methods.
//
// SYNC REQUIREMENT: StateKind transitions must stay in sync with the
// transition table in internal/update/state.go.
package types

import (
	"fmt"
	"strings"
)

// SessionStatus is the lifecycle of a download session.
type SessionStatus string

const (
	// SessionIdle indicates the session has not started transferring.
	SessionIdle SessionStatus = "idle"
	// SessionDownloading indicates bytes are being transferred.
	SessionDownloading SessionStatus = "downloading"
	// SessionPaused indicates the transfer stopped with the partial kept.
	SessionPaused SessionStatus = "paused"
	// SessionVerifying indicates the completed archive is being checked.
	SessionVerifying SessionStatus = "verifying"
	// SessionVerified indicates the archive matched its digest.
	SessionVerified SessionStatus = "verified"
	// SessionFailed indicates the session ended with an error.
	SessionFailed SessionStatus = "failed"
)

// AllSessionStatuses returns all valid session statuses.
func AllSessionStatuses() []SessionStatus {
	return []SessionStatus{SessionIdle, SessionDownloading, SessionPaused, SessionVerifying, SessionVerified, SessionFailed}
}

// Validate checks if the SessionStatus is a valid value.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionIdle, SessionDownloading, SessionPaused, SessionVerifying, SessionVerified, SessionFailed:
		return nil
	case "":
		return fmt.Errorf("session status is required")
	default:
		return fmt.Errorf("invalid session status '%s'", s)
	}
}

// String returns the string representation of the SessionStatus.
func (s SessionStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the session can no longer make progress.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionVerified || s == SessionFailed
}

// JobStatus is the lifecycle of an extraction job.
type JobStatus string

const (
	// JobPending indicates the worker has not been told to start.
	JobPending JobStatus = "pending"
	// JobRunning indicates the worker is extracting.
	JobRunning JobStatus = "running"
	// JobComplete indicates the worker reported success.
	JobComplete JobStatus = "complete"
	// JobFailed indicates the worker reported or caused a failure.
	JobFailed JobStatus = "failed"
)

// AllJobStatuses returns all valid job statuses.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobPending, JobRunning, JobComplete, JobFailed}
}

// Validate checks if the JobStatus is a valid value.
func (s JobStatus) Validate() error {
	switch s {
	case JobPending, JobRunning, JobComplete, JobFailed:
		return nil
	case "":
		return fmt.Errorf("job status is required")
	default:
		return fmt.Errorf("invalid job status '%s'", s)
	}
}

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsDone returns true once the job has a final outcome.
func (s JobStatus) IsDone() bool {
	return s == JobComplete || s == JobFailed
}

// StateKind names the orchestrator's update state.
type StateKind string

const (
	// StateIdle indicates no update is in progress.
	StateIdle StateKind = "idle"
	// StateDownloading indicates the archive is being fetched.
	StateDownloading StateKind = "downloading"
	// StateVerifying indicates the archive digest is being checked.
	StateVerifying StateKind = "verifying"
	// StateExtracting indicates the worker is unpacking the archive.
	StateExtracting StateKind = "extracting"
	// StateReadyToInstall indicates the payload is staged for the installer.
	StateReadyToInstall StateKind = "ready-to-install"
	// StateFailed indicates the pipeline stopped with a reason.
	StateFailed StateKind = "failed"
)

// AllStateKinds returns all valid state kinds.
func AllStateKinds() []StateKind {
	return []StateKind{StateIdle, StateDownloading, StateVerifying, StateExtracting, StateReadyToInstall, StateFailed}
}

// Validate checks if the StateKind is a valid value.
func (k StateKind) Validate() error {
	switch k {
	case StateIdle, StateDownloading, StateVerifying, StateExtracting, StateReadyToInstall, StateFailed:
		return nil
	case "":
		return fmt.Errorf("state is required")
	default:
		return fmt.Errorf("invalid state '%s'", k)
	}
}

// String returns the string representation of the StateKind.
func (k StateKind) String() string {
	return string(k)
}

// InFlight returns true while the pipeline goroutine owns the state.
func (k StateKind) InFlight() bool {
	return k == StateDownloading || k == StateVerifying || k == StateExtracting
}

// ParseStateKind parses a string into a StateKind.
func ParseStateKind(s string) (StateKind, error) {
	k := StateKind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// FailureReason explains why the pipeline entered the failed state.
type FailureReason string

const (
	// ReasonNetwork indicates the transfer failed after retries.
	ReasonNetwork FailureReason = "network-error"
	// ReasonDisk indicates the archive could not be written.
	ReasonDisk FailureReason = "disk-error"
	// ReasonDigestMismatch indicates the archive did not match its digest.
	ReasonDigestMismatch FailureReason = "digest-mismatch"
	// ReasonExtraction indicates the worker failed or died.
	ReasonExtraction FailureReason = "extraction-error"
	// ReasonInvalidDescriptor indicates the descriptor was rejected.
	ReasonInvalidDescriptor FailureReason = "invalid-descriptor"
)

// AllFailureReasons returns all valid failure reasons.
func AllFailureReasons() []FailureReason {
	return []FailureReason{ReasonNetwork, ReasonDisk, ReasonDigestMismatch, ReasonExtraction, ReasonInvalidDescriptor}
}

// Validate checks if the FailureReason is a valid value.
func (r FailureReason) Validate() error {
	switch r {
	case ReasonNetwork, ReasonDisk, ReasonDigestMismatch, ReasonExtraction, ReasonInvalidDescriptor:
		return nil
	case "":
		return fmt.Errorf("failure reason is required")
	default:
		return fmt.Errorf("invalid failure reason '%s'", r)
	}
}

// String returns the string representation of the FailureReason.
func (r FailureReason) String() string {
	return string(r)
}

// Retryable returns true if a later descriptor is likely to succeed
// without operator action.
func (r FailureReason) Retryable() bool {
	return r == ReasonNetwork
}

// InstallMode selects what the platform installer does after copying files.
type InstallMode string

const (
	// InstallSilent installs without relaunching the application.
	InstallSilent InstallMode = ""
	// InstallAndStart installs and relaunches the application.
	InstallAndStart InstallMode = "start"
)

// AllInstallModes returns all valid install modes.
func AllInstallModes() []InstallMode {
	return []InstallMode{InstallSilent, InstallAndStart}
}

// Validate checks if the InstallMode is a valid value.
func (m InstallMode) Validate() error {
	switch m {
	case InstallSilent, InstallAndStart:
		return nil
	default:
		return fmt.Errorf("invalid install mode '%s' (must be empty or start)", m)
	}
}

// String returns the string representation of the InstallMode.
func (m InstallMode) String() string {
	return string(m)
}

// Relaunches returns true if the installer restarts the application.
func (m InstallMode) Relaunches() bool {
	return m == InstallAndStart
}

// InstallModeFor returns the mode matching a relaunch request.
func InstallModeFor(relaunch bool) InstallMode {
	if relaunch {
		return InstallAndStart
	}
	return InstallSilent
}

// OutputFormat selects how CLI commands render results.
type OutputFormat string

const (
	// FormatText renders human-readable output.
	FormatText OutputFormat = "text"
	// FormatJSON renders indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatYAML renders YAML.
	FormatYAML OutputFormat = "yaml"
)

// Validate checks if the OutputFormat is a valid value.
func (f OutputFormat) Validate() error {
	switch f {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("invalid output format '%s' (must be text, json, or yaml)", f)
	}
}

// ParseOutputFormat parses a string into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(s))
	if f == "" {
		f = FormatText
	}
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f, nil
}
