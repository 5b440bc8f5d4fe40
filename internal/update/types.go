package update

import (
	"context"

	"github.com/adamancini/updraft/internal/extract"
	"github.com/adamancini/updraft/internal/fetch"
)

// Platform describes the current system platform
type Platform struct {
	OS   string // Operating system (windows, darwin, linux)
	Arch string // Architecture (amd64, 386, arm64)
}

// Downloader produces the archive for a descriptor.
type Downloader interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
	Settle(sessionID string, verified bool)
}

// Unpacker runs an extraction job out of process.
type Unpacker interface {
	Start(ctx context.Context, job extract.Job) (*extract.Handle, error)
}

// Launcher starts the platform installer and lets it go.
type Launcher interface {
	Launch(path string, args []string) error
}

// Sharer keeps a copy of each verified archive.
type Sharer interface {
	Store(archivePath, version string) error
}
