package update

import (
	"fmt"
	"path/filepath"
)

const (
	// PayloadDirName is where archives are extracted for the installer.
	PayloadDirName = "updateApp"

	// DefaultInstaller64 and DefaultInstaller32 are the installer binaries
	// looked up in the application root.
	DefaultInstaller64 = "update.exe"
	DefaultInstaller32 = "update32.exe"

	// PartialGlob matches every partial download PartialPath can produce.
	PartialGlob = "app_*.part"

	stateDirName  = ".updraft"
	stateFileName = "state.json"
)

// Layout maps the pipeline's artifacts onto the application root.
//
//	<root>/<version>.zip        verified (or to-be-verified) archive
//	<root>/app_<version>.part   partial download
//	<root>/updateApp/           extracted payload
//	<root>/update.exe           installer (update32.exe on 32-bit)
//	<root>/.updraft/state.json  last recorded state
type Layout struct {
	Root        string
	Installer64 string
	Installer32 string
}

// NewLayout returns the default layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root, Installer64: DefaultInstaller64, Installer32: DefaultInstaller32}
}

// ArchivePath is the final archive location for version.
func (l Layout) ArchivePath(version string) string {
	return filepath.Join(l.Root, version+".zip")
}

// PartialPath is the in-progress download for version.
func (l Layout) PartialPath(version string) string {
	return filepath.Join(l.Root, fmt.Sprintf("app_%s.part", version))
}

// PayloadDir is the extraction destination.
func (l Layout) PayloadDir() string {
	return filepath.Join(l.Root, PayloadDirName)
}

// InstallerPath returns the installer binary for p.
func (l Layout) InstallerPath(p Platform) string {
	bin64, bin32 := l.Installer64, l.Installer32
	if bin64 == "" {
		bin64 = DefaultInstaller64
	}
	if bin32 == "" {
		bin32 = DefaultInstaller32
	}
	return filepath.Join(l.Root, p.InstallerName(bin64, bin32))
}

// StatePath is where StateFile records transitions.
func (l Layout) StatePath() string {
	return filepath.Join(l.Root, stateDirName, stateFileName)
}
