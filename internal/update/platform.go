package update

import (
	"runtime"
)

// Detect returns the current platform (OS and architecture)
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// Is32Bit reports whether the architecture needs the 32-bit installer.
func (p Platform) Is32Bit() bool {
	switch p.Arch {
	case "386", "arm", "mips", "mipsle", "wasm":
		return true
	}
	return false
}

// InstallerName picks bin32 on 32-bit architectures and bin64 otherwise.
func (p Platform) InstallerName(bin64, bin32 string) string {
	if p.Is32Bit() {
		return bin32
	}
	return bin64
}

// RequiresInstaller is true where the running binary cannot replace its own
// files and a separate installer process must finish the update.
func (p Platform) RequiresInstaller() bool {
	return p.OS == "windows"
}
