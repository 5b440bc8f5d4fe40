package update

import (
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	root := filepath.Join("srv", "app")
	l := NewLayout(root)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"archive", l.ArchivePath("1.2.3"), filepath.Join(root, "1.2.3.zip")},
		{"partial", l.PartialPath("1.2.3"), filepath.Join(root, "app_1.2.3.part")},
		{"payload", l.PayloadDir(), filepath.Join(root, "updateApp")},
		{"state", l.StatePath(), filepath.Join(root, ".updraft", "state.json")},
		{"installer amd64", l.InstallerPath(Platform{OS: "windows", Arch: "amd64"}), filepath.Join(root, "update.exe")},
		{"installer 386", l.InstallerPath(Platform{OS: "windows", Arch: "386"}), filepath.Join(root, "update32.exe")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLayoutCustomInstallerNames(t *testing.T) {
	l := Layout{Root: "root", Installer64: "setup.exe"}
	if got := l.InstallerPath(Platform{Arch: "amd64"}); got != filepath.Join("root", "setup.exe") {
		t.Errorf("64-bit installer = %q", got)
	}
	// An unset 32-bit name falls back to the default.
	if got := l.InstallerPath(Platform{Arch: "386"}); got != filepath.Join("root", DefaultInstaller32) {
		t.Errorf("32-bit installer = %q", got)
	}
}
