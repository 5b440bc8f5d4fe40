package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrIllegalPath is returned for archive entries that would land outside
// the destination directory.
var ErrIllegalPath = errors.New("extract: illegal file path in archive")

// Unzip replaces dest with the contents of archive. dest is removed first so
// nothing from an earlier extraction survives. A zero-length archive yields
// an empty dest. logf receives progress lines and may be nil.
func Unzip(ctx context.Context, archive, dest string, logf func(format string, args ...any)) error {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	info, err := os.Stat(archive)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if info.Size() == 0 {
		logf("archive %s is empty", archive)
		return nil
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	logf("archive ready: %s (%d entries, %s)", archive, len(zr.File), humanize.IBytes(uint64(info.Size())))

	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	var total uint64
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := extractEntry(f, root)
		if err != nil {
			return err
		}
		total += n
		if (i+1)%100 == 0 {
			logf("extracted %d/%d entries", i+1, len(zr.File))
		}
	}

	logf("extracted %d entries (%s) to %s", len(zr.File), humanize.IBytes(total), dest)
	return nil
}

// safeJoin resolves name under root, rejecting absolute and escaping paths.
func safeJoin(root, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return target, nil
}

func extractEntry(f *zip.File, root string) (uint64, error) {
	target, err := safeJoin(root, f.Name)
	if err != nil {
		return 0, err
	}

	mode := f.Mode()
	switch {
	case mode.IsDir():
		if err := os.MkdirAll(target, dirPerm(mode)); err != nil {
			return 0, fmt.Errorf("create directory %s: %w", f.Name, err)
		}
		return 0, nil

	case mode&os.ModeSymlink != 0:
		return 0, extractSymlink(f, root, target)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}

	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", f.Name, err)
	}

	// OpenFile perms are subject to umask.
	if err := os.Chmod(target, perm); err != nil {
		return 0, fmt.Errorf("chmod %s: %w", f.Name, err)
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return uint64(n), nil
}

func extractSymlink(f *zip.File, root, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	linkname, err := io.ReadAll(io.LimitReader(rc, 4096))
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("read link %s: %w", f.Name, err)
	}

	link := filepath.FromSlash(string(linkname))
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPath, f.Name, link)
	}
	resolved := filepath.Join(filepath.Dir(target), link)
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPath, f.Name, link)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Name, err)
	}
	_ = os.Remove(target)
	if err := os.Symlink(link, target); err != nil {
		return fmt.Errorf("symlink %s: %w", f.Name, err)
	}
	return nil
}

func dirPerm(mode os.FileMode) os.FileMode {
	perm := mode.Perm() | 0o700
	if perm == 0o700 {
		return 0o755
	}
	return perm
}
