package engine

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gradebox/internal/check/sandbox/spec"
)

// expandMount fills ${NAME} references in a mount template from vars. Unknown names expand to
// the empty string; a template that expands to nothing yields no mount.
func expandMount(template string, vars map[string]string) (spec.MountSpec, bool) {
	if strings.TrimSpace(template) == "" {
		return spec.MountSpec{}, false
	}
	path := os.Expand(template, func(name string) string {
		return vars[name]
	})
	path = filepath.Clean(path)
	if path == "." || path == "/" || !filepath.IsAbs(path) {
		return spec.MountSpec{}, false
	}
	return spec.MountSpec{Source: path, Target: path, ReadOnly: true}, true
}

// copyTree copies the regular files, directories and symlinks under src into dst, keeping modes.
// The mode of src is applied to dst as well.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			// dst itself already exists, so MkdirAll alone would keep its mode.
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			return os.Chmod(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
