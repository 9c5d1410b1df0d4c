package layout

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrConflict is returned when an installed file would replace a different
// file already in place.
var ErrConflict = errors.New("destination exists with different content")

// InstallResult is returned by Install.
type InstallResult struct {
	Installed []string // destination paths that were written
	Skipped   int      // identical files already in place
}

// Install moves every file under srcDir whose base name matches pattern into
// dstDir, flattening subdirectories. Existing identical files (by MD5) are
// skipped; existing different files abort with ErrConflict.
func Install(srcDir, dstDir, pattern string) (*InstallResult, error) {
	result := &InstallResult{}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return result, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return result, fmt.Errorf("cannot create %s: %w", dstDir, err)
	}

	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			// Version-control metadata of the cloned repo never holds artifacts.
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}

		dst := filepath.Join(dstDir, d.Name())
		if _, err := os.Stat(dst); err == nil {
			srcMD5, err := fileMD5(path)
			if err != nil {
				return fmt.Errorf("md5 %s: %w", path, err)
			}
			dstMD5, err := fileMD5(dst)
			if err != nil {
				return fmt.Errorf("md5 %s: %w", dst, err)
			}
			if srcMD5 == dstMD5 {
				result.Skipped++
				return nil
			}
			return fmt.Errorf("%s: %w", dst, ErrConflict)
		}

		if err := moveFile(path, dst); err != nil {
			return fmt.Errorf("move %s → %s: %w", path, dst, err)
		}
		result.Installed = append(result.Installed, dst)
		return nil
	})
	return result, err
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// fileMD5 returns the hex-encoded MD5 digest of the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// copyFile copies src to dst, preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
