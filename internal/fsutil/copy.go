// SPDX-License-Identifier: MPL-2.0

// Package fsutil contains the tree copy used to stage the application and to
// prepare per-target archive roots.
package fsutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SkipFunc reports whether the entry at rel (slash-separated, relative to the
// copy source) must be left out. Returning true for a directory skips its
// whole subtree.
type SkipFunc func(rel string, d fs.DirEntry) bool

// CopyTree copies the directory src into dst, which must not exist yet.
// Regular files keep their permission bits and symlinks are recreated with
// the same target. Other file types (sockets, devices, pipes) are skipped.
// ctx is checked between entries so a cancelled build stops promptly.
func CopyTree(ctx context.Context, src, dst string, skip SkipFunc) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("copy %s: not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if rel == "." {
			return os.MkdirAll(target, srcInfo.Mode().Perm())
		}
		if skip != nil && skip(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.Mkdir(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return CopyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

// CopyFile copies the regular file src to dst with the given permissions,
// streaming the contents rather than reading the file into memory.
func CopyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only handle

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	// Re-apply permissions: OpenFile is subject to umask.
	return out.Chmod(perm)
}
