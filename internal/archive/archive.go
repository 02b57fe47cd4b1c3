// SPDX-License-Identifier: MPL-2.0

// Package archive builds the per-target compressed payload: a copy of the
// staging tree with the target's runtime executable placed at
// node_modules/.bin/node, packed as tar+gzip.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/onedr0p/gluctl/internal/fsutil"
	"github.com/onedr0p/gluctl/internal/matrix"
)

// RuntimeRelPath is where the runtime executable lives inside every payload.
const RuntimeRelPath = "node_modules/.bin/node"

type (
	// Builder creates per-target archives under a shared work directory.
	Builder struct {
		workDir string
		logger  *log.Logger
	}

	// Option configures a Builder during construction.
	Option func(*Builder)
)

// WithLogger sets the logger used for progress output.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// New creates a Builder writing into workDir.
func New(workDir string, opts ...Option) *Builder {
	b := &Builder{workDir: workDir}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	return b
}

// TreeDir returns the per-target copy of the staging tree for e.
func (b *Builder) TreeDir(e matrix.Entry) string {
	return filepath.Join(b.workDir, "app-"+e.Key())
}

// ArchivePath returns the archive Build writes for e.
func (b *Builder) ArchivePath(e matrix.Entry) string {
	return b.TreeDir(e) + ".tar.gz"
}

// Build copies stagingDir, moves runtimePath into the copy at RuntimeRelPath,
// and packs the copy into ArchivePath(e). The tree copy is always removed
// before returning; the archive is removed too if Build fails. runtimePath is
// consumed by the move.
func (b *Builder) Build(ctx context.Context, stagingDir, runtimePath string, e matrix.Entry) (_ string, err error) {
	treeDir := b.TreeDir(e)
	archivePath := b.ArchivePath(e)

	if err := os.RemoveAll(treeDir); err != nil {
		return "", fmt.Errorf("removing stale tree: %w", err)
	}
	defer func() { _ = os.RemoveAll(treeDir) }()
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()

	if err := fsutil.CopyTree(ctx, stagingDir, treeDir, nil); err != nil {
		return "", fmt.Errorf("copying staging tree: %w", err)
	}

	runtimeDest := filepath.Join(treeDir, filepath.FromSlash(RuntimeRelPath))
	if err := os.MkdirAll(filepath.Dir(runtimeDest), 0o755); err != nil {
		return "", fmt.Errorf("creating runtime directory: %w", err)
	}
	_ = os.Remove(runtimeDest) // a node shim from the installer would block the rename
	if err := os.Rename(runtimePath, runtimeDest); err != nil {
		return "", fmt.Errorf("moving runtime into tree: %w", err)
	}

	b.logger.Debug("packing archive", "path", archivePath)
	if err := writeTarGz(ctx, treeDir, archivePath); err != nil {
		return "", err
	}

	return archivePath, nil
}

// writeTarGz packs root into a gzip-compressed tar at dest. Entry names are
// relative to root. Writers are closed tar first, then gzip, then the file.
func writeTarGz(ctx context.Context, root, dest string) (err error) {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing archive: %w", closeErr)
		}
	}()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return addEntry(tw, path, filepath.ToSlash(rel), d)
	})
	if walkErr != nil {
		return fmt.Errorf("writing archive: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finishing gzip stream: %w", err)
	}
	return nil
}

// addEntry writes the header, and for regular files the contents, of path.
func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	} else if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", name, err)
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	// Owner names vary per build host and are meaningless to the extractor.
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }() // read-only handle

	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
