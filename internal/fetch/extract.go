// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/onedr0p/gluctl/internal/matrix"
)

// extractRuntime copies the single tar entry named entry out of the archive at
// archivePath to dest with mode 0755. dest is replaced atomically, so a stale
// runtime from an earlier run never survives a successful extraction and a
// failed extraction never leaves a partial file at dest.
func extractRuntime(archivePath, entry, dest string) (err error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	r, closeDecompressor, err := decompress(archivePath, f)
	if err != nil {
		return err
	}
	defer closeDecompressor()

	tr := tar.NewReader(r)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}

		if path.Clean(strings.TrimPrefix(hdr.Name, "./")) != entry || hdr.Typeflag != tar.TypeReg {
			continue
		}

		return writeExecutable(io.LimitReader(tr, maxRuntimeBytes), dest)
	}

	return fmt.Errorf("%w: %s", ErrRuntimeNotInArchive, entry)
}

// decompress wraps r in the decompressor matching the extension of name. The
// returned func releases decompressor resources.
func decompress(name string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, matrix.ExtTarGz):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		// Gzip reader wraps the underlying file; close errors are not
		// actionable here since we only read from it.
		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(name, matrix.ExtTarXz):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xr, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(name))
	}
}

// writeExecutable writes r to a temp file beside dest, marks it executable,
// and renames it over dest.
func writeExecutable(r io.Reader, dest string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".runtime-*")
	if err != nil {
		return fmt.Errorf("creating temp file for runtime: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing runtime: %w", err)
	}
	if err := tmp.Chmod(0o755); err != nil {
		return fmt.Errorf("setting runtime permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing runtime: %w", err)
	}

	// Remove first so a directory or read-only file left at dest by an
	// earlier run does not block the rename.
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing stale runtime: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving runtime into place: %w", err)
	}
	committed = true

	return nil
}
