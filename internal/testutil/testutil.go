// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

type (
	// TarFile is one regular-file entry written by MustTarGz and MustTarXz.
	TarFile struct {
		Name    string
		Content []byte
		Mode    int64
	}

	// TarEntry is one entry read back by ReadTarGz.
	TarEntry struct {
		Header  *tar.Header
		Content []byte
	}
)

// MustMkdirAll creates a directory along with any necessary parents.
// The test fails immediately if the operation fails.
func MustMkdirAll(t testing.TB, path string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(path, perm); err != nil {
		t.Fatalf("failed to create directory %s: %v", path, err)
	}
}

// MustWriteFile writes content to path with perm.
// The test fails immediately if the operation fails.
func MustWriteFile(t testing.TB, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	// WriteFile honors umask; tests compare exact modes.
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod %s: %v", path, err)
	}
}

// MustReadFile returns the contents of path.
// The test fails immediately if the operation fails.
func MustReadFile(t testing.TB, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return data
}

// MustClose closes the given io.Closer.
// The test fails immediately if the close fails.
func MustClose(t testing.TB, c io.Closer) {
	t.Helper()
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
}

// MustTarGz builds an in-memory gzip-compressed tar archive containing files.
func MustTarGz(t testing.TB, files ...TarFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	mustWriteTar(t, gw, files)
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

// MustTarXz builds an in-memory xz-compressed tar archive containing files.
func MustTarXz(t testing.TB, files ...TarFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	mustWriteTar(t, xw, files)
	if err := xw.Close(); err != nil {
		t.Fatalf("closing xz writer: %v", err)
	}
	return buf.Bytes()
}

// ReadTarGz returns the entries of a gzip-compressed tar archive keyed by name.
func ReadTarGz(t testing.TB, data []byte) map[string]TarEntry {
	t.Helper()

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("creating gzip reader: %v", err)
	}
	defer func() { _ = gr.Close() }()

	out := make(map[string]TarEntry)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("reading tar entry: %v", err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading tar body %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = TarEntry{Header: hdr, Content: content}
	}
}

// mustWriteTar writes files as a tar stream into w.
func mustWriteTar(t testing.TB, w io.Writer, files []TarFile) {
	t.Helper()

	tw := tar.NewWriter(w)
	for _, f := range files {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     f.Name,
			Mode:     mode,
			Size:     int64(len(f.Content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			t.Fatalf("writing tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
}
