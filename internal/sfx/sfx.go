// SPDX-License-Identifier: MPL-2.0

// Package sfx assembles self-extracting executables. Each output file is the
// launcher stub for its platform, followed by the compressed payload, a
// newline, and a JSON manifest. The stub locates the manifest from the end of
// its own file, extracts the payload, and runs the manifest command.
package sfx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onedr0p/gluctl/internal/matrix"
)

// ErrStubNotFound indicates no launcher stub exists for a target.
var ErrStubNotFound = errors.New("launcher stub not found")

type (
	// Artifact describes one finished executable.
	Artifact struct {
		Platform       matrix.Platform
		Arch           matrix.Arch
		ExecutablePath string
		Checksum       string // lowercase hex sha256 of the file at ExecutablePath
		Identifier     string
		Size           int64
	}

	// ChecksumRecorder records the digest of a finished executable. *Ledger
	// implements it.
	ChecksumRecorder interface {
		Append(hash, filename string) error
	}

	// Assembler writes executables into a dist directory and records their
	// checksums in a shared ChecksumRecorder.
	Assembler struct {
		name    string
		distDir string
		command []string
		ledger  ChecksumRecorder
		now     func() time.Time
		logger  *log.Logger
	}

	// Option configures an Assembler during construction.
	Option func(*Assembler)
)

// WithCommand overrides the manifest command. Words may use Placeholder.
func WithCommand(command []string) Option {
	return func(a *Assembler) {
		a.command = command
	}
}

// WithClock sets the time source for manifest identifiers.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *log.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

// NewAssembler creates an Assembler producing <distDir>/<name>-<platform>-<arch><ext>
// and appending to ledger.
func NewAssembler(name, distDir string, ledger ChecksumRecorder, opts ...Option) *Assembler {
	a := &Assembler{
		name:    name,
		distDir: distDir,
		ledger:  ledger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.New(io.Discard)
	}
	return a
}

// StubPath returns <stubDir>/stub--<platform>--<arch> using stub naming.
func StubPath(stubDir string, e matrix.Entry) string {
	return filepath.Join(stubDir, "stub--"+e.StubPlatform()+"--"+e.StubArch())
}

// LocateStub returns StubPath for e, or an error wrapping ErrStubNotFound if
// no regular file exists there.
func LocateStub(stubDir string, e matrix.Entry) (string, error) {
	p := StubPath(stubDir, e)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrStubNotFound, p)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrStubNotFound, p)
	}
	return p, nil
}

// OutputPath returns the executable path for e.
func (a *Assembler) OutputPath(e matrix.Entry) string {
	return filepath.Join(a.distDir, a.name+"-"+e.Key()+e.TargetExt)
}

// Assemble writes stub, archive, "\n", and the manifest to OutputPath(e),
// then hashes the closed file and appends the digest to the ledger. Any
// previous output is replaced. On failure no output file is left behind and
// nothing is appended.
func (a *Assembler) Assemble(ctx context.Context, stubPath, archivePath string, e matrix.Entry) (_ *Artifact, err error) {
	manifest := NewManifest(a.name, e, a.now(), a.command)
	trailer, err := manifest.Marshal()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.distDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dist directory: %w", err)
	}

	out := a.OutputPath(e)
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing previous executable: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(out)
		}
	}()

	if err := writeExecutable(ctx, out, stubPath, archivePath, trailer); err != nil {
		return nil, err
	}

	sum, err := ComputeFileHash(out)
	if err != nil {
		return nil, fmt.Errorf("hashing executable: %w", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Append(sum, filepath.Base(out)); err != nil {
		return nil, err
	}
	committed = true

	a.logger.Debug("assembled executable", "path", out, "sha256", sum, "identifier", manifest.Identifier)

	return &Artifact{
		Platform:       e.Platform,
		Arch:           e.Arch,
		ExecutablePath: out,
		Checksum:       sum,
		Identifier:     manifest.Identifier,
		Size:           info.Size(),
	}, nil
}

// writeExecutable creates out with the executable bit set before any byte is
// written, then streams the three payloads into it.
func writeExecutable(ctx context.Context, out, stubPath, archivePath string, trailer []byte) (err error) {
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		return fmt.Errorf("creating executable: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing executable: %w", closeErr)
		}
	}()

	// The create mode is filtered by umask; force the exact bits.
	if err := f.Chmod(0o755); err != nil {
		return fmt.Errorf("setting executable permissions: %w", err)
	}

	if err := appendFile(f, stubPath); err != nil {
		return fmt.Errorf("writing stub: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := appendFile(f, archivePath); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("writing separator: %w", err)
	}
	if _, err := f.Write(trailer); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }() // read-only handle

	_, err = io.Copy(w, src)
	return err
}
