// SPDX-License-Identifier: MPL-2.0

// Package stage produces the pruned, dependency-resolved copy of the
// application tree that every target archive is built from.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/fsutil"
)

// DirName is the name of the staging directory inside the work directory.
const DirName = "app"

var (
	// ErrInstall indicates the dependency installer failed inside the staging tree.
	ErrInstall = errors.New("dependency install failed")

	// ErrInvalidPattern indicates an exclude pattern is not a valid glob.
	ErrInvalidPattern = errors.New("invalid exclude pattern")

	//nolint:gochecknoglobals // static list, copied by DefaultExcludes
	defaultExcludes = []string{".github", "dist", ".git", "node_modules", ".vscode", "scripts"}

	//nolint:gochecknoglobals // static argv, copied by DefaultInstaller
	defaultInstaller = []string{"npm", "ci", "--omit", "dev"}
)

type (
	// Stager copies a source tree into <workDir>/app and installs its
	// production dependencies there.
	Stager struct {
		source    string
		workDir   string
		excludes  []string // paths relative to source, slash-separated
		dirs      []string // directories kept out of the copy when inside source
		patterns  []string // doublestar globs relative to source
		installer []string
		runner    command.Runner
		logger    *log.Logger
	}

	// Option configures a Stager during construction.
	Option func(*Stager)
)

// DefaultExcludes returns a copy of the top-level names never copied into the staging tree.
func DefaultExcludes() []string { return slices.Clone(defaultExcludes) }

// DefaultInstaller returns a copy of the default dependency install command.
func DefaultInstaller() []string { return slices.Clone(defaultInstaller) }

// WithExcludeNames adds top-level names to leave out of the copy.
func WithExcludeNames(names ...string) Option {
	return func(s *Stager) {
		s.excludes = append(s.excludes, names...)
	}
}

// WithExcludePatterns adds doublestar patterns, matched against slash-separated
// paths relative to the source root, to leave out of the copy.
func WithExcludePatterns(patterns ...string) Option {
	return func(s *Stager) {
		s.patterns = append(s.patterns, patterns...)
	}
}

// WithExcludeDirs keeps dirs out of the staging copy when they lie inside
// the source tree. Dirs outside it are ignored. The stager's own work
// directory is always treated this way.
func WithExcludeDirs(dirs ...string) Option {
	return func(s *Stager) {
		s.dirs = append(s.dirs, dirs...)
	}
}

// WithInstaller replaces the dependency install command. An empty argv skips
// the install step.
func WithInstaller(argv []string) Option {
	return func(s *Stager) {
		s.installer = argv
	}
}

// WithRunner sets the runner used for the install step.
func WithRunner(r command.Runner) Option {
	return func(s *Stager) {
		s.runner = r
	}
}

// WithLogger sets the logger used for progress output.
func WithLogger(l *log.Logger) Option {
	return func(s *Stager) {
		s.logger = l
	}
}

// New creates a Stager copying source into workDir/app.
func New(source, workDir string, opts ...Option) *Stager {
	s := &Stager{
		source:    source,
		workDir:   workDir,
		excludes:  DefaultExcludes(),
		installer: DefaultInstaller(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.runner == nil {
		s.runner = command.NewExecRunner(s.logger)
	}
	s.excludes = append(s.excludes, nestedPaths(s.source, append(s.dirs, s.workDir))...)
	return s
}

// nestedPaths returns the slash-separated paths of dirs relative to source,
// dropping any dir that is not strictly inside it.
func nestedPaths(source string, dirs []string) []string {
	root, err := filepath.Abs(source)
	if err != nil {
		return nil
	}
	var out []string
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// Dir returns the staging directory path.
func (s *Stager) Dir() string {
	return filepath.Join(s.workDir, DirName)
}

// Stage replaces any previous staging tree with a fresh copy of the source,
// minus excluded paths, and runs the installer inside it. It returns the
// staging directory. On failure the partial tree is removed.
func (s *Stager) Stage(ctx context.Context) (_ string, err error) {
	for _, pat := range s.patterns {
		if !doublestar.ValidatePattern(pat) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPattern, pat)
		}
	}

	dir := s.Dir()
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing previous staging tree: %w", err)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	s.logger.Info("staging application", "source", s.source, "dir", dir)
	if err := fsutil.CopyTree(ctx, s.source, dir, s.skip); err != nil {
		return "", fmt.Errorf("copying %s: %w", s.source, err)
	}

	if len(s.installer) == 0 {
		return dir, nil
	}

	c := command.Cmd{Name: s.installer[0], Args: s.installer[1:], Dir: dir}
	s.logger.Info("installing dependencies", "cmd", command.Line(c))
	res, err := s.runner.Run(ctx, c)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInstall, err)
	}
	if res != nil && len(res.Stdout) > 0 {
		s.logger.Debug("installer output", "stdout", string(res.Stdout))
	}

	return dir, nil
}

// skip reports whether rel is excluded from the staging copy.
func (s *Stager) skip(rel string, _ fs.DirEntry) bool {
	if slices.Contains(s.excludes, rel) {
		return true
	}
	for _, pat := range s.patterns {
		if matched, matchErr := doublestar.Match(pat, rel); matchErr == nil && matched {
			return true
		}
	}
	return false
}
