// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"

	"github.com/onedr0p/gluctl/internal/fetch"
	"github.com/onedr0p/gluctl/internal/matrix"
	"github.com/onedr0p/gluctl/internal/stage"
)

const (
	// LogLevelDebug enables per-step output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn shows warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError shows errors only.
	LogLevelError LogLevel = "error"

	defaultAppName = "gluctl"
	defaultStubDir = "node_modules/caxa/stubs"
	defaultDistDir = "dist"
	buildDirName   = "gluctl-build-dir"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidRuntimeVersion is returned when a runtime version is not a
	// "v"-prefixed semantic version.
	ErrInvalidRuntimeVersion = errors.New("invalid runtime version")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level logged.
	LogLevel string

	// InvalidConfigError collects every problem found by Config.IsValid.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the resolved configuration of one gluctl invocation.
	Config struct {
		// AppName prefixes output executables and manifest identifiers.
		AppName string `json:"app_name" mapstructure:"app_name"`
		// RuntimeVersion is the runtime release to embed, e.g. "v20.11.0".
		RuntimeVersion string `json:"runtime_version" mapstructure:"runtime_version"`
		// RuntimeMirror is the default download base URL.
		RuntimeMirror string `json:"runtime_mirror" mapstructure:"runtime_mirror"`
		// Mirrors overrides RuntimeMirror per "<platform>-<arch>" key.
		Mirrors map[string]string `json:"mirrors" mapstructure:"mirrors"`
		// StubDir holds the launcher stubs. Relative paths resolve against the source directory.
		StubDir string `json:"stub_dir" mapstructure:"stub_dir"`
		// DistDir receives executables and checksums.txt. Relative paths resolve against the source directory.
		DistDir string `json:"dist_dir" mapstructure:"dist_dir"`
		// TmpDir is the scratch directory for staging, runtimes, and archives.
		TmpDir string `json:"tmp_dir" mapstructure:"tmp_dir"`
		// DownloadTimeout bounds each runtime download.
		DownloadTimeout time.Duration `json:"download_timeout" mapstructure:"download_timeout"`
		// Installer is the dependency install argv run in the staging tree.
		Installer []string `json:"installer" mapstructure:"installer"`
		// Exclude lists extra doublestar patterns left out of the staging copy.
		Exclude []string `json:"exclude" mapstructure:"exclude"`
		// ManifestCommand is the command the launcher runs after extraction.
		ManifestCommand []string `json:"manifest_command" mapstructure:"manifest_command"`
		// LogLevel is the minimum level logged.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels,
// and a list of validation errors if it is not.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidLogLevel, l)}
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig followed by the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// ValidateRuntimeVersion reports whether v is a "v"-prefixed release version
// such as "v20.11.0".
func ValidateRuntimeVersion(v string) error {
	if !semver.IsValid(v) || semver.Canonical(v) != v || semver.Prerelease(v) != "" {
		return fmt.Errorf("%w: %q (expected v<major>.<minor>.<patch>)", ErrInvalidRuntimeVersion, v)
	}
	return nil
}

// IsValid checks every field that CUE cannot check on its own, including
// values that arrived through environment overrides.
func (c *Config) IsValid() (bool, []error) {
	var errs []error

	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, errors.New("app_name: must not be empty"))
	}
	if c.RuntimeVersion != "" {
		if err := ValidateRuntimeVersion(c.RuntimeVersion); err != nil {
			errs = append(errs, fmt.Errorf("runtime_version: %w", err))
		}
	}
	if c.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("download_timeout: must be positive, got %s", c.DownloadTimeout))
	}
	if ok, levelErrs := c.LogLevel.IsValid(); !ok {
		for _, err := range levelErrs {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	known := matrix.Keys(matrix.DefaultTable())
	for key := range c.Mirrors {
		if !slices.Contains(known, key) {
			errs = append(errs, fmt.Errorf("mirrors: unknown target %q", key))
		}
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("exclude: %w: %q", stage.ErrInvalidPattern, p))
		}
	}

	return len(errs) == 0, errs
}

// ResolvePaths makes StubDir, DistDir and TmpDir absolute, resolving relative
// values against sourceDir.
func (c *Config) ResolvePaths(sourceDir string) error {
	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("resolve source directory: %w", err)
	}
	if !filepath.IsAbs(c.StubDir) {
		c.StubDir = filepath.Join(abs, c.StubDir)
	}
	if !filepath.IsAbs(c.DistDir) {
		c.DistDir = filepath.Join(abs, c.DistDir)
	}
	if !filepath.IsAbs(c.TmpDir) {
		c.TmpDir = filepath.Join(abs, c.TmpDir)
	}
	return nil
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		AppName:         defaultAppName,
		RuntimeVersion:  "",
		RuntimeMirror:   fetch.DefaultMirror,
		Mirrors:         map[string]string{},
		StubDir:         defaultStubDir,
		DistDir:         defaultDistDir,
		TmpDir:          filepath.Join(os.TempDir(), buildDirName),
		DownloadTimeout: fetch.DefaultTimeout,
		Installer:       stage.DefaultInstaller(),
		Exclude:         []string{},
		ManifestCommand: []string{},
		LogLevel:        LogLevelInfo,
	}
}
