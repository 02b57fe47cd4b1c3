// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/issue"
)

const (
	// FileName is the configuration file looked up in the source directory.
	FileName = "gluctl.cue"
	// EnvPrefix prefixes environment overrides, e.g. GLUCTL_DIST_DIR.
	EnvPrefix = "GLUCTL"

	maxFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ErrFileTooLarge is returned when the configuration file exceeds the size limit.
var ErrFileTooLarge = errors.New("config file too large")

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file. It must exist.
	ConfigFilePath string
	// SourceDir is searched for FileName when ConfigFilePath is empty, and
	// anchors relative stub_dir and dist_dir values. Defaults to ".".
	SourceDir string
}

// Load resolves the configuration from defaults, the CUE file, and
// GLUCTL_* environment variables, in increasing precedence. It returns the
// configuration and the path of the file that was read, or "" if none was.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	resolvedPath := ""
	switch {
	case opts.ConfigFilePath != "":
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'gluctl config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	case fileExists(filepath.Join(opts.SourceDir, FileName)):
		resolvedPath = filepath.Join(opts.SourceDir, FileName)
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if ok, errs := cfg.IsValid(); !ok {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(describeSource(resolvedPath)).
			WithSuggestion("Check GLUCTL_* environment variables as well as the config file").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(&InvalidConfigError{FieldErrors: errs}).
			BuildError()
	}

	if err := cfg.ResolvePaths(opts.SourceDir); err != nil {
		return nil, "", err
	}

	return &cfg, resolvedPath, nil
}

// ProbeRuntimeVersion asks the node binary on PATH for its version.
func ProbeRuntimeVersion(ctx context.Context, r command.Runner) (string, error) {
	res, err := r.Run(ctx, command.Cmd{Name: "node", Args: []string{"--version"}})
	if err != nil {
		return "", issue.NewErrorContext().
			WithOperation("detect runtime version").
			WithSuggestion("Install node, or pass --node-version vX.Y.Z").
			WithSuggestion("Or set runtime_version in " + FileName).
			Wrap(err).
			BuildError()
	}

	version := strings.TrimSpace(string(res.Stdout))
	if err := ValidateRuntimeVersion(version); err != nil {
		return "", fmt.Errorf("node --version: %w", err)
	}
	return version, nil
}

// setDefaults registers every key with viper. AutomaticEnv only resolves
// keys viper already knows about.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("runtime_version", d.RuntimeVersion)
	v.SetDefault("runtime_mirror", d.RuntimeMirror)
	v.SetDefault("mirrors", d.Mirrors)
	v.SetDefault("stub_dir", d.StubDir)
	v.SetDefault("dist_dir", d.DistDir)
	v.SetDefault("tmp_dir", d.TmpDir)
	v.SetDefault("download_timeout", d.DownloadTimeout)
	v.SetDefault("installer", d.Installer)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("manifest_command", d.ManifestCommand)
	v.SetDefault("log_level", string(d.LogLevel))
}

// loadCUEIntoViper validates the file at path against #Config and merges
// its values into v. Fields are optional, so validation is non-concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, len(data), maxFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func describeSource(path string) string {
	if path == "" {
		return "defaults and environment"
	}
	return path
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
