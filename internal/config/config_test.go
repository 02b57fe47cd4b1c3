// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/fetch"
	"github.com/onedr0p/gluctl/internal/issue"
	"github.com/onedr0p/gluctl/internal/testutil"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	testutil.MustWriteFile(t, path, content, 0o644)
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.AppName != "gluctl" {
		t.Errorf("AppName = %q", cfg.AppName)
	}
	if cfg.RuntimeMirror != fetch.DefaultMirror {
		t.Errorf("RuntimeMirror = %q", cfg.RuntimeMirror)
	}
	if cfg.DownloadTimeout != 10*time.Minute {
		t.Errorf("DownloadTimeout = %s, want 10m", cfg.DownloadTimeout)
	}
	if !reflect.DeepEqual(cfg.Installer, []string{"npm", "ci", "--omit", "dev"}) {
		t.Errorf("Installer = %v", cfg.Installer)
	}
	if cfg.LogLevel != LogLevelInfo {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !strings.HasSuffix(cfg.TmpDir, buildDirName) {
		t.Errorf("TmpDir = %q", cfg.TmpDir)
	}
	if ok, errs := cfg.IsValid(); !ok {
		t.Errorf("DefaultConfig().IsValid() = %v", errs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	cfg, path, err := Load(context.Background(), LoadOptions{SourceDir: src})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want none", path)
	}
	if want := filepath.Join(src, "dist"); cfg.DistDir != want {
		t.Errorf("DistDir = %q, want %q", cfg.DistDir, want)
	}
	if want := filepath.Join(src, "node_modules", "caxa", "stubs"); cfg.StubDir != want {
		t.Errorf("StubDir = %q, want %q", cfg.StubDir, want)
	}
}

func TestLoad_SourceDirFile(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	want := writeConfig(t, src, `
app_name: "hello"
runtime_version: "v20.11.0"
download_timeout: "90s"
mirrors: "linux-arm64": "https://arm.example/dist"
exclude: ["**/*.md", "test/**"]
dist_dir: "/abs/out"
installer: []
`)

	cfg, path, err := Load(context.Background(), LoadOptions{SourceDir: src})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if cfg.AppName != "hello" || cfg.RuntimeVersion != "v20.11.0" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DownloadTimeout != 90*time.Second {
		t.Errorf("DownloadTimeout = %s", cfg.DownloadTimeout)
	}
	if cfg.Mirrors["linux-arm64"] != "https://arm.example/dist" {
		t.Errorf("Mirrors = %v", cfg.Mirrors)
	}
	if !reflect.DeepEqual(cfg.Exclude, []string{"**/*.md", "test/**"}) {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
	if cfg.DistDir != "/abs/out" {
		t.Errorf("DistDir = %q, absolute paths must be kept", cfg.DistDir)
	}
	if len(cfg.Installer) != 0 {
		t.Errorf("Installer = %v, want empty", cfg.Installer)
	}
	if cfg.RuntimeMirror != fetch.DefaultMirror {
		t.Errorf("RuntimeMirror = %q, unset fields keep defaults", cfg.RuntimeMirror)
	}
}

func TestLoad_ExplicitFileWins(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeConfig(t, src, `app_name: "from-source"`)
	other := writeConfig(t, t.TempDir(), `app_name: "from-flag"`)

	cfg, path, err := Load(context.Background(), LoadOptions{SourceDir: src, ConfigFilePath: other})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != other || cfg.AppName != "from-flag" {
		t.Errorf("Load() = %q from %q", cfg.AppName, path)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("Load() error = %v, want ActionableError", err)
	}
	if ae.Issue != issue.ConfigLoadFailedId {
		t.Errorf("Issue = %v", ae.Issue)
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	path := writeConfig(t, src, `
log_level: "loud"
installer: ["npm", ""]
`)

	_, _, err := Load(context.Background(), LoadOptions{SourceDir: src})
	if err == nil {
		t.Fatal("Load() error = nil, want schema error")
	}
	msg := err.Error()
	for _, s := range []string{path, "log_level", "installer[1]"} {
		if !strings.Contains(msg, s) {
			t.Errorf("error %q does not mention %q", msg, s)
		}
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeConfig(t, src, `app_name: "unterminated`)

	if _, _, err := Load(context.Background(), LoadOptions{SourceDir: src}); err == nil {
		t.Fatal("Load() error = nil, want syntax error")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeConfig(t, src, "// "+strings.Repeat("x", maxFileSize))

	_, _, err := Load(context.Background(), LoadOptions{SourceDir: src})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Load() error = %v, want ErrFileTooLarge", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{SourceDir: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

//nolint:paralleltest // uses t.Setenv
func TestLoad_EnvOverridesFile(t *testing.T) {
	src := t.TempDir()
	writeConfig(t, src, `
app_name: "from-file"
download_timeout: "1m"
`)
	t.Setenv("GLUCTL_APP_NAME", "from-env")
	t.Setenv("GLUCTL_DOWNLOAD_TIMEOUT", "2m")
	t.Setenv("GLUCTL_LOG_LEVEL", "debug")

	cfg, _, err := Load(context.Background(), LoadOptions{SourceDir: src})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppName != "from-env" {
		t.Errorf("AppName = %q, want from-env", cfg.AppName)
	}
	if cfg.DownloadTimeout != 2*time.Minute {
		t.Errorf("DownloadTimeout = %s, want 2m", cfg.DownloadTimeout)
	}
	if cfg.LogLevel != LogLevelDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

//nolint:paralleltest // uses t.Setenv
func TestLoad_InvalidEnvValues(t *testing.T) {
	t.Setenv("GLUCTL_RUNTIME_VERSION", "20.11")
	t.Setenv("GLUCTL_LOG_LEVEL", "trace")

	_, _, err := Load(context.Background(), LoadOptions{SourceDir: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
	if !errors.Is(err, ErrInvalidRuntimeVersion) {
		t.Errorf("error %v does not wrap ErrInvalidRuntimeVersion", err)
	}
	if !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("error %v does not wrap ErrInvalidLogLevel", err)
	}
}

func TestValidateRuntimeVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		valid   bool
	}{
		{"v20.11.0", true},
		{"v18.0.0", true},
		{"20.11.0", false},
		{"v20.11", false},
		{"v20", false},
		{"v21.0.0-rc.1", false},
		{"", false},
		{"latest", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			err := ValidateRuntimeVersion(tt.version)
			if tt.valid && err != nil {
				t.Errorf("ValidateRuntimeVersion(%q) = %v", tt.version, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidRuntimeVersion) {
				t.Errorf("ValidateRuntimeVersion(%q) = %v, want ErrInvalidRuntimeVersion", tt.version, err)
			}
		})
	}
}

func TestConfigIsValid_UnknownMirrorTarget(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Mirrors = map[string]string{"windows-amd64": "https://example.com"}
	cfg.Exclude = []string{"[unclosed"}
	ok, errs := cfg.IsValid()
	if ok || len(errs) != 2 {
		t.Fatalf("IsValid() = %v, %v; want two errors", ok, errs)
	}
}

func TestProbeRuntimeVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stdout  string
		runErr  error
		want    string
		wantErr bool
	}{
		{name: "trims newline", stdout: "v20.11.0\n", want: "v20.11.0"},
		{name: "garbage output", stdout: "command not found", wantErr: true},
		{name: "runner error", runErr: &command.ExitError{Line: "node --version", ExitCode: command.ExitCodeNotFound}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := command.RunnerFunc(func(_ context.Context, c command.Cmd) (*command.Result, error) {
				if c.Name != "node" || len(c.Args) != 1 || c.Args[0] != "--version" {
					t.Errorf("unexpected command %s", command.Line(c))
				}
				if tt.runErr != nil {
					return nil, tt.runErr
				}
				return &command.Result{Stdout: []byte(tt.stdout)}, nil
			})

			got, err := ProbeRuntimeVersion(context.Background(), r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ProbeRuntimeVersion() = %q, want error", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ProbeRuntimeVersion() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestGenerateCUE_LoadsBack(t *testing.T) {
	t.Parallel()

	want := DefaultConfig()
	want.AppName = "roundtrip"
	want.RuntimeVersion = "v22.1.0"
	want.Mirrors = map[string]string{"darwin-arm64": "https://mac.example/dist"}
	want.Exclude = []string{"docs/**"}
	want.ManifestCommand = []string{"{{caxa}}/node_modules/.bin/node", "{{caxa}}/main.js"}
	want.DistDir = "/out/dist"
	want.StubDir = "/opt/stubs"
	want.DownloadTimeout = 3 * time.Minute

	path := filepath.Join(t.TempDir(), "generated.cue")
	testutil.MustWriteFile(t, path, GenerateCUE(want), 0o644)

	got, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path, SourceDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load(generated) error = %v\n%s", err, GenerateCUE(want))
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load(GenerateCUE(cfg)) = %+v, want %+v", got, want)
	}
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	p := &StaticProvider{Config: DefaultConfig()}
	cfg, _, err := p.Load(context.Background(), LoadOptions{SourceDir: src})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DistDir != filepath.Join(src, "dist") {
		t.Errorf("DistDir = %q", cfg.DistDir)
	}
	if p.Config.DistDir != "dist" {
		t.Error("StaticProvider mutated its Config")
	}
}

func TestResolvePaths(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	abs := filepath.Join(t.TempDir(), "stubs")
	cfg := DefaultConfig()
	cfg.StubDir = abs
	cfg.DistDir = "out"
	cfg.TmpDir = filepath.Join(".cache", "gluctl")

	if err := cfg.ResolvePaths(src); err != nil {
		t.Fatalf("ResolvePaths() error = %v", err)
	}
	if cfg.StubDir != abs {
		t.Errorf("StubDir = %q, absolute paths must be kept", cfg.StubDir)
	}
	if cfg.DistDir != filepath.Join(src, "out") {
		t.Errorf("DistDir = %q", cfg.DistDir)
	}
	if cfg.TmpDir != filepath.Join(src, ".cache", "gluctl") {
		t.Errorf("TmpDir = %q, want it under the source directory", cfg.TmpDir)
	}
}
