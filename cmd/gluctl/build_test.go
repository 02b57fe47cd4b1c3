// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/config"
	"github.com/onedr0p/gluctl/internal/fetch"
	"github.com/onedr0p/gluctl/internal/matrix"
	"github.com/onedr0p/gluctl/internal/sfx"
	"github.com/onedr0p/gluctl/internal/stage"
	"github.com/onedr0p/gluctl/internal/testutil"
)

const testNodeVersion = "v20.11.0"

type buildFixture struct {
	cfg    *config.Config
	source string
	mirror *httptest.Server

	mu       sync.Mutex
	requests []string
	commands []string
}

// newBuildFixture lays out a source tree and stub directory and starts a
// mirror serving runtimes for every default target except those in missing.
func newBuildFixture(t *testing.T, missing ...string) *buildFixture {
	t.Helper()

	root := t.TempDir()
	f := &buildFixture{source: filepath.Join(root, "src")}

	stubDir := filepath.Join(root, "stubs")
	testutil.MustMkdirAll(t, filepath.Join(f.source, ".git"), 0o755)
	testutil.MustMkdirAll(t, stubDir, 0o755)
	testutil.MustWriteFile(t, filepath.Join(f.source, "index.mjs"), "console.log('hi')\n", 0o644)
	testutil.MustWriteFile(t, filepath.Join(f.source, "package.json"), `{"name":"app"}`, 0o644)
	testutil.MustWriteFile(t, filepath.Join(f.source, ".git", "HEAD"), "ref: refs/heads/main\n", 0o644)

	archives := make(map[string][]byte)
	for _, e := range matrix.DefaultTable() {
		testutil.MustWriteFile(t, sfx.StubPath(stubDir, e), "stub-"+e.Key(), 0o755)
		if slices.Contains(missing, e.Key()) {
			continue
		}
		name := fetch.ArchiveName(e, testNodeVersion)
		file := testutil.TarFile{Name: fetch.RuntimeEntryName(name), Content: []byte("node-" + e.Key()), Mode: 0o755}
		if e.RuntimeArchiveExt == matrix.ExtTarXz {
			archives["/"+testNodeVersion+"/"+name] = testutil.MustTarXz(t, file)
		} else {
			archives["/"+testNodeVersion+"/"+name] = testutil.MustTarGz(t, file)
		}
	}

	f.mirror = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.mu.Unlock()
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(f.mirror.Close)

	f.cfg = config.DefaultConfig()
	f.cfg.RuntimeMirror = f.mirror.URL
	f.cfg.TmpDir = filepath.Join(root, "work")
	f.cfg.DistDir = filepath.Join(root, "dist")
	f.cfg.StubDir = stubDir

	return f
}

// runner answers `node --version` and accepts any installer invocation.
func (f *buildFixture) runner() command.Runner {
	return command.RunnerFunc(func(_ context.Context, c command.Cmd) (*command.Result, error) {
		f.mu.Lock()
		f.commands = append(f.commands, command.Line(c))
		f.mu.Unlock()
		if c.Name == "node" {
			return &command.Result{Stdout: []byte(testNodeVersion + "\n")}, nil
		}
		return &command.Result{}, nil
	})
}

func (f *buildFixture) app(stdout, stderr *bytes.Buffer) *App {
	return NewApp(Dependencies{
		Config:     &config.StaticProvider{Config: f.cfg},
		Runner:     f.runner(),
		HTTPClient: f.mirror.Client(),
		Now:        testutil.NewFakeClock(time.UnixMilli(1700000000000)).Now,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func execute(app *App, args ...string) error {
	root := newRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestBuildCommand_SelectsTargetsByPrefix(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t)
	var stdout, stderr bytes.Buffer

	if err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "--target", "linux"); err != nil {
		t.Fatalf("build error = %v\nstderr:\n%s", err, stderr.String())
	}

	for _, key := range []string{"linux-amd64", "linux-arm64"} {
		if _, err := os.Stat(filepath.Join(f.cfg.DistDir, "gluctl-"+key)); err != nil {
			t.Errorf("missing executable for %s: %v", key, err)
		}
	}
	for _, key := range []string{"darwin-amd64", "darwin-arm64"} {
		if _, err := os.Stat(filepath.Join(f.cfg.DistDir, "gluctl-"+key)); !os.IsNotExist(err) {
			t.Errorf("unselected target %s was built", key)
		}
	}
	for _, path := range f.requests {
		if strings.Contains(path, "darwin") {
			t.Errorf("mirror was asked for %s", path)
		}
	}

	if !slices.Contains(f.commands, "node --version") {
		t.Errorf("runtime version was not probed; commands = %v", f.commands)
	}
	if !slices.Contains(f.commands, "npm ci --omit dev") {
		t.Errorf("installer did not run; commands = %v", f.commands)
	}

	out := stdout.String()
	if !strings.Contains(out, "Built 2 of 2 targets") {
		t.Errorf("summary missing from output:\n%s", out)
	}
	if !strings.Contains(out, sfx.LedgerFileName) {
		t.Errorf("ledger path missing from output:\n%s", out)
	}

	entries, err := sfx.ParseChecksums(bytes.NewReader(testutil.MustReadFile(t, filepath.Join(f.cfg.DistDir, sfx.LedgerFileName))))
	if err != nil {
		t.Fatalf("ParseChecksums() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ledger has %d entries, want 2", len(entries))
	}
}

func TestBuildCommand_NodeVersionFlagSkipsProbe(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t)
	var stdout, stderr bytes.Buffer

	err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "-t", "darwin-arm64", "--node-version", testNodeVersion)
	if err != nil {
		t.Fatalf("build error = %v\nstderr:\n%s", err, stderr.String())
	}
	if slices.Contains(f.commands, "node --version") {
		t.Error("runtime version was probed despite --node-version")
	}
	if _, err := os.Stat(filepath.Join(f.cfg.DistDir, "gluctl-darwin-arm64")); err != nil {
		t.Errorf("missing executable: %v", err)
	}
}

func TestBuildCommand_PartialFailureExitsOne(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t, "linux-arm64")
	var stdout, stderr bytes.Buffer

	err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "--target", "linux")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("build error = %v, want ExitError code 1", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.DistDir, "gluctl-linux-amd64")); err != nil {
		t.Errorf("sibling target was not built: %v", err)
	}
	if !strings.Contains(stdout.String(), "failed: fetch-runtime") {
		t.Errorf("summary does not name the failed step:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "failed to build targets") {
		t.Errorf("stderr missing error:\n%s", stderr.String())
	}
}

func TestBuildCommand_UnknownTarget(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t)
	var stdout, stderr bytes.Buffer

	err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "--target", "windows", "--node-version", testNodeVersion)
	if err == nil {
		t.Fatal("build error = nil, want no-targets error")
	}
	if !strings.Contains(stderr.String(), "Available targets: linux-amd64") {
		t.Errorf("stderr does not list targets:\n%s", stderr.String())
	}
	if len(f.requests) != 0 {
		t.Errorf("mirror received %d requests", len(f.requests))
	}
}

func TestBuildCommand_InvalidNodeVersion(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t)
	var stdout, stderr bytes.Buffer

	err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "--node-version", "20.11.0")
	if !errors.Is(err, config.ErrInvalidRuntimeVersion) {
		t.Fatalf("build error = %v, want ErrInvalidRuntimeVersion", err)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{45 << 20, "45.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.n); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestBuildCommand_OutputDirsInsideSourceAreNotStaged(t *testing.T) {
	t.Parallel()

	f := newBuildFixture(t)
	f.cfg.DistDir = filepath.Join(f.source, "out")
	f.cfg.TmpDir = filepath.Join(f.source, ".gluctl")
	testutil.MustMkdirAll(t, f.cfg.DistDir, 0o755)
	testutil.MustWriteFile(t, filepath.Join(f.cfg.DistDir, "gluctl-linux-amd64"), "previous build", 0o755)

	var stdout, stderr bytes.Buffer
	if err := execute(f.app(&stdout, &stderr), "build", "--source", f.source, "-t", "linux-amd64", "--node-version", testNodeVersion); err != nil {
		t.Fatalf("build error = %v\nstderr:\n%s", err, stderr.String())
	}

	staged := filepath.Join(f.cfg.TmpDir, stage.DirName)
	if _, err := os.Stat(filepath.Join(staged, "index.mjs")); err != nil {
		t.Fatalf("staging tree missing application files: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staged, "out")); !os.IsNotExist(err) {
		t.Error("previous build output was copied into the staging tree")
	}
	if _, err := os.Stat(filepath.Join(staged, ".gluctl")); !os.IsNotExist(err) {
		t.Error("work directory was copied into itself")
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(f.cfg.DistDir, "gluctl-linux-amd64"))); got == "previous build" {
		t.Error("executable was not rebuilt")
	}
}
