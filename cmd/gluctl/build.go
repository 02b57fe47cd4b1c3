// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/onedr0p/gluctl/internal/archive"
	"github.com/onedr0p/gluctl/internal/build"
	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/config"
	"github.com/onedr0p/gluctl/internal/fetch"
	"github.com/onedr0p/gluctl/internal/issue"
	"github.com/onedr0p/gluctl/internal/matrix"
	"github.com/onedr0p/gluctl/internal/sfx"
	"github.com/onedr0p/gluctl/internal/stage"
)

// buildParams bundles the dependencies and flags for the build command so
// runBuild can be tested without a Cobra command.
type buildParams struct {
	stdout     io.Writer
	logger     *log.Logger
	cfg        *config.Config
	sourceDir  string
	targets    []string
	table      []matrix.Entry
	runner     command.Runner
	httpClient *http.Client
	now        func() time.Time
}

func newBuildCommand(app *App) *cobra.Command {
	var (
		targets     []string
		nodeVersion string
		sourceDir   string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build self-extracting executables for every selected target",
		Long: `Build self-extracting executables for every selected target.

The source tree is copied once, without development files, and its
production dependencies are installed. Each target then gets the matching
runtime, a launcher stub, and an archive of the staged tree, assembled into
<dist_dir>/<app_name>-<platform>-<arch>. SHA-256 checksums of the results
are appended to <dist_dir>/checksums.txt.

Targets are selected by key prefix, so "linux" selects linux-amd64 and
linux-arm64 while "linux-amd64" selects only that target.`,
		Example: `  # Build every target with the node version on PATH
  gluctl build

  # Build only linux targets with a pinned runtime
  gluctl build --target linux --node-version v20.11.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			ctx := cmd.Context()
			stderr := cmd.ErrOrStderr()

			cfg, _, err := app.Config.Load(ctx, config.LoadOptions{
				ConfigFilePath: app.configPath,
				SourceDir:      sourceDir,
			})
			if err != nil {
				return reportError(stderr, err, app.verbose)
			}
			logger := app.newLogger(cfg.LogLevel)
			runner := app.runner(logger)

			if nodeVersion != "" {
				if err := config.ValidateRuntimeVersion(nodeVersion); err != nil {
					return reportError(stderr, err, app.verbose)
				}
				cfg.RuntimeVersion = nodeVersion
			}
			if cfg.RuntimeVersion == "" {
				v, err := config.ProbeRuntimeVersion(ctx, runner)
				if err != nil {
					return reportError(stderr, err, app.verbose)
				}
				logger.Debug("using runtime version from PATH", "version", v)
				cfg.RuntimeVersion = v
			}

			p := buildParams{
				stdout:     cmd.OutOrStdout(),
				logger:     logger,
				cfg:        cfg,
				sourceDir:  sourceDir,
				targets:    targets,
				table:      app.Table,
				runner:     runner,
				httpClient: app.HTTPClient,
				now:        app.Now,
			}
			if err := runBuild(ctx, p); err != nil {
				return reportError(stderr, err, app.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&targets, "target", "t", nil, `target key or prefix, e.g. "linux" or "linux-amd64" (repeatable; default all)`)
	cmd.Flags().StringVar(&nodeVersion, "node-version", "", `runtime version "v#.#.#" (default: runtime_version, then node on PATH)`)
	cmd.Flags().StringVar(&sourceDir, "source", ".", "application source directory")

	return cmd
}

// runBuild resolves the target selection, wires the pipeline components from
// p.cfg, runs the build, and prints a summary of the results.
func runBuild(ctx context.Context, p buildParams) error {
	entries := matrix.Resolve(p.table, p.targets)
	if len(entries) == 0 {
		return issue.NewErrorContext().
			WithOperation("select build targets").
			WithResource(strings.Join(p.targets, ", ")).
			WithSuggestion("Available targets: " + strings.Join(matrix.Keys(p.table), ", ")).
			Wrap(build.ErrNoTargets).
			BuildError()
	}

	sourceDir, err := filepath.Abs(p.sourceDir)
	if err != nil {
		return fmt.Errorf("resolving source directory: %w", err)
	}
	cfg := p.cfg

	fetchOpts := []fetch.Option{
		fetch.WithMirror(cfg.RuntimeMirror),
		fetch.WithTargetMirrors(cfg.Mirrors),
		fetch.WithTimeout(cfg.DownloadTimeout),
		fetch.WithUserAgent("gluctl/" + Version),
		fetch.WithLogger(p.logger),
	}
	if p.httpClient != nil {
		fetchOpts = append(fetchOpts, fetch.WithHTTPClient(p.httpClient))
	}

	bc := build.Context{
		Name:           cfg.AppName,
		SourceDir:      sourceDir,
		WorkDir:        cfg.TmpDir,
		DistDir:        cfg.DistDir,
		StubDir:        cfg.StubDir,
		RuntimeVersion: cfg.RuntimeVersion,
		Command:        cfg.ManifestCommand,
	}
	orch := build.New(bc,
		build.WithStager(stage.New(sourceDir, cfg.TmpDir,
			stage.WithInstaller(cfg.Installer),
			stage.WithExcludePatterns(cfg.Exclude...),
			stage.WithExcludeDirs(cfg.DistDir),
			stage.WithRunner(p.runner),
			stage.WithLogger(p.logger),
		)),
		build.WithFetcher(fetch.New(cfg.TmpDir, fetchOpts...)),
		build.WithArchiveBuilder(archive.New(cfg.TmpDir, archive.WithLogger(p.logger))),
		build.WithClock(p.now),
		build.WithLogger(p.logger),
	)

	report, err := orch.Run(ctx, entries)
	if report != nil {
		renderBuildSummary(p.stdout, report)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, build.ErrTargetsFailed):
		return issue.NewErrorContext().
			WithOperation("build targets").
			WithSuggestion("Re-run with --verbose to see each failed step").
			WithIssue(targetFailureIssue(report)).
			Wrap(err).
			BuildError()
	case errors.Is(err, stage.ErrInstall):
		return issue.NewErrorContext().
			WithOperation("stage application").
			WithResource(sourceDir).
			WithSuggestion("Run the installer in the source directory to see its full output").
			WithIssue(issue.InstallFailedId).
			Wrap(err).
			BuildError()
	default:
		return err
	}
}

// targetFailureIssue picks the most specific catalog entry for the failures
// in report.
func targetFailureIssue(report *build.Report) issue.Id {
	if report == nil {
		return issue.TargetsFailedId
	}
	for _, res := range report.Failed() {
		switch {
		case errors.Is(res.Err, sfx.ErrStubNotFound):
			return issue.StubNotFoundId
		case errors.Is(res.Err, fetch.ErrUnexpectedStatus):
			return issue.RuntimeDownloadFailedId
		}
	}
	return issue.TargetsFailedId
}

// renderBuildSummary prints one row per target followed by the checksum
// ledger location and per-target failure details.
func renderBuildSummary(w io.Writer, report *build.Report) {
	rows := make([][]any, 0, len(report.Results))
	for _, res := range report.Results {
		if res.Err != nil {
			step := "failed"
			var te *build.TargetError
			if errors.As(res.Err, &te) {
				step = "failed: " + te.Step.String()
			}
			rows = append(rows, []any{res.Entry.Key(), "-", "-", "-", step})
			continue
		}
		a := res.Artifact
		rows = append(rows, []any{
			res.Entry.Key(),
			filepath.Base(a.ExecutablePath),
			formatSize(a.Size),
			shortHash(a.Checksum),
			"ok",
		})
	}

	fmt.Fprintln(w)
	renderTable(w, []string{"Target", "File", "Size", "SHA256", "Status"}, rows)
	fmt.Fprintln(w)

	failed := report.Failed()
	summary := fmt.Sprintf("Built %d of %d targets", len(report.Results)-len(failed), len(report.Results))
	if len(failed) == 0 {
		fmt.Fprintln(w, SuccessStyle.Render(summary))
	} else {
		fmt.Fprintln(w, WarningStyle.Render(summary))
		for _, res := range failed {
			fmt.Fprintf(w, "  %s %s\n", ErrorStyle.Render(res.Entry.Key()+":"), res.Err)
		}
	}
	if report.LedgerPath != "" {
		fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Checksums:"), CmdStyle.Render(report.LedgerPath))
	}
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
