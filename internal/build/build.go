// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/onedr0p/gluctl/internal/archive"
	"github.com/onedr0p/gluctl/internal/fetch"
	"github.com/onedr0p/gluctl/internal/matrix"
	"github.com/onedr0p/gluctl/internal/sfx"
	"github.com/onedr0p/gluctl/internal/stage"
)

var (
	// ErrTargetsFailed is returned by Run when at least one target failed.
	// The accompanying Report lists which ones.
	ErrTargetsFailed = errors.New("one or more targets failed")

	// ErrNoTargets is returned when Run is given no entries.
	ErrNoTargets = errors.New("no build targets selected")
)

type (
	// Context is the read-only configuration shared by every target build of
	// one invocation.
	Context struct {
		Name           string   // application name; prefixes outputs and manifest identifiers
		SourceDir      string   // application source tree
		WorkDir        string   // scratch space: staging tree, runtime cache, per-target archives
		DistDir        string   // output directory for executables and checksums.txt
		StubDir        string   // directory holding launcher stubs
		RuntimeVersion string   // e.g. "v20.11.0"
		Command        []string // manifest command; empty uses the default
	}

	// Stager produces the shared staging tree.
	Stager interface {
		Stage(ctx context.Context) (string, error)
	}

	// RuntimeFetcher returns the path of the runtime executable for a target.
	RuntimeFetcher interface {
		Fetch(ctx context.Context, e matrix.Entry, version string) (string, error)
	}

	// ArchiveBuilder packs the staging tree and a runtime into a target archive.
	ArchiveBuilder interface {
		Build(ctx context.Context, stagingDir, runtimePath string, e matrix.Entry) (string, error)
	}

	// TargetError records which step of which target failed.
	TargetError struct {
		Platform matrix.Platform
		Arch     matrix.Arch
		Step     Step
		Err      error
	}

	// Result is the outcome of one target build.
	Result struct {
		Entry    matrix.Entry
		Artifact *sfx.Artifact // nil when Err is set
		Err      error
		Duration time.Duration
	}

	// Report collects the results of a Run in matrix order.
	Report struct {
		Results    []Result
		LedgerPath string
	}

	// checksumLedger is the run-wide checksum sink; *sfx.Ledger implements it.
	checksumLedger interface {
		sfx.ChecksumRecorder
		Path() string
		Close() error
	}

	// Orchestrator drives the per-target pipeline for every selected entry.
	Orchestrator struct {
		bc         Context
		stager     Stager
		fetcher    RuntimeFetcher
		archiver   ArchiveBuilder
		openLedger func(distDir string) (checksumLedger, error)
		now        func() time.Time
		logger     *log.Logger
	}

	// Option configures an Orchestrator during construction.
	Option func(*Orchestrator)
)

// Error implements the error interface.
func (e *TargetError) Error() string {
	return fmt.Sprintf("%s-%s: %s: %v", e.Platform, e.Arch, e.Step, e.Err)
}

// Unwrap returns the underlying step error.
func (e *TargetError) Unwrap() error { return e.Err }

// WithStager overrides the staging step.
func WithStager(s Stager) Option {
	return func(o *Orchestrator) {
		o.stager = s
	}
}

// WithFetcher overrides the runtime fetcher.
func WithFetcher(f RuntimeFetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithArchiveBuilder overrides the archive builder.
func WithArchiveBuilder(b ArchiveBuilder) Option {
	return func(o *Orchestrator) {
		o.archiver = b
	}
}

// WithClock sets the time source for manifest identifiers and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger. Per-target messages carry a "target" key.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator for bc. Components not supplied through
// options are built from bc with their defaults.
func New(bc Context, opts ...Option) *Orchestrator {
	o := &Orchestrator{bc: bc, now: time.Now, openLedger: openFileLedger}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	if o.stager == nil {
		o.stager = stage.New(bc.SourceDir, bc.WorkDir, stage.WithLogger(o.logger))
	}
	if o.fetcher == nil {
		o.fetcher = fetch.New(bc.WorkDir, fetch.WithLogger(o.logger))
	}
	if o.archiver == nil {
		o.archiver = archive.New(bc.WorkDir, archive.WithLogger(o.logger))
	}
	return o
}

// Run stages the application once, then builds every entry concurrently.
// A staging failure aborts the run before any target starts. Target failures
// are isolated: siblings run to completion, and once all have finished Run
// returns the Report together with ErrTargetsFailed if any target failed.
// The Report is returned whenever targets ran, even if closing the ledger
// fails.
func (o *Orchestrator) Run(ctx context.Context, entries []matrix.Entry) (*Report, error) {
	if len(entries) == 0 {
		return nil, ErrNoTargets
	}
	for _, e := range entries {
		if ok, errs := e.IsValid(); !ok {
			return nil, errors.Join(errs...)
		}
	}

	stagingDir, err := o.stager.Stage(ctx)
	if err != nil {
		return nil, fmt.Errorf("staging application: %w", err)
	}

	ledger, err := o.openLedger(o.bc.DistDir)
	if err != nil {
		return nil, err
	}

	assembler := sfx.NewAssembler(o.bc.Name, o.bc.DistDir, ledger,
		sfx.WithCommand(o.bc.Command),
		sfx.WithClock(o.now),
		sfx.WithLogger(o.logger),
	)

	o.logger.Info("building targets", "targets", matrix.Keys(entries), "runtime", o.bc.RuntimeVersion)

	// Each goroutine owns results[i]; none returns an error so that one
	// failing target never cancels its siblings.
	results := make([]Result, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			results[i] = o.buildTarget(ctx, stagingDir, assembler, e)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Results: results, LedgerPath: ledger.Path()}
	var errs []error
	if failed := report.Failed(); len(failed) > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d", ErrTargetsFailed, len(failed), len(results)))
	}
	if err := ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing checksum ledger: %w", err))
	}
	return report, errors.Join(errs...)
}

func openFileLedger(distDir string) (checksumLedger, error) {
	l, err := sfx.OpenLedger(distDir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// buildTarget runs every step for e and reports the outcome as a Result.
func (o *Orchestrator) buildTarget(ctx context.Context, stagingDir string, assembler *sfx.Assembler, e matrix.Entry) Result {
	logger := o.logger.With("target", e.Key())
	start := o.now()

	fail := func(step Step, err error) Result {
		logger.Error("target failed", "step", step, "err", err)
		return Result{
			Entry:    e,
			Err:      &TargetError{Platform: e.Platform, Arch: e.Arch, Step: step, Err: err},
			Duration: o.now().Sub(start),
		}
	}

	logger.Debug("fetching runtime")
	runtimePath, err := o.fetcher.Fetch(ctx, e, o.bc.RuntimeVersion)
	if err != nil {
		return fail(StepFetchRuntime, err)
	}

	stubPath, err := sfx.LocateStub(o.bc.StubDir, e)
	if err != nil {
		return fail(StepLocateStub, err)
	}

	logger.Debug("building archive")
	archivePath, err := o.archiver.Build(ctx, stagingDir, runtimePath, e)
	if err != nil {
		return fail(StepBuildArchive, err)
	}
	defer func() { _ = os.Remove(archivePath) }()

	art, err := assembler.Assemble(ctx, stubPath, archivePath, e)
	if err != nil {
		return fail(StepAssemble, err)
	}

	logger.Info("built executable", "path", art.ExecutablePath, "sha256", art.Checksum)
	return Result{Entry: e, Artifact: art, Duration: o.now().Sub(start)}
}

// Failed returns the results that carry an error, in matrix order.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded returns the results that produced an artifact, in matrix order.
func (r *Report) Succeeded() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res)
		}
	}
	return out
}
