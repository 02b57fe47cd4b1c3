// SPDX-License-Identifier: MPL-2.0

// Package snapshot lists and triggers volume snapshots of an application's
// persistent claim. Listing asks the kopia deployment running in the cluster;
// creating instantiates a one-off Job from the claim's snapshot CronJob.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/onedr0p/gluctl/internal/command"
)

const (
	// DefaultKopiaApp is the deployment running the kopia CLI.
	DefaultKopiaApp = "kopia"
	// DefaultKopiaNamespace is the namespace of the kopia deployment.
	DefaultKopiaNamespace = "default"

	// latestReason marks the most recent snapshot in kopia's retention output.
	latestReason = "latest-1"
)

// ErrInvalidTarget is returned when a Target lacks a required field.
var ErrInvalidTarget = errors.New("invalid snapshot target")

type (
	// Target identifies the claim whose snapshots are managed.
	Target struct {
		App            string
		Claim          string
		Namespace      string
		KopiaApp       string
		KopiaNamespace string
	}

	// Snapshot is one entry of the snapshot list.
	Snapshot struct {
		ID      string
		Created time.Time
		Latest  bool
	}

	// kopiaSnapshot is the JSON wire format of `kopia snapshot list --json`.
	kopiaSnapshot struct {
		ID              string    `json:"id"`
		StartTime       time.Time `json:"startTime"`
		RetentionReason []string  `json:"retentionReason"`
	}

	// Manager runs kubectl through a command.Runner.
	Manager struct {
		runner  command.Runner
		kubectl string
		now     func() time.Time
		logger  *log.Logger
	}

	// Option configures a Manager during construction.
	Option func(*Manager)
)

// WithKubectl overrides the kubectl binary name or path.
func WithKubectl(path string) Option {
	return func(m *Manager) {
		m.kubectl = path
	}
}

// WithClock sets the time source used to name snapshot jobs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager running commands through r.
func NewManager(r command.Runner, opts ...Option) *Manager {
	m := &Manager{runner: r, kubectl: "kubectl", now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard)
	}
	return m
}

// IsValid returns whether the target names an app, claim, and namespace, and
// a list of validation errors if it does not.
func (t Target) IsValid() (bool, []error) {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"app", t.App},
		{"claim", t.Claim},
		{"namespace", t.Namespace},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalidTarget, f.name))
		}
	}
	return len(errs) == 0, errs
}

// RepositoryPath returns the path kopia stores the claim's snapshots under.
func (t Target) RepositoryPath() string {
	return "/data/" + t.Namespace + "/" + t.App + "/" + t.Claim
}

// CronJobName returns the name of the claim's snapshot CronJob.
func (t Target) CronJobName() string {
	return t.App + "-" + t.Claim + "-snapshot"
}

func (t Target) withDefaults() Target {
	if t.KopiaApp == "" {
		t.KopiaApp = DefaultKopiaApp
	}
	if t.KopiaNamespace == "" {
		t.KopiaNamespace = DefaultKopiaNamespace
	}
	return t
}

// List returns the snapshots kopia holds for t, in the order kopia reports them.
func (m *Manager) List(ctx context.Context, t Target) ([]Snapshot, error) {
	if ok, errs := t.IsValid(); !ok {
		return nil, errors.Join(errs...)
	}
	t = t.withDefaults()

	res, err := m.runner.Run(ctx, command.Cmd{
		Name: m.kubectl,
		Args: []string{
			"-n", t.KopiaNamespace,
			"exec", "deployment/" + t.KopiaApp,
			"--", "kopia", "snapshot", "list", t.RepositoryPath(), "--json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	return parseSnapshots(res.Stdout)
}

// Create starts a one-off snapshot Job from the claim's CronJob and returns
// the Job name. The Job is rendered client-side, stripped of init containers,
// and applied.
func (m *Manager) Create(ctx context.Context, t Target) (string, error) {
	if ok, errs := t.IsValid(); !ok {
		return "", errors.Join(errs...)
	}

	jobName := fmt.Sprintf("%s-%d", t.CronJobName(), m.now().UnixMilli())
	res, err := m.runner.Run(ctx, command.Cmd{
		Name: m.kubectl,
		Args: []string{
			"-n", t.Namespace,
			"create", "job",
			"--from=cronjob/" + t.CronJobName(), jobName,
			"--dry-run=client", "--output", "json",
		},
	})
	if err != nil {
		return "", fmt.Errorf("rendering job %s: %w", jobName, err)
	}

	manifest, err := stripInitContainers(res.Stdout)
	if err != nil {
		return "", fmt.Errorf("rendering job %s: %w", jobName, err)
	}

	m.logger.Debug("applying snapshot job", "job", jobName, "namespace", t.Namespace)
	if _, err := m.runner.Run(ctx, command.Cmd{
		Name:  m.kubectl,
		Args:  []string{"apply", "-f", "-"},
		Stdin: bytes.NewReader(manifest),
	}); err != nil {
		return "", fmt.Errorf("applying job %s: %w", jobName, err)
	}

	return jobName, nil
}

func parseSnapshots(data []byte) ([]Snapshot, error) {
	var raw []kopiaSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding kopia output: %w", err)
	}

	out := make([]Snapshot, len(raw))
	for i, s := range raw {
		out[i] = Snapshot{
			ID:      s.ID,
			Created: s.StartTime,
			Latest:  slices.Contains(s.RetentionReason, latestReason),
		}
	}
	return out, nil
}

// stripInitContainers removes spec.template.spec.initContainers from a Job
// rendered as JSON and returns the result as YAML.
func stripInitContainers(jobJSON []byte) ([]byte, error) {
	var job map[string]any
	if err := json.Unmarshal(jobJSON, &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}

	if podSpec, ok := lookupMap(job, "spec", "template", "spec"); ok {
		delete(podSpec, "initContainers")
	}

	out, err := yaml.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	return out, nil
}

func lookupMap(m map[string]any, path ...string) (map[string]any, bool) {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
