// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/onedr0p/gluctl/internal/config"
	"github.com/onedr0p/gluctl/internal/issue"
	"github.com/onedr0p/gluctl/internal/snapshot"
)

// snapshotParams bundles the dependencies and flags shared by the snapshot
// subcommands.
type snapshotParams struct {
	stdout  io.Writer
	manager *snapshot.Manager
	target  snapshot.Target
}

func newSnapshotCommand(app *App) *cobra.Command {
	var target snapshot.Target

	snapCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "List or create kopia snapshots of an application's volume",
		Long: `List or create kopia snapshots of an application's persistent volume claim.

Snapshots are listed through the kopia deployment running in the cluster.
New snapshots are taken by running a one-off Job from the claim's
"<app>-<claim>-snapshot" CronJob.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := snapCmd.PersistentFlags()
	flags.StringVar(&target.App, "app", "", "application name (required)")
	flags.StringVar(&target.Claim, "claim", "", "persistent volume claim name (required)")
	flags.StringVarP(&target.Namespace, "namespace", "n", "", "application namespace (required)")
	flags.StringVar(&target.KopiaApp, "kopia-app", snapshot.DefaultKopiaApp, "kopia deployment name")
	flags.StringVar(&target.KopiaNamespace, "kopia-namespace", snapshot.DefaultKopiaNamespace, "kopia namespace")
	_ = snapCmd.MarkPersistentFlagRequired("app")
	_ = snapCmd.MarkPersistentFlagRequired("claim")
	_ = snapCmd.MarkPersistentFlagRequired("namespace")

	run := func(fn func(context.Context, snapshotParams) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			logger := app.newLogger(config.LogLevelInfo)
			p := snapshotParams{
				stdout: cmd.OutOrStdout(),
				manager: snapshot.NewManager(app.runner(logger),
					snapshot.WithClock(app.Now),
					snapshot.WithLogger(logger),
				),
				target: target,
			}
			if err := fn(cmd.Context(), p); err != nil {
				return reportError(cmd.ErrOrStderr(), err, app.verbose)
			}
			return nil
		}
	}

	snapCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots of a claim",
		Args:  cobra.NoArgs,
		RunE:  run(runSnapshotList),
	})
	snapCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Start a snapshot Job for a claim",
		Args:  cobra.NoArgs,
		RunE:  run(runSnapshotCreate),
	})

	return snapCmd
}

func runSnapshotList(ctx context.Context, p snapshotParams) error {
	snaps, err := p.manager.List(ctx, p.target)
	if err != nil {
		return kubectlError("list snapshots", p.target, err)
	}

	if len(snaps) == 0 {
		fmt.Fprintln(p.stdout, SubtitleStyle.Render("No snapshots found for "+p.target.RepositoryPath()))
		return nil
	}

	rows := make([][]any, 0, len(snaps))
	for _, s := range snaps {
		latest := ""
		if s.Latest {
			latest = "✓"
		}
		rows = append(rows, []any{s.ID, s.Created.Local().Format(time.RFC1123), latest})
	}
	renderTable(p.stdout, []string{"Snapshot ID", "Date Created", "Latest"}, rows)
	return nil
}

func runSnapshotCreate(ctx context.Context, p snapshotParams) error {
	job, err := p.manager.Create(ctx, p.target)
	if err != nil {
		return kubectlError("create snapshot", p.target, err)
	}
	fmt.Fprintf(p.stdout, "%s %s\n", SuccessStyle.Render("Created job"), CmdStyle.Render(p.target.Namespace+"/"+job))
	return nil
}

func kubectlError(op string, t snapshot.Target, err error) error {
	return issue.NewErrorContext().
		WithOperation(op).
		WithResource(t.Namespace + "/" + t.App + "/" + t.Claim).
		WithIssue(issue.KubectlFailedId).
		Wrap(err).
		BuildError()
}
