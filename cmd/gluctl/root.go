// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/onedr0p/gluctl/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gluctl",
		Short: "Package Node.js applications as self-extracting executables",
		Long: TitleStyle.Render("gluctl") + SubtitleStyle.Render(" - self-extracting executables and cluster snapshots") + `

gluctl bundles an application tree, its production dependencies, and a
pinned runtime into one executable per target platform, and manages
kopia snapshots of the application's persistent volumes.

` + SubtitleStyle.Render("Examples:") + `
  gluctl build                         Build every target
  gluctl build --target linux          Build linux-amd64 and linux-arm64
  gluctl snapshot list --app a --claim data --namespace media
  gluctl config show                   Show the effective configuration`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is gluctl.cue in the source directory)")

	rootCmd.AddCommand(newBuildCommand(app))
	rootCmd.AddCommand(newSnapshotCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors render with their suggestions; verbose mode adds the
// error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// reportError writes err to w and wraps it in an ExitError. In verbose mode
// the linked catalog guidance is rendered below the message.
func reportError(w io.Writer, err error, verbose bool) error {
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))

	var ae *issue.ActionableError
	if verbose && errors.As(err, &ae) && ae.Issue != issue.NoIssue {
		if entry := issue.Get(ae.Issue); entry != nil {
			if rendered, renderErr := entry.Render("dark"); renderErr == nil {
				fmt.Fprint(w, rendered)
			}
		}
	}

	return &ExitError{Code: 1, Err: err}
}
