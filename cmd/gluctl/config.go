// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/onedr0p/gluctl/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	var sourceDir string

	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect gluctl configuration",
		Long: `Inspect gluctl configuration.

Configuration is read from gluctl.cue in the source directory, or from the
file given with --config, and GLUCTL_* environment variables override it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cfgCmd.PersistentFlags().StringVar(&sourceDir, "source", ".", "application source directory")

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			opts := config.LoadOptions{ConfigFilePath: app.configPath, SourceDir: sourceDir}
			if err := showConfig(cmd.Context(), app.Config, opts, cmd.OutOrStdout()); err != nil {
				return reportError(cmd.ErrOrStderr(), err, app.verbose)
			}
			return nil
		},
	})

	return cfgCmd
}

// showConfig prints where the configuration came from followed by the
// resolved values.
func showConfig(ctx context.Context, p config.Provider, opts config.LoadOptions, w io.Writer) error {
	cfg, path, err := p.Load(ctx, opts)
	if err != nil {
		return err
	}

	source := "built-in defaults"
	if path != "" {
		source = path
	}
	fmt.Fprintf(w, "// %s %s\n", SubtitleStyle.Render("source:"), CmdStyle.Render(source))
	fmt.Fprint(w, config.GenerateCUE(cfg))
	return nil
}
