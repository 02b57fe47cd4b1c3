// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onedr0p/gluctl/internal/command"
	"github.com/onedr0p/gluctl/internal/config"
	"github.com/onedr0p/gluctl/internal/matrix"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and reads its collaborators from it.
	App struct {
		Config     config.Provider
		Runner     command.Runner
		HTTPClient *http.Client
		Table      []matrix.Entry
		Now        func() time.Time
		stdout     io.Writer
		stderr     io.Writer

		// persistent flags
		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		Runner     command.Runner
		HTTPClient *http.Client
		Table      []matrix.Entry
		Now        func() time.Time
		Stdout     io.Writer
		Stderr     io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Table == nil {
		deps.Table = matrix.DefaultTable()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &App{
		Config:     deps.Config,
		Runner:     deps.Runner,
		HTTPClient: deps.HTTPClient,
		Table:      deps.Table,
		Now:        deps.Now,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
}

// newLogger builds the process logger. --verbose forces debug level;
// otherwise the configured level applies.
func (a *App) newLogger(level config.LogLevel) *log.Logger {
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix:          "gluctl",
		ReportTimestamp: true,
	})

	lvl, err := log.ParseLevel(level.String())
	if err != nil {
		lvl = log.InfoLevel
	}
	if a.verbose {
		lvl = log.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// runner returns the injected runner, or an exec-backed one logging to logger.
func (a *App) runner(logger *log.Logger) command.Runner {
	if a.Runner != nil {
		return a.Runner
	}
	return command.NewExecRunner(logger)
}
