// SPDX-License-Identifier: MPL-2.0

// Package command runs external programs (the package installer, the runtime
// version probe, kubectl) behind a small interface so callers can be tested
// with scripted results.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"
)

// ExitCodeNotFound is reported when the program could not be started at all.
const ExitCodeNotFound = 127

// maxStderrTail bounds how much stderr is carried inside an ExitError message.
const maxStderrTail = 2 << 10

// ErrCommandFailed is the sentinel wrapped by ExitError.
var ErrCommandFailed = errors.New("command failed")

type (
	// Cmd describes one program invocation.
	Cmd struct {
		Name  string
		Args  []string
		Dir   string    // working directory; empty means the current directory
		Env   []string  // extra KEY=VALUE pairs appended to the inherited environment
		Stdin io.Reader // optional
	}

	// Result holds the captured output of a finished program.
	Result struct {
		Stdout   []byte
		Stderr   []byte
		ExitCode int
	}

	// Runner executes a Cmd. Implementations must honor ctx cancellation.
	Runner interface {
		Run(ctx context.Context, c Cmd) (*Result, error)
	}

	// RunnerFunc adapts a function to the Runner interface.
	RunnerFunc func(ctx context.Context, c Cmd) (*Result, error)

	// ExecRunner runs programs on the local host with os/exec.
	ExecRunner struct {
		logger *log.Logger
	}

	// ExitError is returned when a program exits non-zero or cannot be started.
	// It wraps ErrCommandFailed for errors.Is() compatibility.
	ExitError struct {
		Line     string
		ExitCode int
		Stderr   string
		Err      error
	}
)

// Run calls f(ctx, c).
func (f RunnerFunc) Run(ctx context.Context, c Cmd) (*Result, error) { return f(ctx, c) }

// NewExecRunner creates an ExecRunner. A nil logger discards debug output.
func NewExecRunner(logger *log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ExecRunner{logger: logger}
}

// Run starts c, waits for it to finish, and returns its captured output. A
// non-zero exit is reported as *ExitError alongside the populated Result.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (*Result, error) {
	line := Line(c)
	r.logger.Debug("running command", "cmd", line, "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	res.ExitCode = 1
	var exitErr *exec.ExitError
	var execErr *exec.Error
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.As(err, &execErr):
		res.ExitCode = ExitCodeNotFound
	}

	return res, &ExitError{
		Line:     line,
		ExitCode: res.ExitCode,
		Stderr:   tail(stderr.String(), maxStderrTail),
		Err:      err,
	}
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Line, e.ExitCode)
	if e.ExitCode == ExitCodeNotFound && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Line, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns both ErrCommandFailed and the underlying exec error.
func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}

// Line renders c as a single shell-quoted command line for logs and errors.
func Line(c Cmd) string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, word := range append([]string{c.Name}, c.Args...) {
		quoted, err := syntax.Quote(word, syntax.LangBash)
		if err != nil {
			// Words containing NUL bytes cannot be quoted; show them raw.
			quoted = word
		}
		parts = append(parts, quoted)
	}
	return strings.Join(parts, " ")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
