// Package runner executes the external procedures the pipeline delegates to
// (python recipe scripts, git). Each call blocks until the process exits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kamusis/cbdistill/internal/logger"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string   // working directory; empty means the current one
	Env  []string // extra KEY=VALUE entries on top of the process environment
}

// String renders the command the way it would be typed in a shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	s := strings.Join(parts, " ")
	if len(c.Env) > 0 {
		s = strings.Join(c.Env, " ") + " " + s
	}
	return s
}

// Runner runs external commands.
type Runner interface {
	// Run executes c, streaming its output, and waits for it to exit.
	Run(ctx context.Context, c Command) error
	// Output executes c and returns its combined output.
	Output(ctx context.Context, c Command) (string, error)
}

// ExitError reports a delegated process that failed.
type ExitError struct {
	Cmd Command
	Err error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Cmd.Name, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code, or -1 if it never ran.
func (e *ExitError) ExitCode() int {
	var ee *exec.ExitError
	if errors.As(e.Err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Exec runs commands with os/exec.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExec returns an Exec that streams to the process stdout and stderr.
func NewExec() *Exec {
	return &Exec{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *Exec) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // commands are built from config, not user input
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

func (e *Exec) Run(ctx context.Context, c Command) error {
	cmd := e.command(ctx, c)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	if err := cmd.Run(); err != nil {
		return &ExitError{Cmd: c, Err: err}
	}
	return nil
}

func (e *Exec) Output(ctx context.Context, c Command) (string, error) {
	var buf bytes.Buffer
	cmd := e.command(ctx, c)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), &ExitError{Cmd: c, Err: err}
	}
	return buf.String(), nil
}

// DryRun logs commands passed to Run instead of executing them. Output is
// forwarded to Next because probes have no side effects.
type DryRun struct {
	Next Runner
	Log  *logger.Logger
}

func (d *DryRun) Run(_ context.Context, c Command) error {
	d.Log.WithField("dir", c.Dir).Infof("dry-run: %s", c)
	return nil
}

func (d *DryRun) Output(ctx context.Context, c Command) (string, error) {
	return d.Next.Output(ctx, c)
}

// PyBool renders b the way the recipe scripts parse boolean flags.
func PyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
