// Package executil is the command-execution port. Every interaction with an
// external tool (package manager, systemctl, psql, go, mail) goes through a
// Runner so phases stay free of process plumbing and can be tested with
// FakeRunner.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one synchronous external invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Stdin is piped to the process. It is never logged.
	Stdin []byte

	// AsUser runs the command as another OS user (sudo -u).
	AsUser string
	// Privileged commands are prefixed with sudo when not running as root.
	Privileged bool

	// Stream, when set, receives output live in addition to Result.Output.
	Stream io.Writer
}

// String renders the command line for logs. Stdin is not included.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	line := strings.Join(parts, " ")
	if c.AsUser != "" {
		line = "(" + c.AsUser + ") " + line
	}
	return line
}

// Result is the exit status and combined output of a finished command.
type Result struct {
	ExitCode int
	Output   []byte
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Text returns the trimmed combined output.
func (r Result) Text() string { return strings.TrimSpace(string(r.Output)) }

// ExitError is returned when a command runs but exits non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Output)
}

// Runner executes commands. Run blocks until the process exits. The returned
// error is nil exactly when Result.ExitCode is zero; when the process could
// not be started at all ExitCode is -1.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSRunner implements Runner with os/exec.
type OSRunner struct {
	// euid is overridable in tests.
	euid func() int
}

// NewOSRunner returns the production Runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{euid: os.Geteuid}
}

// Argv returns the full argument vector after privilege wrapping.
func (r *OSRunner) Argv(c Command) []string {
	argv := append([]string{c.Name}, c.Args...)
	switch {
	case c.AsUser != "":
		argv = append([]string{"sudo", "-u", c.AsUser, "--"}, argv...)
	case c.Privileged && r.euid() != 0:
		argv = append([]string{"sudo", "--"}, argv...)
	}
	return argv
}

// Run executes the command and waits for it to finish.
func (r *OSRunner) Run(ctx context.Context, c Command) (Result, error) {
	argv := r.Argv(c)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var out bytes.Buffer
	var w io.Writer = &out
	if c.Stream != nil {
		w = io.MultiWriter(&out, c.Stream)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	res := Result{Output: out.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: c.String(), Code: res.ExitCode, Output: res.Text()}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("start %s: %w", c.Name, err)
}
