package executil

import (
	"context"
	"strings"
	"sync"
)

// FakeRule scripts the result of every command whose rendered line (command
// line plus stdin) contains Match.
type FakeRule struct {
	Match    string
	ExitCode int
	Output   string
}

// FakeRunner is a Runner test double. Unmatched commands succeed with no
// output. Rules are evaluated in registration order; the first match wins.
type FakeRunner struct {
	mu    sync.Mutex
	rules []FakeRule
	calls []Command
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner { return &FakeRunner{} }

// On registers a scripted result and returns the runner for chaining.
func (f *FakeRunner) On(match string, exitCode int, output string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, FakeRule{Match: match, ExitCode: exitCode, Output: output})
	return f
}

// Run records the call and returns the scripted result.
func (f *FakeRunner) Run(_ context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	line := fakeLine(c)
	res := Result{}
	for _, r := range f.rules {
		if strings.Contains(line, r.Match) {
			res = Result{ExitCode: r.ExitCode, Output: []byte(r.Output)}
			break
		}
	}
	f.mu.Unlock()

	if c.Stream != nil && len(res.Output) > 0 {
		_, _ = c.Stream.Write(res.Output)
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Command: c.String(), Code: res.ExitCode, Output: res.Text()}
	}
	return res, nil
}

// Calls returns every recorded command in order.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// Lines returns the rendered line of every recorded command.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		lines = append(lines, fakeLine(c))
	}
	return lines
}

// Ran reports whether any recorded command line contains substr.
func (f *FakeRunner) Ran(substr string) bool {
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func fakeLine(c Command) string {
	if len(c.Stdin) == 0 {
		return c.String()
	}
	return c.String() + " <<< " + string(c.Stdin)
}
