// Package runner executes the generated application and judges the run by
// its exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/runstatus"
	"devdb-setup/internal/toolchain"
)

// Step names as they appear in the run report.
const (
	StepExecute = "execute-application"
	StepInspect = "inspect-schema"
)

// Runner runs the application phase.
type Runner struct {
	run       executil.Runner
	log       *logger.Logger
	ledger    *runstatus.Ledger
	inspector Inspector
}

// New returns a Runner. inspector may be nil to skip the schema check.
func New(run executil.Runner, log *logger.Logger, ledger *runstatus.Ledger, inspector Inspector) *Runner {
	return &Runner{run: run, log: log, ledger: ledger, inspector: inspector}
}

// Run executes `go run .` in appDir with output streamed into the log. A
// zero exit is reported to the ledger as application success.
func (r *Runner) Run(ctx context.Context, appDir string, tc toolchain.Toolchain, dsn string) {
	gobin := tc.GoBinary
	if gobin == "" {
		gobin = "go"
	}
	c := executil.Command{Name: gobin, Args: []string{"run", "."}, Dir: appDir, Stream: r.log.Writer()}
	if tc.Root != "" {
		c.Env = []string{"GOTOOLCHAIN=local", "PATH=" + filepath.Dir(gobin) + string(os.PathListSeparator) + os.Getenv("PATH")}
	}

	r.log.Info("Running application in %s", appDir)
	res, err := r.run.Run(ctx, c)
	if err != nil {
		var exitErr *executil.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("application exited with status %d", exitErr.Code)
		}
		r.log.Error("Application run failed: %v", err)
		r.ledger.Fail(runstatus.PhaseRun, StepExecute, runstatus.KindApplicationRuntimeFailure, err)
		return
	}

	if r.ledger.MaskOnAppSuccess() && len(r.ledger.Failures()) > 0 {
		r.log.Warn("Application succeeded; earlier failures are masked from the final status")
	}
	r.ledger.AppSucceeded(StepExecute, lastLine(res.Text()))
	r.log.Info("Application exited cleanly")

	r.inspect(ctx, dsn)
}

func (r *Runner) inspect(ctx context.Context, dsn string) {
	if r.inspector == nil {
		r.ledger.Skip(runstatus.PhaseRun, StepInspect, "no inspector configured")
		return
	}
	if dsn == "" {
		r.ledger.Skip(runstatus.PhaseRun, StepInspect, "connection string unavailable")
		return
	}
	report, err := r.inspector.Inspect(ctx, dsn)
	if err != nil {
		r.log.Warn("Schema inspection failed: %v", err)
		r.ledger.Warn(runstatus.PhaseRun, StepInspect, runstatus.KindApplicationRuntimeFailure, err)
		return
	}
	if problems := evaluate(report); len(problems) > 0 {
		err := errors.New(strings.Join(problems, "; "))
		r.log.Warn("Schema inspection: %v", err)
		r.ledger.Warn(runstatus.PhaseRun, StepInspect, runstatus.KindApplicationRuntimeFailure, err)
		return
	}
	r.ledger.OK(runstatus.PhaseRun, StepInspect, "blogs and posts present, blogs empty")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
