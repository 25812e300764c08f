// Package pipeline runs the provisioning phases strictly in order: probe,
// collect, provision, scaffold, run, report and decommission. Phases record
// their outcomes in a shared ledger instead of returning errors, so one
// failing phase never prevents the next from being attempted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"devdb-setup/internal/config"
	"devdb-setup/internal/decommission"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/exitcodes"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/platform"
	"devdb-setup/internal/provisioner"
	"devdb-setup/internal/report"
	"devdb-setup/internal/runner"
	"devdb-setup/internal/runstatus"
	"devdb-setup/internal/scaffold"
	"devdb-setup/internal/state"
)

// Step names recorded by the pipeline itself.
const (
	StepDetectOS      = "detect-os"
	StepCollectInputs = "collect-inputs"
)

// Deps are the ports a run talks to the world through.
type Deps struct {
	FS     afero.Fs
	Runner executil.Runner
	Log    *logger.Logger
	// Prompter asks for missing inputs; nil means unattended.
	Prompter  config.Prompter
	Verifier  provisioner.LoginVerifier
	Inspector runner.Inspector
	Toolchain scaffold.ToolchainResolver
	// Migrator defaults to goose when nil.
	Migrator scaffold.Migrator
	Now      func() time.Time
	NewRunID func() string
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Status       runstatus.Status
	ExitCode     int
	LogFile      string
	Ledger       *runstatus.Ledger
	Notification report.Notification
}

// Run executes every phase once. The returned error is set only when the
// run stopped before provisioning because inputs could not be collected.
func Run(ctx context.Context, s config.Settings, d Deps) (Result, error) {
	d.defaults()
	started := d.Now()
	ledger := runstatus.NewLedger(s.Status.MaskOnAppSuccess)
	res := Result{RunID: d.NewRunID(), Ledger: ledger}

	if path, err := d.Log.OpenFile(d.FS, s.LogDir, started); err != nil {
		d.Log.Warn("Execution log file unavailable, logging to console only: %v", err)
	} else {
		res.LogFile = path
	}
	d.Log.Info("Run %s started", res.RunID)

	// 1. probe
	profile, err := platform.Probe(d.FS, d.Runner, d.Log.Writer())
	host := "unsupported"
	switch {
	case errors.Is(err, platform.ErrUnsupported):
		d.Log.Error("No supported distribution detected; OS-dependent phases are skipped")
		ledger.Fail(runstatus.PhaseProbe, StepDetectOS, runstatus.KindUnsupportedEnvironment, err)
	case err != nil:
		ledger.Fail(runstatus.PhaseProbe, StepDetectOS, runstatus.KindUnsupportedEnvironment, err)
	default:
		host = profile.Description()
		d.Log.Info("Detected %s (%s family)", host, profile.Family())
		ledger.OK(runstatus.PhaseProbe, StepDetectOS, host)
	}

	// 2. collect
	cfg, err := config.NewCollector(d.Prompter).Collect(ctx, s.Inputs)
	if err != nil {
		err = fmt.Errorf("collect inputs: %w", err)
		d.Log.Error("%v", err)
		ledger.Fail(runstatus.PhaseCollect, StepCollectInputs, runstatus.KindInputCollectionFailure, err)
		res.Status = ledger.Status()
		res.ExitCode = exitcodes.InvalidInput
		_ = d.Log.Finalize()
		return res, err
	}
	d.Log.Info("Collected inputs: %s", cfg)
	ledger.OK(runstatus.PhaseCollect, StepCollectInputs, "")

	// 3. provision
	provisioner.New(profile, d.Runner, d.FS, d.Log, ledger, s.Postgres, d.Verifier).Provision(ctx, cfg)

	// 4. scaffold, 5. run
	var art scaffold.Artifacts
	if profile == nil {
		for _, p := range []runstatus.Phase{runstatus.PhaseToolchain, runstatus.PhaseScaffold, runstatus.PhaseRun} {
			ledger.Skip(p, string(p), "unsupported environment")
		}
	} else {
		art = scaffoldApp(ctx, s, d, ledger, cfg)
		// An unreadable credential enclave still lets the application run;
		// the runner then skips the schema inspection on the empty DSN.
		dsn, err := cfg.DSN(s.Postgres.Host, s.Postgres.Port)
		if err != nil {
			d.Log.Warn("Connection string unavailable, schema inspection will be skipped: %v", err)
			dsn = ""
		}
		if art.AppDir == "" {
			ledger.Skip(runstatus.PhaseRun, runner.StepExecute, "no application was scaffolded")
		} else {
			runner.New(d.Runner, d.Log, ledger, d.Inspector).Run(ctx, art.AppDir, art.Toolchain, dsn)
		}
	}

	// The final status is captured here; reporting and cleanup cannot
	// change it.
	res.Status = ledger.Status()
	d.Log.Info("Run finished with status %s", res.Status)
	if err := d.Log.Finalize(); err != nil {
		d.Log.Warn("Failed to close execution log: %v", err)
	}

	// 6. report
	info := report.RunInfo{RunID: res.RunID, Host: host, Started: started, Status: res.Status, LogFile: res.LogFile}
	res.Notification = report.New(d.Runner, d.FS, d.Log, ledger, s.Report).Notify(ctx, info)

	// 7. decommission
	targets := decommission.Targets{AppDir: art.AppDir, MigrationsDir: art.MigrationsDir}
	if art.Toolchain.Downloaded {
		targets.ToolchainDir = art.Toolchain.Root
	}
	decommissioned := !s.Keep
	if s.Keep {
		ledger.Skip(runstatus.PhaseDecommission, string(runstatus.PhaseDecommission), "environment kept on request")
	} else {
		decommission.New(profile, d.Runner, d.FS, d.Log, ledger).Decommission(ctx, targets)
	}

	info.Finished = d.Now()
	writeArtifacts(s, d, ledger, info, &state.RunState{
		RunID:          res.RunID,
		Family:         family(profile),
		DBName:         cfg.DBName(),
		DBUser:         cfg.DBUser(),
		AppDir:         art.AppDir,
		MigrationsDir:  art.MigrationsDir,
		ToolchainDir:   targets.ToolchainDir,
		LogFile:        res.LogFile,
		Status:         res.Status,
		Decommissioned: decommissioned,
	})

	res.ExitCode = exitCode(profile, res.Status)
	return res, nil
}

func scaffoldApp(ctx context.Context, s config.Settings, d Deps, ledger *runstatus.Ledger, cfg *config.RunConfiguration) scaffold.Artifacts {
	engine, err := scaffold.NewEngine()
	if err != nil {
		ledger.Fail(runstatus.PhaseScaffold, scaffold.StepRender, runstatus.KindScaffoldGenerationFailure, err)
		return scaffold.Artifacts{}
	}
	migrator := d.Migrator
	if migrator == nil {
		migrator = scaffold.NewGooseMigrator(engine.Migration(), d.Log)
	}
	return scaffold.New(d.Runner, d.FS, d.Log, ledger, engine, d.Toolchain, migrator, s).Scaffold(ctx, cfg)
}

// writeArtifacts saves the state file, the YAML report and the optional
// metrics textfile. Failures are logged only.
func writeArtifacts(s config.Settings, d Deps, ledger *runstatus.Ledger, info report.RunInfo, st *state.RunState) {
	if err := state.Save(d.FS, s.StateFile, st); err != nil {
		d.Log.Warn("%v", err)
	}

	reportPath := filepath.Join(s.LogDir, "devdb-setup-"+info.RunID+".report.yaml")
	if info.LogFile != "" {
		reportPath = report.ReportPath(info.LogFile)
	}
	if err := report.WriteReport(d.FS, reportPath, report.BuildReport(info, ledger)); err != nil {
		d.Log.Warn("%v", err)
	} else {
		d.Log.Info("Run report written to %s", reportPath)
	}

	if s.MetricsFile != "" {
		if err := report.WriteMetrics(s.MetricsFile, info, ledger); err != nil {
			d.Log.Warn("%v", err)
		}
	}
}

func family(p platform.Profile) string {
	if p == nil {
		return ""
	}
	return string(p.Family())
}

func exitCode(p platform.Profile, s runstatus.Status) int {
	if p == nil {
		return exitcodes.Unsupported
	}
	return exitcodes.FromStatus(s)
}
