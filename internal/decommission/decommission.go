// Package decommission tears down what a run provisioned. It is safe on a
// host where earlier phases failed, never ran, or ran on an unsupported
// distribution; nothing it does can make a run fail.
package decommission

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/platform"
	"devdb-setup/internal/runstatus"
)

// Step names as they appear in the run report.
const (
	StepStopService      = "stop-service"
	StepRemovePackages   = "remove-packages"
	StepRemoveDataDir    = "remove-data-dir"
	StepRemoveAppDir     = "remove-app-dir"
	StepRemoveMigrations = "remove-migrations-dir"
	StepRemoveToolchain  = "remove-toolchain-dir"
)

// Targets are the directories a run created.
type Targets struct {
	AppDir        string
	MigrationsDir string
	// ToolchainDir is set only when the run downloaded a toolchain.
	ToolchainDir string
}

// Decommissioner runs the cleanup phase.
type Decommissioner struct {
	profile platform.Profile
	run     executil.Runner
	fs      afero.Fs
	log     *logger.Logger
	ledger  *runstatus.Ledger
}

// New returns a Decommissioner. profile may be nil; only filesystem
// cleanup happens then.
func New(profile platform.Profile, run executil.Runner, fs afero.Fs, log *logger.Logger, ledger *runstatus.Ledger) *Decommissioner {
	return &Decommissioner{profile: profile, run: run, fs: fs, log: log, ledger: ledger}
}

// Decommission stops and removes the service, then deletes the data,
// application and migrations directories. Every step is attempted.
func (d *Decommissioner) Decommission(ctx context.Context, t Targets) {
	d.log.Info("Decommissioning the environment")

	if d.profile == nil {
		for _, step := range []string{StepStopService, StepRemovePackages, StepRemoveDataDir} {
			d.ledger.Skip(runstatus.PhaseDecommission, step, "unsupported environment")
		}
	} else {
		if err := d.profile.ServiceControl(ctx, "stop"); err != nil {
			d.warn(StepStopService, runstatus.KindServiceControlFailure, err)
		} else {
			d.ledger.OK(runstatus.PhaseDecommission, StepStopService, d.profile.ServiceName())
		}

		if err := d.profile.RemovePackages(ctx); err != nil {
			d.warn(StepRemovePackages, runstatus.KindPackageInstallFailure, err)
		} else {
			d.ledger.OK(runstatus.PhaseDecommission, StepRemovePackages, "")
		}

		d.forceRemove(ctx, d.profile.DataDir())
	}

	d.removeDir(StepRemoveAppDir, t.AppDir)
	d.removeDir(StepRemoveMigrations, t.MigrationsDir)
	if t.ToolchainDir != "" {
		d.removeDir(StepRemoveToolchain, t.ToolchainDir)
	}
}

// forceRemove deletes the server data directory with elevated privileges;
// it is owned by the database account.
func (d *Decommissioner) forceRemove(ctx context.Context, dir string) {
	if ok, _ := afero.Exists(d.fs, dir); !ok {
		d.missing(StepRemoveDataDir, dir)
		return
	}
	d.log.Info("Removing data directory %s", dir)
	c := executil.Command{Name: "rm", Args: []string{"-rf", dir}, Privileged: true, Stream: d.log.Writer()}
	if _, err := d.run.Run(ctx, c); err != nil {
		d.warn(StepRemoveDataDir, runstatus.KindCleanupTargetMissing, err)
		return
	}
	d.ledger.OK(runstatus.PhaseDecommission, StepRemoveDataDir, dir)
}

func (d *Decommissioner) removeDir(step, dir string) {
	if dir == "" {
		d.ledger.Skip(runstatus.PhaseDecommission, step, "no directory recorded")
		return
	}
	if ok, _ := afero.DirExists(d.fs, dir); !ok {
		d.missing(step, dir)
		return
	}
	d.log.Info("Removing %s", dir)
	if err := d.fs.RemoveAll(dir); err != nil {
		d.warn(step, runstatus.KindCleanupTargetMissing, fmt.Errorf("remove %s: %w", dir, err))
		return
	}
	d.ledger.OK(runstatus.PhaseDecommission, step, dir)
}

func (d *Decommissioner) missing(step, dir string) {
	d.log.Info("%s not present, nothing to remove", dir)
	d.ledger.Note(runstatus.PhaseDecommission, step, runstatus.KindCleanupTargetMissing, dir+" not present")
}

func (d *Decommissioner) warn(step string, kind runstatus.Kind, err error) {
	d.log.Warn("%s failed: %v", step, err)
	d.ledger.Warn(runstatus.PhaseDecommission, step, kind, err)
}
