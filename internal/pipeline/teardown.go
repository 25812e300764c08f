package pipeline

import (
	"context"
	"errors"
	"fmt"

	"devdb-setup/internal/config"
	"devdb-setup/internal/decommission"
	"devdb-setup/internal/exitcodes"
	"devdb-setup/internal/platform"
	"devdb-setup/internal/runstatus"
	"devdb-setup/internal/state"
)

// Teardown decommissions the environment recorded in the state file at
// statePath. The result carries only the cleanup outcomes.
func Teardown(ctx context.Context, s config.Settings, statePath string, d Deps) (Result, error) {
	d.defaults()
	ledger := runstatus.NewLedger(false)

	st, err := state.Load(d.FS, statePath)
	if err != nil {
		return Result{Ledger: ledger, ExitCode: exitcodes.InvalidInput}, err
	}
	res := Result{RunID: st.RunID, Ledger: ledger}
	if st.Decommissioned {
		d.Log.Warn("Run %s was already decommissioned; checking for leftovers", st.RunID)
	}

	profile, err := platform.Probe(d.FS, d.Runner, d.Log.Writer())
	if err != nil && !errors.Is(err, platform.ErrUnsupported) {
		return Result{Ledger: ledger, ExitCode: exitcodes.InvalidInput}, fmt.Errorf("probe: %w", err)
	}
	if profile == nil {
		d.Log.Warn("No supported distribution detected; removing directories only")
	} else if st.Family != "" && string(profile.Family()) != st.Family {
		d.Log.Warn("State was recorded on a %s host, this is %s", st.Family, profile.Family())
	}

	decommission.New(profile, d.Runner, d.FS, d.Log, ledger).Decommission(ctx, decommission.Targets{
		AppDir:        st.AppDir,
		MigrationsDir: st.MigrationsDir,
		ToolchainDir:  st.ToolchainDir,
	})

	st.Decommissioned = true
	if err := state.Save(d.FS, statePath, st); err != nil {
		d.Log.Warn("%v", err)
	}

	res.Status = ledger.Status()
	res.ExitCode = exitcodes.FromStatus(res.Status)
	return res, nil
}
