package decommission

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/platform"
	"devdb-setup/internal/runstatus"
)

var targets = Targets{AppDir: "/srv/demoapp", MigrationsDir: "/srv/demoapp/migrations"}

func kinds(l *runstatus.Ledger) map[string]runstatus.Kind {
	out := map[string]runstatus.Kind{}
	for _, o := range l.Outcomes() {
		out[o.Step] = o.Kind
	}
	return out
}

func TestDecommission_PristineHostHasNoFatalOutcome(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/debian_version", []byte("12.5"), 0644))
	run := executil.NewFakeRunner().
		On("systemctl stop postgresql", 5, "Failed to stop postgresql.service: Unit postgresql.service not loaded.").
		On("apt-get purge", 100, "E: Unable to locate package postgresql")
	profile, err := platform.Probe(fs, run, nil)
	require.NoError(t, err)

	ledger := runstatus.NewLedger(false)
	New(profile, run, fs, logger.New(io.Discard, false), ledger).Decommission(context.Background(), targets)

	assert.Equal(t, runstatus.Clean, ledger.Status())
	assert.Empty(t, ledger.Failures())
	assert.Equal(t, 2, ledger.Count(runstatus.PhaseDecommission, runstatus.SeverityWarning))
	assert.False(t, run.Ran("rm -rf"), "nothing to remove")

	got := kinds(ledger)
	assert.Equal(t, runstatus.KindServiceControlFailure, got[StepStopService])
	assert.Equal(t, runstatus.KindPackageInstallFailure, got[StepRemovePackages])
	assert.Equal(t, runstatus.KindCleanupTargetMissing, got[StepRemoveDataDir])
	assert.Equal(t, runstatus.KindCleanupTargetMissing, got[StepRemoveAppDir])
	assert.Equal(t, runstatus.KindCleanupTargetMissing, got[StepRemoveMigrations])
}

func TestDecommission_ProvisionedHost(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/redhat-release", []byte("Rocky Linux release 9.4"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/var/lib/pgsql/data/PG_VERSION", []byte("16"), 0600))
	require.NoError(t, afero.WriteFile(fs, "/srv/demoapp/main.go", []byte("package main"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/srv/demoapp/migrations/00001_initial_create.sql", []byte("--"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/opt/tc/go/bin/go", []byte{}, 0755))

	run := executil.NewFakeRunner()
	profile, err := platform.Probe(fs, run, nil)
	require.NoError(t, err)

	ledger := runstatus.NewLedger(false)
	tg := targets
	tg.ToolchainDir = "/opt/tc"
	New(profile, run, fs, logger.New(io.Discard, false), ledger).Decommission(context.Background(), tg)

	assert.Equal(t, []string{
		"systemctl stop postgresql",
		"yum remove -y postgresql-server postgresql-contrib postgresql",
		"rm -rf /var/lib/pgsql",
	}, run.Lines())
	for _, c := range run.Calls() {
		assert.True(t, c.Privileged, c.String())
	}

	for _, dir := range []string{"/srv/demoapp", "/opt/tc"} {
		ok, _ := afero.Exists(fs, dir)
		assert.False(t, ok, dir)
	}
	got := kinds(ledger)
	assert.Equal(t, runstatus.KindOK, got[StepRemoveAppDir])
	assert.Equal(t, runstatus.KindCleanupTargetMissing, got[StepRemoveMigrations], "removed with the app dir")
	assert.Equal(t, runstatus.KindOK, got[StepRemoveToolchain])
	assert.Equal(t, runstatus.Clean, ledger.Status())
}

func TestDecommission_UnsupportedHostCleansFilesystemOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/srv/demoapp/migrations", 0755))
	run := executil.NewFakeRunner()

	ledger := runstatus.NewLedger(false)
	New(nil, run, fs, logger.New(io.Discard, false), ledger).Decommission(context.Background(), Targets{AppDir: "/srv/demoapp"})

	assert.Empty(t, run.Calls())
	got := kinds(ledger)
	assert.Equal(t, runstatus.KindSkipped, got[StepStopService])
	assert.Equal(t, runstatus.KindSkipped, got[StepRemovePackages])
	assert.Equal(t, runstatus.KindSkipped, got[StepRemoveDataDir])
	assert.Equal(t, runstatus.KindOK, got[StepRemoveAppDir])
	assert.Equal(t, runstatus.KindSkipped, got[StepRemoveMigrations])
	assert.Equal(t, runstatus.Clean, ledger.Status())
}
