package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devdb-setup/internal/config"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/exitcodes"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/report"
	"devdb-setup/internal/runner"
	"devdb-setup/internal/runstatus"
	"devdb-setup/internal/state"
	"devdb-setup/internal/toolchain"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

const debianHBA = `local   all             postgres                                peer
host    all             all             127.0.0.1/32            ident
host    all             all             ::1/128                 ident
`

type pathToolchain struct{}

func (pathToolchain) Resolve(context.Context, string, string) (toolchain.Toolchain, error) {
	return toolchain.Toolchain{GoBinary: "go"}, nil
}

// memMigrator writes migrations into the in-memory filesystem.
type memMigrator struct {
	fs      afero.Fs
	applied []string
}

func (m *memMigrator) Create(dir, name string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%05d_%s.sql", 1, name))
	return path, afero.WriteFile(m.fs, path, []byte("-- +goose Up\n"), 0644)
}

func (m *memMigrator) Up(_ context.Context, _, dir string) error {
	m.applied = append(m.applied, dir)
	return nil
}

type emptySchema struct{}

func (emptySchema) Inspect(context.Context, string) (runner.SchemaReport, error) {
	return runner.SchemaReport{Tables: map[string]bool{"blogs": true, "posts": true}}, nil
}

type harness struct {
	fs       afero.Fs
	run      *executil.FakeRunner
	settings config.Settings
	deps     Deps
	migrator *memMigrator
}

func debianHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/debian_version", []byte("12.5"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/etc/os-release", []byte("PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\n"), 0644))
	require.NoError(t, fs.MkdirAll("/usr/lib/postgresql/16/bin", 0755))
	require.NoError(t, afero.WriteFile(fs, "/var/lib/postgresql/16/main/PG_VERSION", []byte("16"), 0600))
	require.NoError(t, afero.WriteFile(fs, "/etc/postgresql/16/main/pg_hba.conf", []byte(debianHBA), 0640))
	return newHarness(t, fs)
}

func newHarness(t *testing.T, fs afero.Fs) *harness {
	t.Helper()
	s := config.Defaults()
	s.WorkDir = "/srv"
	s.LogDir = "/var/log/devdb"
	s.StateFile = "/srv/.devdb-setup-state.json"
	s.Report.PollInterval = time.Millisecond
	s.Inputs = config.Inputs{DBName: "blogdb", DBUser: "bloguser", DBPassword: "secret", AppName: "demoapp"}

	run := executil.NewFakeRunner()
	m := &memMigrator{fs: fs}
	clock := time.Date(2026, 10, 17, 10, 15, 0, 0, time.UTC)
	return &harness{
		fs:       fs,
		run:      run,
		settings: s,
		migrator: m,
		deps: Deps{
			FS:        fs,
			Runner:    run,
			Log:       logger.New(io.Discard, false),
			Inspector: emptySchema{},
			Toolchain: pathToolchain{},
			Migrator:  m,
			Now:       func() time.Time { return clock },
			NewRunID:  func() string { return "run-0001" },
		},
	}
}

func (h *harness) exec(t *testing.T) Result {
	t.Helper()
	res, err := Run(context.Background(), h.settings, h.deps)
	require.NoError(t, err)
	return res
}

func mailBody(t *testing.T, run *executil.FakeRunner) string {
	t.Helper()
	for _, c := range run.Calls() {
		if c.Name == "mail" {
			return string(c.Stdin)
		}
	}
	t.Fatal("no mail sent")
	return ""
}

func ranBinary(run *executil.FakeRunner, name string) bool {
	for _, c := range run.Calls() {
		if c.Name == name {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

func TestRun_DebianEndToEnd(t *testing.T) {
	h := debianHarness(t)
	res := h.exec(t)

	assert.Equal(t, runstatus.Clean, res.Status, "%v", res.Ledger.Failures())
	assert.Equal(t, exitcodes.Success, res.ExitCode)
	assert.Equal(t, "/var/log/devdb/devdb-setup-20261017-101500.log", res.LogFile)

	// provisioning, scaffolding and the application ran in order
	lines := strings.Join(h.run.Lines(), "\n")
	order := []string{"apt-get install", "systemctl enable --now postgresql", "CREATE DATABASE", "CREATE ROLE", "GRANT ALL PRIVILEGES",
		"systemctl restart postgresql", "go mod init demoapp", "go mod tidy", "go run .", "mail -s", "systemctl stop postgresql", "apt-get purge", "rm -rf /var/lib/postgresql"}
	pos := 0
	for _, marker := range order {
		i := strings.Index(lines[pos:], marker)
		require.GreaterOrEqual(t, i, 0, "%q missing or out of order", marker)
		pos += i + len(marker)
	}
	assert.Equal(t, []string{"/srv/demoapp/migrations"}, h.migrator.applied)

	hba, err := afero.ReadFile(h.fs, "/etc/postgresql/16/main/pg_hba.conf")
	require.NoError(t, err)
	assert.Contains(t, string(hba), "127.0.0.1/32            md5")

	body := mailBody(t, h.run)
	assert.True(t, strings.HasPrefix(body, report.SuccessPreamble))
	assert.Contains(t, body, "[INFO] Run run-0001 started")
	assert.Equal(t, res.Notification.Body, body)

	ok, _ := afero.Exists(h.fs, "/srv/demoapp")
	assert.False(t, ok, "application removed during decommission")

	st, err := state.Load(h.fs, h.settings.StateFile)
	require.NoError(t, err)
	assert.Equal(t, "run-0001", st.RunID)
	assert.Equal(t, "debian", st.Family)
	assert.True(t, st.Decommissioned)

	ok, _ = afero.Exists(h.fs, "/var/log/devdb/devdb-setup-20261017-101500.report.yaml")
	assert.True(t, ok)
}

func TestRun_ApplicationFailureReportsError(t *testing.T) {
	h := debianHarness(t)
	h.run.On("go run .", 1, "connect: password authentication failed")

	res := h.exec(t)

	assert.Equal(t, runstatus.ErrorOccurred, res.Status)
	assert.Equal(t, exitcodes.ErrorOccurred, res.ExitCode)
	assert.True(t, strings.HasPrefix(mailBody(t, h.run), report.ErrorPreamble))
}

func TestRun_AppSuccessAfterProvisioningFailure(t *testing.T) {
	tests := []struct {
		name     string
		mask     bool
		status   runstatus.Status
		preamble string
	}{
		{"derived status", false, runstatus.ErrorOccurred, report.ErrorPreamble},
		{"legacy mask mode", true, runstatus.Clean, report.SuccessPreamble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := debianHarness(t)
			require.NoError(t, h.fs.Remove("/etc/postgresql/16/main/pg_hba.conf"))
			h.settings.Status.MaskOnAppSuccess = tt.mask

			res := h.exec(t)

			assert.Equal(t, tt.status, res.Status)
			assert.True(t, strings.HasPrefix(mailBody(t, h.run), tt.preamble))
		})
	}
}

func TestRun_UnsupportedHost(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	require.NoError(t, h.fs.MkdirAll("/srv/demoapp", 0755))

	res := h.exec(t)

	assert.Equal(t, runstatus.ErrorOccurred, res.Status)
	assert.Equal(t, exitcodes.Unsupported, res.ExitCode)
	assert.False(t, ranBinary(h.run, "psql"))
	assert.False(t, ranBinary(h.run, "go"))
	assert.True(t, h.run.Ran("mail -s"), "the report is still sent")

	failures := res.Ledger.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, runstatus.KindUnsupportedEnvironment, failures[0].Kind)
	assert.Equal(t, runstatus.Clean, res.Ledger.PhaseStatus(runstatus.PhaseDecommission))
}

func TestRun_KeepSkipsDecommission(t *testing.T) {
	h := debianHarness(t)
	h.settings.Keep = true

	res := h.exec(t)

	assert.Equal(t, exitcodes.Success, res.ExitCode)
	assert.False(t, h.run.Ran("apt-get purge"))
	ok, _ := afero.Exists(h.fs, "/srv/demoapp/main.go")
	assert.True(t, ok)
	ok, _ = afero.Exists(h.fs, "/srv/demoapp/migrations/00001_initial_create.sql")
	assert.True(t, ok, "the initial migration is left in place")
	assert.Equal(t, []string{"/srv/demoapp/migrations"}, h.migrator.applied)

	st, err := state.Load(h.fs, h.settings.StateFile)
	require.NoError(t, err)
	assert.False(t, st.Decommissioned)
	assert.Equal(t, "/srv/demoapp", st.AppDir)
}

func TestRun_InputCollectionFailureStopsEarly(t *testing.T) {
	h := debianHarness(t)
	h.settings.Inputs = config.Inputs{}
	h.deps.Prompter = config.NewLinePrompter(strings.NewReader(""), io.Discard)

	res, err := Run(context.Background(), h.settings, h.deps)

	require.Error(t, err)
	assert.Equal(t, exitcodes.InvalidInput, res.ExitCode)
	assert.Empty(t, h.run.Calls())
}

// -----------------------------------------------------------------------------
// Teardown
// -----------------------------------------------------------------------------

func TestTeardown_UsesSavedState(t *testing.T) {
	h := debianHarness(t)
	h.settings.Keep = true
	h.exec(t)

	run := executil.NewFakeRunner()
	h.deps.Runner = run
	res, err := Teardown(context.Background(), h.settings, h.settings.StateFile, h.deps)
	require.NoError(t, err)

	assert.Equal(t, "run-0001", res.RunID)
	assert.Equal(t, exitcodes.Success, res.ExitCode)
	assert.True(t, run.Ran("apt-get purge"))
	ok, _ := afero.Exists(h.fs, "/srv/demoapp")
	assert.False(t, ok)

	st, err := state.Load(h.fs, h.settings.StateFile)
	require.NoError(t, err)
	assert.True(t, st.Decommissioned)
}

func TestTeardown_MissingState(t *testing.T) {
	h := debianHarness(t)
	res, err := Teardown(context.Background(), h.settings, "/nowhere.json", h.deps)
	assert.ErrorIs(t, err, state.ErrNoState)
	assert.Equal(t, exitcodes.InvalidInput, res.ExitCode)
}
