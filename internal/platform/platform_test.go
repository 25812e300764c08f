package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devdb-setup/internal/executil"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantFamily Family
		wantDesc   string
		wantErr    error
	}{
		{
			name:       "rhel",
			files:      map[string]string{"/etc/redhat-release": "Rocky Linux release 9.4"},
			wantFamily: FamilyRHEL,
			wantDesc:   "rhel",
		},
		{
			name: "debian with os-release",
			files: map[string]string{
				"/etc/debian_version": "12.5",
				"/etc/os-release":     "NAME=\"Debian\"\nPRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\n",
			},
			wantFamily: FamilyDebian,
			wantDesc:   "Debian GNU/Linux 12 (bookworm)",
		},
		{
			name:    "unsupported",
			files:   map[string]string{"/etc/arch-release": ""},
			wantErr: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			for p, c := range tt.files {
				writeFile(t, fs, p, c)
			}

			profile, err := Probe(fs, executil.NewFakeRunner(), nil)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, profile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFamily, profile.Family())
			assert.Equal(t, tt.wantDesc, profile.Description())
			assert.Equal(t, "postgresql", profile.ServiceName())
		})
	}
}

func TestRHEL_InitializeDataStoreIsGuarded(t *testing.T) {
	ctx := context.Background()

	t.Run("empty host initializes", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/redhat-release", "")
		run := executil.NewFakeRunner()
		p, err := Probe(fs, run, nil)
		require.NoError(t, err)

		did, err := p.InitializeDataStore(ctx)
		require.NoError(t, err)
		assert.True(t, did)
		assert.True(t, run.Ran("postgresql-setup --initdb"))
	})

	t.Run("non-empty data dir is left alone", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/redhat-release", "")
		writeFile(t, fs, "/var/lib/pgsql/data/PG_VERSION", "16")
		run := executil.NewFakeRunner()
		p, err := Probe(fs, run, nil)
		require.NoError(t, err)

		did, err := p.InitializeDataStore(ctx)
		require.NoError(t, err)
		assert.False(t, did)
		assert.Empty(t, run.Calls())
	})
}

func TestDebian_InitializeDataStoreIsGuarded(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/debian_version", "12")
	require.NoError(t, fs.MkdirAll("/usr/lib/postgresql/9.6/bin", 0755))
	require.NoError(t, fs.MkdirAll("/usr/lib/postgresql/15/bin", 0755))
	writeFile(t, fs, "/var/lib/postgresql/15/main/PG_VERSION", "15")

	run := executil.NewFakeRunner()
	p, err := Probe(fs, run, nil)
	require.NoError(t, err)

	did, err := p.InitializeDataStore(ctx)
	require.NoError(t, err)
	assert.False(t, did)
	assert.False(t, run.Ran("pg_createcluster"))

	require.NoError(t, fs.RemoveAll("/var/lib/postgresql/15/main"))
	did, err = p.InitializeDataStore(ctx)
	require.NoError(t, err)
	assert.True(t, did)
	assert.True(t, run.Ran("pg_createcluster 15 main"))
}

func TestDebian_InitializeWithoutServerInstalled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/debian_version", "12")
	run := executil.NewFakeRunner()
	p, err := Probe(fs, run, nil)
	require.NoError(t, err)

	did, err := p.InitializeDataStore(context.Background())
	assert.Error(t, err)
	assert.False(t, did)
	assert.Empty(t, run.Calls())
}

func TestPolicyFilePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/debian_version", "12")
	writeFile(t, fs, "/etc/postgresql/14/main/pg_hba.conf", "")
	writeFile(t, fs, "/etc/postgresql/16/main/pg_hba.conf", "")

	p, err := Probe(fs, executil.NewFakeRunner(), nil)
	require.NoError(t, err)
	path, err := p.PolicyFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/postgresql/16/main/pg_hba.conf", path)

	rhel := &RHEL{host: host{fs: fs}}
	path, err = rhel.PolicyFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pgsql/data/pg_hba.conf", path)
}

func TestPackageCommands(t *testing.T) {
	ctx := context.Background()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/redhat-release", "")
	writeFile(t, fs, "/usr/bin/dnf", "")
	run := executil.NewFakeRunner()
	p, err := Probe(fs, run, nil)
	require.NoError(t, err)
	require.NoError(t, p.InstallPackages(ctx))
	require.NoError(t, p.ServiceControl(ctx, "enable", "--now"))
	assert.Equal(t, []string{
		"dnf install -y postgresql-server postgresql-contrib",
		"systemctl enable --now postgresql",
	}, run.Lines())
	for _, c := range run.Calls() {
		assert.True(t, c.Privileged)
	}

	fs = afero.NewMemMapFs()
	writeFile(t, fs, "/etc/debian_version", "")
	run = executil.NewFakeRunner().On("apt-get install", 100, "E: Unable to locate package")
	p, err = Probe(fs, run, nil)
	require.NoError(t, err)
	assert.Error(t, p.InstallPackages(ctx))
	assert.Equal(t, "apt-get update", run.Lines()[0])
	assert.Contains(t, run.Calls()[1].Env, "DEBIAN_FRONTEND=noninteractive")
}

func TestVersionLess(t *testing.T) {
	assert.True(t, versionLess("9.6", "10"))
	assert.True(t, versionLess("15", "16"))
	assert.False(t, versionLess("16", "16"))
	assert.True(t, versionLess("16", "16.1"))
}
