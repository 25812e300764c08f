package platform

import (
	"context"
	"fmt"

	"devdb-setup/internal/executil"
)

const debianDataDir = "/var/lib/postgresql"

var debianPackages = []string{"postgresql", "postgresql-contrib"}

// Debian covers Debian and Ubuntu hosts, where clusters live in versioned
// directories managed by postgresql-common.
type Debian struct {
	host
}

func (p *Debian) Family() Family { return FamilyDebian }

func (p *Debian) InstallPackages(ctx context.Context) error {
	env := []string{"DEBIAN_FRONTEND=noninteractive"}
	if err := p.exec(ctx, executil.Command{Name: "apt-get", Args: []string{"update"}, Env: env}); err != nil {
		return err
	}
	args := append([]string{"install", "-y"}, debianPackages...)
	return p.exec(ctx, executil.Command{Name: "apt-get", Args: args, Env: env})
}

func (p *Debian) RemovePackages(ctx context.Context) error {
	args := append([]string{"purge", "-y"}, debianPackages...)
	args = append(args, "postgresql-common", "postgresql-client-common")
	return p.exec(ctx, executil.Command{
		Name: "apt-get",
		Args: args,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
}

func (p *Debian) DataDir() string { return debianDataDir }

// serverVersion is the newest installed server major version.
func (p *Debian) serverVersion() (string, error) {
	_, v, err := newestVersionDir(p.fs, "/usr/lib/postgresql/*/bin")
	if err != nil {
		return "", fmt.Errorf("detect installed server version: %w", err)
	}
	return v, nil
}

// InitializeDataStore creates the "main" cluster for the installed version.
// The package normally does this itself, so on most hosts this is a no-op.
func (p *Debian) InitializeDataStore(ctx context.Context) (bool, error) {
	version, err := p.serverVersion()
	if err != nil {
		return false, err
	}
	need, err := p.needsInit(fmt.Sprintf("%s/%s/main", debianDataDir, version))
	if err != nil || !need {
		return false, err
	}
	if err := p.exec(ctx, executil.Command{Name: "pg_createcluster", Args: []string{version, "main"}}); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Debian) PolicyFilePath() (string, error) {
	path, _, err := newestVersionDir(p.fs, "/etc/postgresql/*/main/pg_hba.conf")
	if err != nil {
		return "", fmt.Errorf("locate pg_hba.conf: %w", err)
	}
	return path, nil
}
