package platform

import (
	"context"

	"github.com/spf13/afero"

	"devdb-setup/internal/executil"
)

const (
	rhelDataDir    = "/var/lib/pgsql"
	rhelClusterDir = "/var/lib/pgsql/data"
)

var rhelPackages = []string{"postgresql-server", "postgresql-contrib"}

// RHEL covers Red Hat, Fedora, CentOS and Rocky hosts.
type RHEL struct {
	host
}

func (p *RHEL) Family() Family { return FamilyRHEL }

// packageManager prefers dnf and falls back to yum on older releases.
func (p *RHEL) packageManager() string {
	if ok, _ := afero.Exists(p.fs, "/usr/bin/dnf"); ok {
		return "dnf"
	}
	return "yum"
}

func (p *RHEL) InstallPackages(ctx context.Context) error {
	args := append([]string{"install", "-y"}, rhelPackages...)
	return p.exec(ctx, executil.Command{Name: p.packageManager(), Args: args})
}

func (p *RHEL) RemovePackages(ctx context.Context) error {
	args := append([]string{"remove", "-y"}, rhelPackages...)
	args = append(args, "postgresql")
	return p.exec(ctx, executil.Command{Name: p.packageManager(), Args: args})
}

func (p *RHEL) DataDir() string { return rhelDataDir }

func (p *RHEL) InitializeDataStore(ctx context.Context) (bool, error) {
	need, err := p.needsInit(rhelClusterDir)
	if err != nil || !need {
		return false, err
	}
	if err := p.exec(ctx, executil.Command{Name: "postgresql-setup", Args: []string{"--initdb"}}); err != nil {
		return false, err
	}
	return true, nil
}

func (p *RHEL) PolicyFilePath() (string, error) {
	return rhelClusterDir + "/pg_hba.conf", nil
}
