// Package provisioner installs and configures the PostgreSQL service for a
// run: packages, guarded cluster initialization, service start, database,
// role, privileges, client-authentication policy and a final login check.
//
// Every step records one outcome in the run ledger and the sequence never
// stops early; a failed step is logged and the next one is attempted.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5" // Identifier quoting for generated SQL
	"github.com/spf13/afero"

	"devdb-setup/internal/config"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/platform"
	"devdb-setup/internal/runstatus"
)

// ErrObjectExists marks a CREATE that failed only because the object is
// already there.
var ErrObjectExists = errors.New("object already exists")

// Step names as they appear in the run report.
const (
	StepInstall        = "install-packages"
	StepInitialize     = "initialize-data-store"
	StepStart          = "start-service"
	StepCreateDatabase = "create-database"
	StepCreateRole     = "create-role"
	StepGrant          = "grant-privileges"
	StepPolicy         = "update-auth-policy"
	StepRestart        = "restart-service"
	StepVerify         = "verify-login"
)

// LoginVerifier checks that the provisioned credentials work.
type LoginVerifier interface {
	Verify(ctx context.Context, dsn, user string) error
}

// Provisioner runs the service provisioning phase.
type Provisioner struct {
	profile  platform.Profile
	run      executil.Runner
	fs       afero.Fs
	log      *logger.Logger
	ledger   *runstatus.Ledger
	pg       config.PostgresSettings
	verifier LoginVerifier
}

// New returns a Provisioner. profile may be nil when the host is
// unsupported; every step is then recorded as skipped. verifier may be nil
// to skip the login check.
func New(profile platform.Profile, run executil.Runner, fs afero.Fs, log *logger.Logger,
	ledger *runstatus.Ledger, pg config.PostgresSettings, verifier LoginVerifier) *Provisioner {
	return &Provisioner{
		profile:  profile,
		run:      run,
		fs:       fs,
		log:      log,
		ledger:   ledger,
		pg:       pg,
		verifier: verifier,
	}
}

// Provision executes every step in order.
func (p *Provisioner) Provision(ctx context.Context, cfg *config.RunConfiguration) {
	// Without a profile there is nothing to run, but the report still lists
	// every step
	if p.profile == nil {
		p.log.Warn("No supported OS profile; skipping service provisioning")
		for _, s := range []string{StepInstall, StepInitialize, StepStart, StepCreateDatabase,
			StepCreateRole, StepGrant, StepPolicy, StepRestart, StepVerify} {
			p.ledger.Skip(runstatus.PhaseProvision, s, platform.ErrUnsupported.Error())
		}
		return
	}

	p.log.Info("Provisioning PostgreSQL on %s", p.profile.Description())

	// Install the server and client packages
	p.step(StepInstall, runstatus.KindPackageInstallFailure, func() error {
		return p.profile.InstallPackages(ctx)
	})

	// Initialize the cluster only when the data directory is still empty
	p.log.Info("Checking data store before initialization")
	did, err := p.profile.InitializeDataStore(ctx)
	switch {
	case err != nil:
		p.fail(StepInitialize, runstatus.KindServiceControlFailure, err)
	case did:
		p.log.Info("Initialized data store under %s", p.profile.DataDir())
		p.ledger.OK(runstatus.PhaseProvision, StepInitialize, "initialized")
	default:
		p.log.Info("Data store already initialized; leaving it untouched")
		p.ledger.Skip(runstatus.PhaseProvision, StepInitialize, "already initialized")
	}

	// Enable the service at boot and start it now
	p.step(StepStart, runstatus.KindServiceControlFailure, func() error {
		return p.profile.ServiceControl(ctx, "enable", "--now")
	})

	// Create the database; an existing one is only noted
	p.create(ctx, StepCreateDatabase, "postgres",
		fmt.Sprintf("CREATE DATABASE %s;", quoteIdent(cfg.DBName())))

	// Create the login role with the password held in the enclave
	password, err := cfg.Password()
	if err != nil {
		p.fail(StepCreateRole, runstatus.KindDatabaseObjectFailure, err)
	} else {
		p.create(ctx, StepCreateRole, "postgres",
			fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s;", quoteIdent(cfg.DBUser()), quoteLiteral(password)))
	}

	// Give the role full access to the database and its public schema
	p.step(StepGrant, runstatus.KindDatabaseObjectFailure, func() error {
		role := quoteIdent(cfg.DBUser())
		if err := p.psql(ctx, "postgres",
			fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s;", quoteIdent(cfg.DBName()), role)); err != nil {
			return err
		}
		// PostgreSQL 15 and later no longer let every role create objects in
		// the public schema, which the migration needs.
		return p.psql(ctx, cfg.DBName(), fmt.Sprintf("GRANT ALL ON SCHEMA public TO %s;", role))
	})

	// Switch loopback rules from identity-based to password authentication
	p.step(StepPolicy, runstatus.KindPolicyFileUpdateFailure, func() error {
		path, err := p.profile.PolicyFilePath()
		if err != nil {
			return err
		}
		changed, err := UpdatePolicyFile(p.fs, path, p.pg.AuthMethod)
		if err != nil {
			return err
		}
		if changed == 0 {
			p.log.Info("%s has no identity-based loopback rules left", path)
		} else {
			p.log.Info("Switched %d loopback rule(s) in %s to %s", changed, path, p.pg.AuthMethod)
		}
		return nil
	})

	// Restart so the new policy takes effect
	p.step(StepRestart, runstatus.KindServiceControlFailure, func() error {
		return p.profile.ServiceControl(ctx, "restart")
	})

	// Finally log in with the new credentials over TCP
	if p.verifier == nil {
		p.ledger.Skip(runstatus.PhaseProvision, StepVerify, "login check disabled")
		return
	}
	p.step(StepVerify, runstatus.KindDatabaseObjectFailure, func() error {
		dsn, err := cfg.DSN(p.pg.Host, p.pg.Port)
		if err != nil {
			return err
		}
		return p.verifier.Verify(ctx, dsn, cfg.DBUser())
	})
}

// step runs fn and records OK or a fatal outcome of kind.
func (p *Provisioner) step(name string, kind runstatus.Kind, fn func() error) {
	p.log.Info("Running %s", name)
	if err := fn(); err != nil {
		p.fail(name, kind, err)
		return
	}
	p.ledger.OK(runstatus.PhaseProvision, name, "")
}

func (p *Provisioner) fail(name string, kind runstatus.Kind, err error) {
	p.log.Error("%s failed: %v", name, err)
	p.ledger.Fail(runstatus.PhaseProvision, name, kind, err)
}

// create runs a CREATE statement. A pre-existing object is expected on
// re-runs and only noted.
func (p *Provisioner) create(ctx context.Context, name, database, sql string) {
	p.log.Info("Running %s", name)
	err := p.psql(ctx, database, sql)
	switch {
	case err == nil:
		p.ledger.OK(runstatus.PhaseProvision, name, "")
	case errors.Is(err, ErrObjectExists):
		p.log.Warn("%s: %v (continuing)", name, err)
		p.ledger.Note(runstatus.PhaseProvision, name, runstatus.KindDatabaseObjectExists, err.Error())
	default:
		p.fail(name, runstatus.KindDatabaseObjectFailure, err)
	}
}

// psql executes sql as the cluster superuser. SQL travels on stdin so the
// password never shows up in the process list or the log.
func (p *Provisioner) psql(ctx context.Context, database, sql string) error {
	res, err := p.run.Run(ctx, executil.Command{
		Name:   "psql",
		Args:   []string{"-X", "-q", "-v", "ON_ERROR_STOP=1", "-d", database},
		Dir:    "/",
		Stdin:  []byte(sql),
		AsUser: p.pg.SuperUser,
	})
	if err == nil {
		return nil
	}
	if strings.Contains(res.Text(), "already exists") {
		return fmt.Errorf("%s: %w", res.Text(), ErrObjectExists)
	}
	return err
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
