// Package scaffold generates the sample data-access application: Go sources
// from embedded templates, a module with its library and tool dependencies,
// and the initial schema migration applied to the provisioned database.
//
// Steps keep going after a failure, so one broken step usually cascades
// into failures of the steps that depend on it. Each one is recorded.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"devdb-setup/internal/config"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/runstatus"
	"devdb-setup/internal/toolchain"
)

// Step names as they appear in the run report.
const (
	StepToolchain       = "resolve-toolchain"
	StepRender          = "render-sources"
	StepModuleInit      = "module-init"
	StepLibraries       = "add-libraries"
	StepMigrationTool   = "install-migration-tool"
	StepCreateMigration = "create-migration"
	StepTidy            = "tidy-modules"
	StepApplyMigration  = "apply-migration"
)

// Module paths added to the generated application.
const (
	GormModule     = "gorm.io/gorm"
	PostgresDriver = "gorm.io/driver/postgres"
	GooseTool      = "github.com/pressly/goose/v3/cmd/goose"
)

// ErrNoAppName is recorded when the operator left the application name empty.
var ErrNoAppName = errors.New("application name is empty")

// ToolchainResolver yields the go binary for a run.
type ToolchainResolver interface {
	Resolve(ctx context.Context, version, url string) (toolchain.Toolchain, error)
}

// Artifacts locates what a scaffold run produced.
type Artifacts struct {
	AppDir        string
	MigrationsDir string
	Migration     string
	Toolchain     toolchain.Toolchain
}

// Scaffolder runs the application scaffolding phase.
type Scaffolder struct {
	run       executil.Runner
	fs        afero.Fs
	log       *logger.Logger
	ledger    *runstatus.Ledger
	engine    *Engine
	toolchain ToolchainResolver
	migrator  Migrator
	settings  config.Settings
}

// New returns a Scaffolder.
func New(run executil.Runner, fs afero.Fs, log *logger.Logger, ledger *runstatus.Ledger,
	engine *Engine, tc ToolchainResolver, migrator Migrator, settings config.Settings) *Scaffolder {
	return &Scaffolder{
		run:       run,
		fs:        fs,
		log:       log,
		ledger:    ledger,
		engine:    engine,
		toolchain: tc,
		migrator:  migrator,
		settings:  settings,
	}
}

// Paths returns the application and migrations directories for appName.
func Paths(s config.Settings, appName string) (appDir, migrationsDir string) {
	appDir = filepath.Join(s.WorkDir, appName)
	migrationsDir = s.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = filepath.Join(appDir, "migrations")
	}
	return appDir, migrationsDir
}

// Scaffold generates, prepares and migrates the application.
// An empty application name fails the phase without touching the disk,
// since the application directory would be the working directory itself.
func (s *Scaffolder) Scaffold(ctx context.Context, cfg *config.RunConfiguration) Artifacts {
	if cfg.AppName() == "" {
		s.fail(StepRender, runstatus.KindScaffoldGenerationFailure, ErrNoAppName)
		return Artifacts{}
	}
	appDir, migrationsDir := Paths(s.settings, cfg.AppName())
	art := Artifacts{AppDir: appDir, MigrationsDir: migrationsDir}
	s.log.Info("Scaffolding application %s in %s", cfg.AppName(), appDir)

	// Pick the go binary: the one on PATH, or a downloaded release
	art.Toolchain = s.resolveToolchain(ctx, cfg)
	gobin := art.Toolchain.GoBinary

	// Render models.go and main.go with the connection string baked in
	pg := s.settings.Postgres
	dsn, dsnErr := cfg.DSN(pg.Host, pg.Port)

	if dsnErr != nil {
		s.fail(StepRender, runstatus.KindScaffoldGenerationFailure, dsnErr)
	} else if err := s.render(appDir, SourceData{AppName: cfg.AppName(), DSN: dsn}); err != nil {
		s.fail(StepRender, runstatus.KindScaffoldGenerationFailure, err)
	} else {
		s.ledger.OK(runstatus.PhaseScaffold, StepRender, "models.go, main.go")
	}

	// Initialize the module unless a previous run already did
	if ok, _ := afero.Exists(s.fs, filepath.Join(appDir, "go.mod")); ok {
		s.ledger.Skip(runstatus.PhaseScaffold, StepModuleInit, "go.mod already exists")
	} else {
		s.goStep(ctx, StepModuleInit, runstatus.KindScaffoldGenerationFailure, gobin, appDir, art.Toolchain, "mod", "init", cfg.AppName())
	}

	// Add the ORM and its PostgreSQL driver
	s.goStep(ctx, StepLibraries, runstatus.KindDependencyInstallFailure, gobin, appDir, art.Toolchain, "get", GormModule, PostgresDriver)

	// Register goose as a module tool and check that it runs
	if _, err := s.goCmd(ctx, gobin, appDir, art.Toolchain, "get", "-tool", GooseTool); err != nil {
		s.fail(StepMigrationTool, runstatus.KindDependencyInstallFailure, err)
	} else if res, err := s.goCmd(ctx, gobin, appDir, art.Toolchain, "tool", "goose", "-version"); err != nil {
		s.fail(StepMigrationTool, runstatus.KindDependencyInstallFailure, fmt.Errorf("verify migration tool: %w", err))
	} else {
		s.ledger.OK(runstatus.PhaseScaffold, StepMigrationTool, res.Text())
	}

	// Create the schema migration, reusing one left by an earlier run
	art.Migration = s.createMigration(migrationsDir)

	// Resolve the full dependency graph before the first build
	s.goStep(ctx, StepTidy, runstatus.KindDependencyInstallFailure, gobin, appDir, art.Toolchain, "mod", "tidy")

	// Apply pending migrations to the provisioned database
	s.log.Info("Applying migrations from %s", migrationsDir)
	if dsnErr != nil {
		s.fail(StepApplyMigration, runstatus.KindMigrationFailure, dsnErr)
	} else if err := s.migrator.Up(ctx, dsn, migrationsDir); err != nil {
		s.fail(StepApplyMigration, runstatus.KindMigrationFailure, err)
	} else {
		s.ledger.OK(runstatus.PhaseScaffold, StepApplyMigration, migrationsDir)
	}
	return art
}

func (s *Scaffolder) resolveToolchain(ctx context.Context, cfg *config.RunConfiguration) toolchain.Toolchain {
	tc, err := s.toolchain.Resolve(ctx, cfg.ToolchainVersion(), cfg.ToolchainURL())
	if err != nil {
		s.fail(StepToolchain, runstatus.KindDependencyInstallFailure, err)
		return toolchain.Toolchain{GoBinary: "go"}
	}
	s.ledger.OK(runstatus.PhaseToolchain, StepToolchain, tc.GoBinary)
	return tc
}

// render writes the application sources into appDir.
func (s *Scaffolder) render(appDir string, data SourceData) error {
	if err := s.fs.MkdirAll(appDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", appDir, err)
	}
	for file, tmpl := range map[string]string{"models.go": ModelsTemplate, "main.go": MainTemplate} {
		body, err := s.engine.Render(tmpl, data)
		if err != nil {
			return fmt.Errorf("render %s: %w", file, err)
		}
		path := filepath.Join(appDir, file)
		if err := afero.WriteFile(s.fs, path, body, 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		s.log.Debug("Wrote %s", path)
	}
	return nil
}

// createMigration generates the schema migration unless one already exists
// and returns its path.
func (s *Scaffolder) createMigration(dir string) string {
	existing, err := afero.Glob(s.fs, filepath.Join(dir, "*_"+MigrationName+".sql"))
	if err == nil && len(existing) > 0 {
		s.ledger.Skip(runstatus.PhaseScaffold, StepCreateMigration, "migration already exists: "+filepath.Base(existing[0]))
		return existing[0]
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		s.fail(StepCreateMigration, runstatus.KindMigrationFailure, err)
		return ""
	}
	path, err := s.migrator.Create(dir, MigrationName)
	if err != nil {
		s.fail(StepCreateMigration, runstatus.KindMigrationFailure, err)
		return ""
	}
	s.ledger.OK(runstatus.PhaseScaffold, StepCreateMigration, path)
	return path
}

func (s *Scaffolder) goCmd(ctx context.Context, gobin, dir string, tc toolchain.Toolchain, args ...string) (executil.Result, error) {
	c := executil.Command{Name: gobin, Args: args, Dir: dir, Stream: s.log.Writer()}
	if tc.Root != "" {
		c.Env = []string{"GOTOOLCHAIN=local", "PATH=" + filepath.Dir(gobin) + string(os.PathListSeparator) + os.Getenv("PATH")}
	}
	s.log.Info("Running %s", c)
	return s.run.Run(ctx, c)
}

func (s *Scaffolder) goStep(ctx context.Context, step string, kind runstatus.Kind, gobin, dir string, tc toolchain.Toolchain, args ...string) {
	if _, err := s.goCmd(ctx, gobin, dir, tc, args...); err != nil {
		s.fail(step, kind, err)
		return
	}
	s.ledger.OK(runstatus.PhaseScaffold, step, "")
}

func (s *Scaffolder) fail(step string, kind runstatus.Kind, err error) {
	phase := runstatus.PhaseScaffold
	if step == StepToolchain {
		phase = runstatus.PhaseToolchain
	}
	s.log.Error("%s failed: %v", step, err)
	s.ledger.Fail(phase, step, kind, err)
}
