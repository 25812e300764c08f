package scaffold

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"devdb-setup/internal/logger"
)

// MigrationName is the name of the single schema migration.
const MigrationName = "initial_create"

// Migrator creates and applies schema migrations.
type Migrator interface {
	Create(dir, name string) (string, error)
	Up(ctx context.Context, dsn, dir string) error
}

// gooseLogger routes goose output into the run log. goose calls Fatalf on
// unrecoverable errors; that is logged as an error and never exits.
type gooseLogger struct {
	log *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(strings.TrimSuffix(format, "\n"), v...)
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// GooseMigrator implements Migrator with pressly/goose over the pgx driver.
type GooseMigrator struct {
	tmpl *template.Template
	log  *logger.Logger
}

// NewGooseMigrator returns a Migrator writing SQL migrations from tmpl.
func NewGooseMigrator(tmpl *template.Template, log *logger.Logger) *GooseMigrator {
	return &GooseMigrator{tmpl: tmpl, log: log}
}

func (m *GooseMigrator) configure() error {
	goose.SetLogger(gooseLogger{log: m.log})
	goose.SetSequential(true)
	return goose.SetDialect("postgres")
}

// Create writes the next sequentially numbered SQL migration into dir and
// returns its path.
func (m *GooseMigrator) Create(dir, name string) (string, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := m.configure(); err != nil {
		return "", err
	}
	if err := goose.CreateWithTemplate(nil, dir, m.tmpl, name, "sql"); err != nil {
		return "", fmt.Errorf("create migration %s: %w", name, err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+name+".sql"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("migration %s not found in %s after create", name, dir)
	}
	return matches[len(matches)-1], nil
}

// Up applies every pending migration in dir.
func (m *GooseMigrator) Up(ctx context.Context, dsn, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := m.configure(); err != nil {
		return err
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return goose.UpContext(ctx, db, dir)
}
