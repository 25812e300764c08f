package runner

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SchemaReport is what the inspector saw in the database after the
// application exited.
type SchemaReport struct {
	Tables   map[string]bool
	BlogRows int64
}

// Inspector examines the application's schema.
type Inspector interface {
	Inspect(ctx context.Context, dsn string) (SchemaReport, error)
}

// DefaultInspectTimeout bounds the whole inspection.
const DefaultInspectTimeout = 15 * time.Second

// ExpectedTables are created by the initial migration.
var ExpectedTables = []string{"blogs", "posts"}

// GormInspector implements Inspector with a short-lived gorm session.
type GormInspector struct {
	timeout time.Duration
}

// NewGormInspector returns an Inspector bounded by timeout.
func NewGormInspector(timeout time.Duration) *GormInspector {
	return &GormInspector{timeout: timeout}
}

// Inspect opens dsn and reports table presence and the blog row count.
func (g *GormInspector) Inspect(ctx context.Context, dsn string) (SchemaReport, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return SchemaReport{}, fmt.Errorf("connect: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return SchemaReport{}, err
	}
	defer sqlDB.Close()

	db := database.WithContext(ctx)
	report := SchemaReport{Tables: map[string]bool{}}
	for _, table := range ExpectedTables {
		report.Tables[table] = db.Migrator().HasTable(table)
	}
	if report.Tables["blogs"] {
		if err := db.Table("blogs").Count(&report.BlogRows).Error; err != nil {
			return report, fmt.Errorf("count blogs: %w", err)
		}
	}
	return report, nil
}

// evaluate turns a report into the problems worth a warning.
func evaluate(r SchemaReport) []string {
	var problems []string
	for _, table := range ExpectedTables {
		if !r.Tables[table] {
			problems = append(problems, fmt.Sprintf("table %s is missing", table))
		}
	}
	if r.BlogRows != 0 {
		problems = append(problems, fmt.Sprintf("blogs holds %d rows after the smoke sequence, want 0", r.BlogRows))
	}
	return problems
}
