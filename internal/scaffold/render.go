package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names.
const (
	ModelsTemplate    = "models.go.tmpl"
	MainTemplate      = "main.go.tmpl"
	MigrationTemplate = "migration.sql.tmpl"
)

// SourceData feeds the application templates.
type SourceData struct {
	AppName string
	DSN     string
}

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// NewEngine initialises an Engine by parsing all embedded templates.
func NewEngine() (*Engine, error) {
	t, err := template.New("render").ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template with the provided data.
func (e *Engine) Render(name string, data any) ([]byte, error) {
	if e == nil || e.templates == nil {
		return nil, fmt.Errorf("nil engine")
	}

	buf := bytes.NewBuffer(nil)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Migration returns the schema template handed to the migration tool.
func (e *Engine) Migration() *template.Template {
	return e.templates.Lookup(MigrationTemplate)
}
