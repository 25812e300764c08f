package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh" // Terminal form with hidden password input
	"github.com/mattn/go-isatty"   // Decides between the form and plain line prompts
)

// Field keys, in prompt order.
const (
	KeyDBName           = "db_name"
	KeyDBUser           = "db_user"
	KeyDBPassword       = "db_password"
	KeyToolchainVersion = "toolchain_version"
	KeyToolchainURL     = "toolchain_url"
	KeyAppName          = "app_name"
)

// Field is one prompt.
type Field struct {
	Key    string
	Title  string
	Secret bool
}

// Fields lists the six prompts in the order they are asked.
var Fields = []Field{
	{Key: KeyDBName, Title: "Database name"},
	{Key: KeyDBUser, Title: "Database user"},
	{Key: KeyDBPassword, Title: "Database password", Secret: true},
	{Key: KeyToolchainVersion, Title: "Go toolchain version (optional)"},
	{Key: KeyToolchainURL, Title: "Go toolchain download URL (optional)"},
	{Key: KeyAppName, Title: "Application name"},
}

// Prompter asks the operator for the given fields and stores the answers
// under each field's key.
type Prompter interface {
	Prompt(ctx context.Context, fields []Field, answers map[string]string) error
}

// NewPrompter returns a huh form when in is a terminal and a line reader
// otherwise.
func NewPrompter(in *os.File, out io.Writer) Prompter {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return &FormPrompter{input: in, output: out}
	}
	return NewLinePrompter(in, out)
}

// FormPrompter renders all fields as a single huh form. The password field
// uses EchoModePassword so it is never echoed.
type FormPrompter struct {
	input  io.Reader
	output io.Writer
}

// Prompt runs the form.
func (p *FormPrompter) Prompt(ctx context.Context, fields []Field, answers map[string]string) error {
	values := make([]string, len(fields))
	inputs := make([]huh.Field, 0, len(fields))
	for i, f := range fields {
		in := huh.NewInput().Title(f.Title).Value(&values[i])
		if f.Secret {
			in = in.EchoMode(huh.EchoModePassword)
		}
		inputs = append(inputs, in)
	}

	form := huh.NewForm(huh.NewGroup(inputs...)).WithInput(p.input).WithOutput(p.output)
	if err := form.RunWithContext(ctx); err != nil {
		return fmt.Errorf("prompt form: %w", err)
	}
	for i, f := range fields {
		answers[f.Key] = values[i]
	}
	return nil
}

// LinePrompter reads one newline-terminated answer per field. It is used for
// piped stdin, where hiding input is not possible nor needed.
type LinePrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewLinePrompter wraps r and w.
func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{reader: bufio.NewReader(r), writer: w}
}

// Prompt reads answers in field order.
func (p *LinePrompter) Prompt(ctx context.Context, fields []Field, answers map[string]string) error {
	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(p.writer, "%s: ", f.Title)
		line, err := p.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read %s: %w", f.Key, err)
		}
		if f.Secret {
			fmt.Fprintln(p.writer)
		}
		answers[f.Key] = strings.TrimRight(line, "\r\n")
	}
	return nil
}

// Collector produces the RunConfiguration from preset values and prompts.
type Collector struct {
	prompter Prompter
}

// NewCollector returns a Collector using p. A nil prompter means
// unattended: only preset values are used.
func NewCollector(p Prompter) *Collector {
	return &Collector{prompter: p}
}

// Collect asks for every field that has no preset value. Values are not
// validated; an empty database name or weak password is accepted as-is.
func (c *Collector) Collect(ctx context.Context, preset Inputs) (*RunConfiguration, error) {
	answers := map[string]string{
		KeyDBName:           preset.DBName,
		KeyDBUser:           preset.DBUser,
		KeyDBPassword:       preset.DBPassword,
		KeyToolchainVersion: preset.ToolchainVersion,
		KeyToolchainURL:     preset.ToolchainURL,
		KeyAppName:          preset.AppName,
	}

	if c.prompter != nil {
		var missing []Field
		for _, f := range Fields {
			if answers[f.Key] == "" {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			if err := c.prompter.Prompt(ctx, missing, answers); err != nil {
				return nil, err
			}
		}
	}

	cfg := NewRunConfiguration(Inputs{
		DBName:           answers[KeyDBName],
		DBUser:           answers[KeyDBUser],
		DBPassword:       answers[KeyDBPassword],
		ToolchainVersion: answers[KeyToolchainVersion],
		ToolchainURL:     answers[KeyToolchainURL],
		AppName:          answers[KeyAppName],
	})
	answers[KeyDBPassword] = ""
	return cfg, nil
}
