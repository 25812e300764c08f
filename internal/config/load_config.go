package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRecipients is the fixed distribution list for run reports.
var DefaultRecipients = []string{
	"dev-environments@example.com",
	"platform-oncall@example.com",
}

// DefaultSubject is the fixed notification subject.
const DefaultSubject = "Development environment provisioning report"

// Defaults returns the settings used when no file is given.
func Defaults() Settings {
	return Settings{
		WorkDir:   ".",
		LogDir:    ".",
		StateFile: ".devdb-setup-state.json",
		Postgres: PostgresSettings{
			Host:       "127.0.0.1",
			Port:       5432,
			SuperUser:  "postgres",
			AuthMethod: "md5",
		},
		Toolchain: ToolchainSettings{
			Dir:          ".devdb-setup/toolchain",
			ReleaseIndex: "https://go.dev/dl/?mode=json&include=all",
		},
		Report: ReportSettings{
			Subject:      DefaultSubject,
			Recipients:   append([]string(nil), DefaultRecipients...),
			MailCommand:  "mail",
			PollAttempts: 5,
			PollInterval: time.Second,
		},
	}
}

// LoadSettings reads the optional YAML settings file on top of Defaults.
// An empty path returns the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("unmarshal settings %s: %w", path, err)
	}

	// Zero values in the file would disable the bounded poll entirely.
	if s.Report.PollAttempts <= 0 {
		s.Report.PollAttempts = 1
	}
	if len(s.Report.Recipients) == 0 {
		s.Report.Recipients = append([]string(nil), DefaultRecipients...)
	}
	return s, nil
}
