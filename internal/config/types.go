package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/awnumar/memguard" // Keeps the database password out of swappable memory
)

// Inputs are the six operator-supplied values. They arrive either from the
// interactive prompts or from the `inputs:` block of the settings file.
// No field is validated; empty values are accepted as-is.
type Inputs struct {
	DBName           string `yaml:"db_name"`
	DBUser           string `yaml:"db_user"`
	DBPassword       string `yaml:"db_password"`
	ToolchainVersion string `yaml:"toolchain_version"`
	ToolchainURL     string `yaml:"toolchain_url"`
	AppName          string `yaml:"app_name"`
}

// RunConfiguration is the immutable record built once from Inputs at the
// start of a run. The password lives in an encrypted memguard enclave and is
// only decrypted for the moment it is needed.
type RunConfiguration struct {
	dbName           string
	dbUser           string
	password         *memguard.Enclave
	toolchainVersion string
	toolchainURL     string
	appName          string
}

// NewRunConfiguration seals the inputs into a RunConfiguration.
func NewRunConfiguration(in Inputs) *RunConfiguration {
	return &RunConfiguration{
		dbName:           in.DBName,
		dbUser:           in.DBUser,
		password:         memguard.NewEnclave([]byte(in.DBPassword)), // nil for an empty password
		toolchainVersion: in.ToolchainVersion,
		toolchainURL:     in.ToolchainURL,
		appName:          in.AppName,
	}
}

func (c *RunConfiguration) DBName() string           { return c.dbName }
func (c *RunConfiguration) DBUser() string           { return c.dbUser }
func (c *RunConfiguration) ToolchainVersion() string { return c.toolchainVersion }
func (c *RunConfiguration) ToolchainURL() string     { return c.toolchainURL }
func (c *RunConfiguration) AppName() string          { return c.appName }

// Password decrypts and returns a copy of the database password.
func (c *RunConfiguration) Password() (string, error) {
	if c.password == nil {
		return "", nil
	}
	buf, err := c.password.Open()
	if err != nil {
		return "", fmt.Errorf("open password enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// DSN renders the connection string for the collected credentials. The
// generated application embeds it in plain text.
func (c *RunConfiguration) DSN(host string, port int) (string, error) {
	pw, err := c.Password()
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.dbUser, pw),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + c.dbName,
		RawQuery: "sslmode=disable",
	}
	return u.String(), nil
}

// String never includes the password.
func (c *RunConfiguration) String() string {
	return fmt.Sprintf("db=%s user=%s password=*** toolchain=%s url=%s app=%s",
		c.dbName, c.dbUser, c.toolchainVersion, c.toolchainURL, c.appName)
}

// PostgresSettings describes how the provisioned server is reached and
// secured.
type PostgresSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// SuperUser is the OS account that owns the cluster; psql runs as it.
	SuperUser string `yaml:"super_user"`
	// AuthMethod replaces identity-based loopback entries in pg_hba.conf.
	AuthMethod string `yaml:"auth_method"`
}

// ToolchainSettings controls where a downloaded Go toolchain is unpacked.
type ToolchainSettings struct {
	Dir          string `yaml:"dir"`
	ReleaseIndex string `yaml:"release_index"`
}

// ReportSettings controls the notification sent at the end of a run.
type ReportSettings struct {
	Subject      string        `yaml:"subject"`
	Recipients   []string      `yaml:"recipients"`
	MailCommand  string        `yaml:"mail_command"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Disabled     bool          `yaml:"disabled"`
}

// StatusSettings selects how the final status is derived.
type StatusSettings struct {
	// MaskOnAppSuccess restores the legacy behavior: a successful application
	// run resets the status to clean even if provisioning steps failed.
	MaskOnAppSuccess bool `yaml:"mask_on_app_success"`
}

// Settings is everything about a run that is not operator input.
type Settings struct {
	WorkDir       string `yaml:"work_dir"`
	LogDir        string `yaml:"log_dir"`
	StateFile     string `yaml:"state_file"`
	MetricsFile   string `yaml:"metrics_file"`
	MigrationsDir string `yaml:"migrations_dir"`
	// Keep skips the decommission phase.
	Keep bool `yaml:"keep"`

	Postgres  PostgresSettings  `yaml:"postgres"`
	Toolchain ToolchainSettings `yaml:"toolchain"`
	Report    ReportSettings    `yaml:"report"`
	Status    StatusSettings    `yaml:"status"`

	// Inputs pre-answer the prompts for unattended runs.
	Inputs Inputs `yaml:"inputs"`
}
