package main

import (
	"os"

	"devdb-setup/cmd" // Import the cmd package which contains the CLI commands and execution logic
)

// main is the program entry point.
// It delegates to cmd.Execute() which handles command line argument parsing and execution,
// and exits with the code it returns.
//
// The devdb-setup project provisions a disposable PostgreSQL development environment:
//   - Detects the host distribution (RHEL or Debian family) from marker files
//   - Collects the database name, credentials, toolchain and application name
//   - Installs and configures PostgreSQL: cluster, database, role, privileges and
//     password authentication on loopback connections
//   - Scaffolds a small gorm application with a goose migration and runs it
//   - Mails the outcome summary and execution log, then tears everything down
//
// Error handling strategy:
//   - Every step records an outcome and the next step is always attempted,
//     so one run reports as many problems as possible
//   - The exit code reflects the final status: 0 clean, 1 errors occurred,
//     2 unusable settings or input, 3 unsupported distribution
func main() {
	os.Exit(cmd.Execute())
}
