package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"devdb-setup/internal/config"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/exitcodes"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/pipeline"
	"devdb-setup/internal/provisioner"
	"devdb-setup/internal/runner"
	"devdb-setup/internal/toolchain"
)

// debug flag indicates whether debug logging should be enabled.
// It can be toggled via the `--debug` command-line flag.
var debug bool

// configPath holds the path to the optional settings YAML file.
var configPath string

// log is created in PersistentPreRun once flags are parsed.
var log *logger.Logger

// exitCode is set by subcommands that finish without a Go error.
var exitCode = exitcodes.Success

// rootCmd is the base command for the CLI tool `devdb-setup`.
// Run without a subcommand it only prints help.
var rootCmd = &cobra.Command{
	Use:          "devdb-setup",
	Short:        "Provision a PostgreSQL development environment and a sample application",
	SilenceUsage: true,

	// PersistentPreRun is a hook that runs before any subcommand.
	// Here, we initialize the logger based on the debug flag.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(os.Stdout, debug)
	},
}

// Execute registers flags and subcommands, runs the CLI and returns the
// process exit code.
func Execute() int {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the settings YAML file")

	rootCmd.AddCommand(runCmd, probeCmd, teardownCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return exitcodes.InvalidInput
	}
	return exitCode
}

// loadSettings reads the settings file named by --config.
func loadSettings() (config.Settings, error) {
	s, err := config.LoadSettings(configPath)
	if err != nil {
		return s, err
	}
	log.Debug("Loaded settings from %q", configPath)
	return s, nil
}

// productionDeps wires the real command runner, filesystem and database
// clients. interactive enables prompting for missing inputs.
func productionDeps(s config.Settings, interactive bool) pipeline.Deps {
	d := pipeline.Deps{
		FS:        afero.NewOsFs(),
		Runner:    executil.NewOSRunner(),
		Log:       log,
		Verifier:  provisioner.NewVerifier(),
		Inspector: runner.NewGormInspector(runner.DefaultInspectTimeout),
		Toolchain: toolchain.NewInstaller(s.Toolchain, log),
	}
	if interactive {
		d.Prompter = config.NewPrompter(os.Stdin, os.Stdout)
	}
	return d
}
