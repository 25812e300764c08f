package cmd

import (
	"github.com/spf13/cobra"

	"devdb-setup/internal/pipeline"
)

var (
	nonInteractive bool
	keep           bool
	noMail         bool
)

// runCmd provisions, scaffolds, runs, reports and decommissions in one go.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the database, build and run the sample application, then report and clean up",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if keep {
			s.Keep = true
		}
		if noMail {
			s.Report.Disabled = true
		}

		res, err := pipeline.Run(cmd.Context(), s, productionDeps(s, !nonInteractive))
		exitCode = res.ExitCode
		if err != nil {
			log.Error("Run aborted: %v", err)
			return nil
		}
		log.Info("Run %s finished: %s (exit %d)", res.RunID, res.Status, res.ExitCode)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; use inputs from the settings file only")
	runCmd.Flags().BoolVar(&keep, "keep", false, "Keep the environment instead of decommissioning it")
	runCmd.Flags().BoolVar(&noMail, "no-mail", false, "Do not send the notification mail")
}
