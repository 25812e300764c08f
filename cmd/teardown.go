package cmd

import (
	"github.com/spf13/cobra"

	"devdb-setup/internal/pipeline"
)

// teardownStatePath overrides the state file from the settings.
var teardownStatePath string

// teardownCmd decommissions the environment recorded by an earlier run.
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Decommission the environment recorded in the state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		path := s.StateFile
		if teardownStatePath != "" {
			path = teardownStatePath
		}

		res, err := pipeline.Teardown(cmd.Context(), s, path, productionDeps(s, false))
		exitCode = res.ExitCode
		if err != nil {
			log.Error("Teardown aborted: %v", err)
			return nil
		}
		log.Info("Teardown of run %s finished: %s", res.RunID, res.Status)
		return nil
	},
}

func init() {
	teardownCmd.Flags().StringVar(&teardownStatePath, "state", "", "Path to the run state file (defaults to state_file from the settings)")
}
