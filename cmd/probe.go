package cmd

import (
	"errors"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"devdb-setup/internal/executil"
	"devdb-setup/internal/exitcodes"
	"devdb-setup/internal/platform"
)

// probeCmd reports what the prober detects without changing anything.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Detect the host distribution and show where PostgreSQL lives",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := platform.Probe(afero.NewOsFs(), executil.NewOSRunner(), io.Discard)
		if errors.Is(err, platform.ErrUnsupported) {
			log.Error("%v", err)
			exitCode = exitcodes.Unsupported
			return nil
		}
		if err != nil {
			return err
		}

		log.Info("Distribution: %s", profile.Description())
		log.Info("Family:       %s", profile.Family())
		log.Info("Service:      %s", profile.ServiceName())
		log.Info("Data dir:     %s", profile.DataDir())
		if path, err := profile.PolicyFilePath(); err != nil {
			log.Warn("Policy file:  %v", err)
		} else {
			log.Info("Policy file:  %s", path)
		}
		return nil
	},
}
