package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"devdb-setup/internal/runstatus"
)

// RunReport is the structured record of a run written next to the log.
type RunReport struct {
	RunID            string                               `yaml:"run_id"`
	Host             string                               `yaml:"host"`
	Started          string                               `yaml:"started"`
	Finished         string                               `yaml:"finished"`
	Status           runstatus.Status                     `yaml:"status"`
	MaskOnAppSuccess bool                                 `yaml:"mask_on_app_success"`
	LogFile          string                               `yaml:"log_file"`
	Phases           map[runstatus.Phase]runstatus.Status `yaml:"phases"`
	Outcomes         []runstatus.Outcome                  `yaml:"outcomes"`
}

// BuildReport snapshots the ledger for info.
func BuildReport(info RunInfo, ledger *runstatus.Ledger) RunReport {
	phases := make(map[runstatus.Phase]runstatus.Status, len(runstatus.Phases))
	for _, p := range runstatus.Phases {
		phases[p] = ledger.PhaseStatus(p)
	}
	return RunReport{
		RunID:            info.RunID,
		Host:             info.Host,
		Started:          info.Started.Format(time.RFC3339),
		Finished:         info.Finished.Format(time.RFC3339),
		Status:           info.Status,
		MaskOnAppSuccess: ledger.MaskOnAppSuccess(),
		LogFile:          info.LogFile,
		Phases:           phases,
		Outcomes:         ledger.Outcomes(),
	}
}

// ReportPath derives the report file name from the log file name.
func ReportPath(logFile string) string {
	return strings.TrimSuffix(logFile, ".log") + ".report.yaml"
}

// WriteReport marshals rep to path.
func WriteReport(fs afero.Fs, path string, rep RunReport) error {
	out, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := afero.WriteFile(fs, path, out, 0644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// WriteMetrics writes a node_exporter textfile with one gauge per phase and
// severity plus the overall result.
func WriteMetrics(path string, info RunInfo, ledger *runstatus.Ledger) error {
	reg := prometheus.NewRegistry()

	outcomes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devdb_setup",
		Name:      "outcomes",
		Help:      "Outcomes recorded in the last run by phase and severity.",
	}, []string{"phase", "severity"})
	clean := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devdb_setup",
		Name:      "run_clean",
		Help:      "1 when the last run finished without a counting fatal outcome.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devdb_setup",
		Name:      "run_finished_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})
	reg.MustRegister(outcomes, clean, finished)

	for _, p := range runstatus.Phases {
		for _, s := range []runstatus.Severity{runstatus.SeverityInfo, runstatus.SeverityWarning, runstatus.SeverityFatal} {
			outcomes.WithLabelValues(string(p), string(s)).Set(float64(ledger.Count(p, s)))
		}
	}
	if info.Status == runstatus.Clean {
		clean.Set(1)
	}
	finished.Set(float64(info.Finished.Unix()))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
