// Package report tells people how a run went: a mail notification with the
// outcome summary and the full execution log, plus a YAML run report and an
// optional Prometheus textfile for machines.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"devdb-setup/internal/config"
	"devdb-setup/internal/executil"
	"devdb-setup/internal/logger"
	"devdb-setup/internal/runstatus"
)

// Step names as they appear in the run report.
const (
	StepWaitForLog = "wait-for-log"
	StepDeliver    = "deliver-notification"
)

// Preambles open the notification body.
const (
	SuccessPreamble = "The development environment was provisioned and the sample application ran successfully."
	ErrorPreamble   = "Errors occurred while provisioning the development environment. The failed steps are listed below, followed by the full execution log."
)

// ErrLogEmpty is returned when the log file stays empty for every poll.
var ErrLogEmpty = errors.New("execution log is still empty")

// Notification is the message sent at the end of a run.
type Notification struct {
	Subject    string
	Recipients []string
	Body       string
}

// RunInfo identifies the run being reported.
type RunInfo struct {
	RunID    string
	Host     string
	Started  time.Time
	Finished time.Time
	// Status is captured before reporting; delivery problems never change it.
	Status  runstatus.Status
	LogFile string
}

// Reporter composes and delivers the notification.
type Reporter struct {
	run      executil.Runner
	fs       afero.Fs
	log      *logger.Logger
	ledger   *runstatus.Ledger
	settings config.ReportSettings
}

// New returns a Reporter.
func New(run executil.Runner, fs afero.Fs, log *logger.Logger, ledger *runstatus.Ledger, settings config.ReportSettings) *Reporter {
	return &Reporter{run: run, fs: fs, log: log, ledger: ledger, settings: settings}
}

// WaitForLog polls until the file at path is non-empty, trying at most the
// configured number of times with a fixed interval between attempts.
func (r *Reporter) WaitForLog(ctx context.Context, path string) error {
	attempts := max(r.settings.PollAttempts, 1)
	for i := 1; ; i++ {
		if info, err := r.fs.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
		if i >= attempts {
			return fmt.Errorf("%w after %d attempts: %s", ErrLogEmpty, attempts, path)
		}
		r.log.Debug("Log file %s is empty, retry %d/%d", path, i, attempts)

		t := time.NewTimer(r.settings.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Compose builds the notification for info from the ledger and transcript.
func (r *Reporter) Compose(info RunInfo, transcript string) Notification {
	var b strings.Builder
	if info.Status == runstatus.Clean {
		b.WriteString(SuccessPreamble)
	} else {
		b.WriteString(ErrorPreamble)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Run:      %s\n", info.RunID)
	fmt.Fprintf(&b, "Host:     %s\n", info.Host)
	fmt.Fprintf(&b, "Started:  %s\n", info.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:   %s\n", info.Status)
	if r.ledger.MaskOnAppSuccess() {
		b.WriteString("Mode:     failures before a successful application run are masked\n")
	}
	b.WriteString("\n")
	b.WriteString(SummaryTable(r.ledger.Outcomes()))

	fmt.Fprintf(&b, "\n----- Execution log: %s -----\n", info.LogFile)
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}

	return Notification{
		Subject:    r.settings.Subject,
		Recipients: append([]string(nil), r.settings.Recipients...),
		Body:       b.String(),
	}
}

// SummaryTable renders outcomes one per line under a header.
func SummaryTable(outcomes []runstatus.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-28s %-28s %s\n", "PHASE", "STEP", "RESULT", "SEVERITY")
	for _, o := range outcomes {
		b.WriteString(o.String())
		b.WriteString("\n")
	}
	return b.String()
}

// Deliver hands n to the mail command with the body on stdin. A failure is
// recorded as a warning and returned; it is never retried.
func (r *Reporter) Deliver(ctx context.Context, n Notification) error {
	args := append([]string{"-s", n.Subject}, n.Recipients...)
	_, err := r.run.Run(ctx, executil.Command{Name: r.settings.MailCommand, Args: args, Stdin: []byte(n.Body)})
	if err != nil {
		r.log.Warn("Failed to deliver notification: %v", err)
		r.ledger.Warn(runstatus.PhaseReport, StepDeliver, runstatus.KindNotificationDelivery, err)
		return err
	}
	r.log.Info("Notification sent to %s", strings.Join(n.Recipients, ", "))
	r.ledger.OK(runstatus.PhaseReport, StepDeliver, strings.Join(n.Recipients, ","))
	return nil
}

// Notify waits for the log, composes and delivers the notification. The
// transcript falls back to the in-memory copy when the file cannot be read.
func (r *Reporter) Notify(ctx context.Context, info RunInfo) Notification {
	transcript := r.log.Transcript()
	if info.LogFile != "" {
		if err := r.WaitForLog(ctx, info.LogFile); err != nil {
			r.log.Warn("%v", err)
			r.ledger.Warn(runstatus.PhaseReport, StepWaitForLog, runstatus.KindNotificationDelivery, err)
		} else if raw, err := afero.ReadFile(r.fs, info.LogFile); err == nil {
			transcript = string(raw)
			r.ledger.OK(runstatus.PhaseReport, StepWaitForLog, info.LogFile)
		}
	}

	n := r.Compose(info, transcript)
	if r.settings.Disabled {
		r.ledger.Skip(runstatus.PhaseReport, StepDeliver, "notifications disabled")
		return n
	}
	_ = r.Deliver(ctx, n)
	return n
}
