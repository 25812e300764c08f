// Package runstatus holds the run-wide outcome ledger. Every phase appends
// one record per step; the overall status is derived by reducing over the
// records instead of being kept in a single mutable flag.
package runstatus

import (
	"fmt"
	"time"
)

// Phase identifies one stage of the pipeline.
type Phase string

const (
	PhaseProbe        Phase = "probe"
	PhaseCollect      Phase = "collect"
	PhaseProvision    Phase = "provision"
	PhaseToolchain    Phase = "toolchain"
	PhaseScaffold     Phase = "scaffold"
	PhaseRun          Phase = "run"
	PhaseReport       Phase = "report"
	PhaseDecommission Phase = "decommission"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseProbe, PhaseCollect, PhaseProvision, PhaseToolchain,
	PhaseScaffold, PhaseRun, PhaseReport, PhaseDecommission,
}

// Kind classifies an outcome.
type Kind string

const (
	KindOK      Kind = "OK"
	KindSkipped Kind = "Skipped"

	KindUnsupportedEnvironment    Kind = "UnsupportedEnvironment"
	KindInputCollectionFailure    Kind = "InputCollectionFailure"
	KindPackageInstallFailure     Kind = "PackageInstallFailure"
	KindServiceControlFailure     Kind = "ServiceControlFailure"
	KindDatabaseObjectExists      Kind = "DatabaseObjectExists"
	KindDatabaseObjectFailure     Kind = "DatabaseObjectFailure"
	KindPolicyFileUpdateFailure   Kind = "PolicyFileUpdateFailure"
	KindScaffoldGenerationFailure Kind = "ScaffoldGenerationFailure"
	KindDependencyInstallFailure  Kind = "DependencyInstallFailure"
	KindMigrationFailure          Kind = "MigrationFailure"
	KindApplicationRuntimeFailure Kind = "ApplicationRuntimeFailure"
	KindNotificationDelivery      Kind = "NotificationDeliveryFailure"
	KindCleanupTargetMissing      Kind = "CleanupTargetMissing"
)

// Severity says whether an outcome affects the overall status.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

// Status is the derived run-wide indicator.
type Status string

const (
	Clean         Status = "clean"
	ErrorOccurred Status = "error-occurred"
)

// Outcome is one structured record: which step of which phase did what.
type Outcome struct {
	Phase    Phase     `json:"phase" yaml:"phase"`
	Step     string    `json:"step" yaml:"step"`
	Kind     Kind      `json:"kind" yaml:"kind"`
	Severity Severity  `json:"severity" yaml:"severity"`
	Detail   string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At       time.Time `json:"at" yaml:"at"`
	// Masked fatal outcomes no longer count towards Status.
	Masked bool `json:"masked,omitempty" yaml:"masked,omitempty"`
}

// Fatal reports whether the outcome still counts as a failure.
func (o Outcome) Fatal() bool {
	return o.Severity == SeverityFatal && !o.Masked
}

func (o Outcome) String() string {
	s := fmt.Sprintf("%-12s %-28s %-28s %s", o.Phase, o.Step, o.Kind, o.Severity)
	if o.Masked {
		s += " (masked)"
	}
	if o.Detail != "" {
		s += ": " + o.Detail
	}
	return s
}

// Ledger is the append-only outcome list for one run. The pipeline is
// sequential so the ledger has exactly one writer at a time.
type Ledger struct {
	outcomes []Outcome

	// maskOnAppSuccess reproduces the legacy behavior where a successful
	// application run resets the status to clean.
	maskOnAppSuccess bool
	now              func() time.Time
}

// NewLedger returns an empty ledger.
func NewLedger(maskOnAppSuccess bool) *Ledger {
	return &Ledger{maskOnAppSuccess: maskOnAppSuccess, now: time.Now}
}

// Record appends an outcome, stamping it when At is zero.
func (l *Ledger) Record(o Outcome) {
	if o.At.IsZero() {
		o.At = l.now()
	}
	l.outcomes = append(l.outcomes, o)
}

// OK records a successful step.
func (l *Ledger) OK(phase Phase, step, detail string) {
	l.Record(Outcome{Phase: phase, Step: step, Kind: KindOK, Severity: SeverityInfo, Detail: detail})
}

// Skip records a step that was deliberately not executed.
func (l *Ledger) Skip(phase Phase, step, reason string) {
	l.Record(Outcome{Phase: phase, Step: step, Kind: KindSkipped, Severity: SeverityInfo, Detail: reason})
}

// Note records an expected, non-fatal condition such as a pre-existing object.
func (l *Ledger) Note(phase Phase, step string, kind Kind, detail string) {
	l.Record(Outcome{Phase: phase, Step: step, Kind: kind, Severity: SeverityInfo, Detail: detail})
}

// Warn records a failure that does not affect the overall status.
func (l *Ledger) Warn(phase Phase, step string, kind Kind, err error) {
	l.Record(Outcome{Phase: phase, Step: step, Kind: kind, Severity: SeverityWarning, Detail: errDetail(err)})
}

// Fail records a fatal failure.
func (l *Ledger) Fail(phase Phase, step string, kind Kind, err error) {
	l.Record(Outcome{Phase: phase, Step: step, Kind: kind, Severity: SeverityFatal, Detail: errDetail(err)})
}

// AppSucceeded records a verified-successful application run. In legacy
// mode every earlier fatal outcome is masked, which makes Status clean.
func (l *Ledger) AppSucceeded(step, detail string) {
	if l.maskOnAppSuccess {
		for i := range l.outcomes {
			if l.outcomes[i].Severity == SeverityFatal {
				l.outcomes[i].Masked = true
			}
		}
	}
	l.OK(PhaseRun, step, detail)
}

// MaskOnAppSuccess reports whether the legacy reset mode is on.
func (l *Ledger) MaskOnAppSuccess() bool { return l.maskOnAppSuccess }

// Outcomes returns a copy of every record in order.
func (l *Ledger) Outcomes() []Outcome {
	return append([]Outcome(nil), l.outcomes...)
}

// Failures returns the fatal outcomes that still count.
func (l *Ledger) Failures() []Outcome {
	var out []Outcome
	for _, o := range l.outcomes {
		if o.Fatal() {
			out = append(out, o)
		}
	}
	return out
}

// Status reduces the ledger: any counting fatal outcome means ErrorOccurred.
func (l *Ledger) Status() Status {
	if len(l.Failures()) > 0 {
		return ErrorOccurred
	}
	return Clean
}

// PhaseStatus reduces only the outcomes of one phase.
func (l *Ledger) PhaseStatus(p Phase) Status {
	for _, o := range l.outcomes {
		if o.Phase == p && o.Fatal() {
			return ErrorOccurred
		}
	}
	return Clean
}

// Count returns how many outcomes of a phase have the given severity.
func (l *Ledger) Count(p Phase, s Severity) int {
	n := 0
	for _, o := range l.outcomes {
		if o.Phase == p && o.Severity == s && !o.Masked {
			n++
		}
	}
	return n
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
