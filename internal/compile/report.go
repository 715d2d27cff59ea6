package compile

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/wasmforge/internal/metrics"
)

// CompileOutcome is the typed enumeration of final compile result states.
type CompileOutcome string

const (
	OutcomeSuccess  CompileOutcome = "success"
	OutcomeWarning  CompileOutcome = "warning"
	OutcomeFailed   CompileOutcome = "failed"
	OutcomeCanceled CompileOutcome = "canceled"
)

// IssueSeverity distinguishes recorded errors from warnings.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ReportIssue is one structured, machine-parsable problem found during a
// compile run.
type ReportIssue struct {
	Stage     StageName     `json:"stage"`
	Severity  IssueSeverity `json:"severity"`
	Message   string        `json:"message"`
	Transient bool          `json:"transient"`
}

// CompileReport captures per-stage timing and classification for one job.
type CompileReport struct {
	JobID    string
	CacheKey string
	Start    time.Time
	End      time.Time

	StageDurations  map[StageName]time.Duration
	StageErrorKinds map[StageName]StageErrorKind
	Issues          []ReportIssue
	Errors          []error
	Warnings        []error

	// Attempts counts toolchain invocations: 1 normally, 2 after a
	// known-defect repair retry.
	Attempts int
	// CacheHit is true when a warm artifact tree was restored before the build.
	CacheHit bool
	// PatchedManifests counts manifests rewritten during the pre-patch stage.
	PatchedManifests int
	// MatchedSignature holds the defect signature that triggered a repair,
	// empty when no known defect was detected.
	MatchedSignature string
	// ToolOutput is the (possibly truncated) combined toolchain output of the
	// final invocation. Populated on failure for diagnostics.
	ToolOutput string

	Outcome CompileOutcome
}

// NewCompileReport constructs an empty report for one job.
func NewCompileReport(jobID string) *CompileReport {
	return &CompileReport{
		JobID:           jobID,
		Start:           time.Now(),
		StageDurations:  make(map[StageName]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		Attempts:        0,
	}
}

// AddIssue appends a structured issue and mirrors severity into the
// Errors/Warnings slices.
func (r *CompileReport) AddIssue(stage StageName, severity IssueSeverity, msg string, transient bool, err error) {
	r.Issues = append(r.Issues, ReportIssue{Stage: stage, Severity: severity, Message: msg, Transient: transient})
	if err == nil {
		return
	}
	if severity == SeverityError {
		r.Errors = append(r.Errors, err)
	} else {
		r.Warnings = append(r.Warnings, err)
	}
}

// RecordStageResult emits stage metrics. recorder may be nil.
func (r *CompileReport) RecordStageResult(stage StageName, res StageResult, dur time.Duration, recorder metrics.Recorder) {
	if recorder == nil {
		return
	}
	recorder.ObserveStageDuration(string(stage), dur)
	recorder.IncStageResult(string(stage), metrics.ResultLabel(res))
}

// Finish stamps the end time.
func (r *CompileReport) Finish() { r.End = time.Now() }

// Duration returns total wall-clock time; zero until Finish is called.
func (r *CompileReport) Duration() time.Duration {
	if r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// DeriveOutcome sets Outcome from the recorded stage error kinds.
func (r *CompileReport) DeriveOutcome() {
	for _, kind := range r.StageErrorKinds {
		if kind == StageErrorCanceled {
			r.Outcome = OutcomeCanceled
			return
		}
	}
	for _, kind := range r.StageErrorKinds {
		if kind == StageErrorFatal {
			r.Outcome = OutcomeFailed
			return
		}
	}
	if len(r.Warnings) > 0 {
		r.Outcome = OutcomeWarning
		return
	}
	r.Outcome = OutcomeSuccess
}

// Summary returns a one-line human summary for logs.
func (r *CompileReport) Summary() string {
	return fmt.Sprintf("job=%s outcome=%s attempts=%d cache_hit=%t duration=%s",
		r.JobID, r.Outcome, r.Attempts, r.CacheHit, r.Duration().Round(time.Millisecond))
}
