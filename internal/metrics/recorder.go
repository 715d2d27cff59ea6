// Package metrics defines observability hooks for the compile pipeline.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for compile and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder allows optional injection.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveCompileDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncCompileOutcome(outcome string) // outcome: success|failed|canceled
	IncCacheEvent(hit bool)
	IncPatchApplied(rule string)
	IncDefectRetry(signature string)
	IncDefectRetryFailed(signature string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveCompileDuration(time.Duration)       {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncCompileOutcome(string)                   {}
func (NoopRecorder) IncCacheEvent(bool)                         {}
func (NoopRecorder) IncPatchApplied(string)                     {}
func (NoopRecorder) IncDefectRetry(string)                      {}
func (NoopRecorder) IncDefectRetryFailed(string)                {}
