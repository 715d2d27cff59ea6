package compile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/metrics"
)

// StageOutcome is the normalized result of one stage execution.
type StageOutcome struct {
	Stage     StageName
	Error     *StageError
	Result    StageResult
	Severity  IssueSeverity
	Transient bool
	Abort     bool
}

// runStages executes stages in order, recording timing and stopping on the
// first fatal or canceled outcome. Warnings are recorded and execution
// continues.
func runStages(ctx context.Context, bs *BuildState, stages []StageDef, recorder metrics.Recorder) error {
	for _, st := range stages {
		select {
		case <-ctx.Done():
			se := NewCanceledStageError(st.Name, ctx.Err())
			bs.Report.StageErrorKinds[st.Name] = se.Kind
			bs.Report.AddIssue(st.Name, SeverityError, se.Error(), false, se)
			bs.Report.RecordStageResult(st.Name, StageResultCanceled, 0, recorder)
			return se
		default:
		}

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)

		bs.Report.StageDurations[st.Name] = dur

		out := classifyStageResult(st.Name, err)
		if out.Error != nil {
			bs.Report.StageErrorKinds[st.Name] = out.Error.Kind
			bs.Report.AddIssue(out.Stage, out.Severity, out.Error.Error(), out.Transient, out.Error)
		}
		bs.Report.RecordStageResult(st.Name, out.Result, dur, recorder)

		slog.Debug("stage complete",
			logfields.JobID(bs.JobID),
			logfields.Stage(string(st.Name)),
			logfields.Duration(dur),
			slog.String("result", string(out.Result)))

		if out.Abort {
			return out.Error
		}
	}
	return nil
}

// classifyStageResult converts a raw stage error into a StageOutcome.
func classifyStageResult(stage StageName, err error) StageOutcome {
	if err == nil {
		return StageOutcome{Stage: stage, Result: StageResultSuccess}
	}

	var se *StageError
	if !errors.As(err, &se) {
		se = NewFatalStageError(stage, err)
	}

	switch se.Kind {
	case StageErrorCanceled:
		return StageOutcome{
			Stage:    stage,
			Error:    se,
			Result:   StageResultCanceled,
			Severity: SeverityError,
			Abort:    true,
		}
	case StageErrorWarning:
		return StageOutcome{
			Stage:     stage,
			Error:     se,
			Result:    StageResultWarning,
			Severity:  SeverityWarning,
			Transient: se.Transient(),
			Abort:     false,
		}
	default:
		return StageOutcome{
			Stage:     stage,
			Error:     se,
			Result:    StageResultFatal,
			Severity:  SeverityError,
			Transient: se.Transient(),
			Abort:     true,
		}
	}
}
