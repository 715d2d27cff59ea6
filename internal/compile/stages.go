package compile

import (
	"context"
	"errors"
	"fmt"

	forgeerrors "git.home.luguber.info/inful/wasmforge/internal/errors"
)

// Sentinel errors for coarse classification of failed compiles. The full
// detail travels in the wrapped ForgeError.
var (
	ErrInput   = errors.New("compile: rejected input")
	ErrStaging = errors.New("compile: staging failed")
	ErrBuild   = errors.New("compile: build failed")
	ErrDefect  = errors.New("compile: known defect persisted after repair")
)

// Stage is a discrete unit of work in the compile pipeline.
type Stage func(ctx context.Context, bs *BuildState) error

// StageName is a strongly-typed identifier for a pipeline stage.
type StageName string

// Canonical stage names, in pipeline order.
const (
	StageValidate    StageName = "validate"
	StageSources     StageName = "stage_sources"
	StageCacheWarm   StageName = "cache_warm"
	StagePrePatch    StageName = "pre_patch"
	StageBuild       StageName = "build"
	StageHarvest     StageName = "harvest"
	StageCacheUpdate StageName = "cache_update"
	StageCleanup     StageName = "cleanup"
)

// StageErrorKind classifies the outcome of a stage.
type StageErrorKind string

const (
	StageErrorFatal    StageErrorKind = "fatal"    // Compile must abort.
	StageErrorWarning  StageErrorKind = "warning"  // Non-fatal; record and continue.
	StageErrorCanceled StageErrorKind = "canceled" // Context cancellation.
)

// StageError is a structured error carrying the stage and underlying cause.
type StageError struct {
	Kind  StageErrorKind
	Stage StageName
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Transient reports whether retrying the whole compile could plausibly
// succeed. Cancellations and input rejections never are; known toolchain
// defects and process timeouts may be.
func (e *StageError) Transient() bool {
	if e == nil || e.Kind == StageErrorCanceled {
		return false
	}
	switch forgeerrors.GetCategory(e.Err) {
	case forgeerrors.CategoryDefect, forgeerrors.CategoryTimeout:
		return true
	}
	return forgeerrors.IsRetryable(e.Err)
}

// StageResult captures the high-level outcome of a stage.
type StageResult string

const (
	StageResultSuccess  StageResult = "success"
	StageResultWarning  StageResult = "warning"
	StageResultFatal    StageResult = "fatal"
	StageResultCanceled StageResult = "canceled"
)

// NewFatalStageError creates a new fatal stage error.
func NewFatalStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorFatal, Stage: stage, Err: err}
}

func NewWarnStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorWarning, Stage: stage, Err: err}
}

func NewCanceledStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorCanceled, Stage: stage, Err: err}
}

// StageDef pairs a stage name with its executing function.
type StageDef struct {
	Name StageName
	Fn   Stage
}
