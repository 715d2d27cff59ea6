package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := New(CategoryValidation, SeverityFatal, "bad input")
	assert.Equal(t, "validation (fatal): bad input", e.Error())

	wrapped := Wrap(stderrors.New("boom"), CategoryBuild, SeverityError, "build failed")
	assert.Equal(t, "build (error): build failed: boom", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	e := Wrap(cause, CategoryProcess, SeverityFatal, "spawn failed")
	require.True(t, stderrors.Is(e, cause))
}

func TestRetryable(t *testing.T) {
	assert.False(t, IsRetryable(New(CategoryBuild, SeverityFatal, "x")))
	assert.True(t, IsRetryable(KnownDefect("feature `edition2021`", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestCategoryHelpers(t *testing.T) {
	e := InputTooLarge(200, 100)
	assert.True(t, IsCategory(e, CategoryValidation))
	assert.Equal(t, CategoryValidation, GetCategory(e))
	assert.Equal(t, CategoryInternal, GetCategory(stderrors.New("plain")))
	assert.Equal(t, int64(200), e.Context["size"])
}

func TestClassificationSeesThroughWrapping(t *testing.T) {
	sentinel := stderrors.New("rejected input")
	fe := New(CategoryValidation, SeverityFatal, "no source package supplied")
	wrapped := fmt.Errorf("fatal stage validate: %w: %w", sentinel, fe)

	assert.True(t, IsCategory(wrapped, CategoryValidation))
	assert.Equal(t, CategoryValidation, GetCategory(wrapped))

	retry := fmt.Errorf("build attempt: %w", KnownDefect("funty", nil))
	assert.True(t, IsRetryable(retry))
	assert.True(t, IsCategory(retry, CategoryDefect))
}

func TestWithContextInitializes(t *testing.T) {
	e := New(CategoryInternal, SeverityError, "x").WithContext("k", "v")
	require.NotNil(t, e.Context)
	assert.Equal(t, "v", e.Context["k"])
}
