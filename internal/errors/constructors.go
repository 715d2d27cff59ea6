package errors

// Convenience constructors for common error patterns.

// Input errors

func InputMissing() *ForgeError {
	return New(CategoryValidation, SeverityFatal, "no source package supplied")
}

func InputTooLarge(size, limit int64) *ForgeError {
	return New(CategoryValidation, SeverityFatal, "source package exceeds size limit").
		WithContext("size", size).
		WithContext("limit", limit)
}

func InputNotArchive(reason string) *ForgeError {
	return New(CategoryValidation, SeverityFatal, "source package is not a supported archive").
		WithContext("reason", reason)
}

// Environment errors

func ToolMissing(tool string, cause error) *ForgeError {
	return Wrap(cause, CategoryEnvironment, SeverityFatal, "required external tool missing").
		WithContext("tool", tool)
}

func StagingUnavailable(path string, cause error) *ForgeError {
	return Wrap(cause, CategoryEnvironment, SeverityFatal, "staging directory unavailable").
		WithContext("path", path)
}

// Process errors

func ProcessStartFailed(program string, cause error) *ForgeError {
	return Wrap(cause, CategoryProcess, SeverityFatal, "external program failed to start").
		WithContext("program", program)
}

func ProcessTimeout(program string, cause error) *ForgeError {
	return Wrap(cause, CategoryTimeout, SeverityFatal, "external program exceeded deadline").
		WithContext("program", program)
}

func ProcessCanceled(program string, cause error) *ForgeError {
	return Wrap(cause, CategoryCanceled, SeverityFatal, "external program canceled by caller").
		WithContext("program", program)
}

// Build errors

func BuildFailed(stage string, cause error) *ForgeError {
	return Wrap(cause, CategoryBuild, SeverityFatal, "build failed").
		WithContext("stage", stage)
}

func KnownDefect(signature string, cause error) *ForgeError {
	return WrapRetryable(cause, CategoryDefect, SeverityError, "known dependency defect detected").
		WithContext("signature", signature)
}

// Filesystem errors

func WorkspaceError(operation string, cause error) *ForgeError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

// Internal errors

func InternalError(message string, cause error) *ForgeError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
