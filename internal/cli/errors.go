package cli

import (
	"context"
	"errors"

	"github.com/roach88/smelt/internal/build"
	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/deps"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/store"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Config file unreadable or invalid
	ErrCodeRepo        = "E003" // Package repository failed to load
	ErrCodeDatabase    = "E004" // Installed database failed to open
	ErrCodeSpecSyntax  = "E005" // Spec string does not parse
	ErrCodeInvalidArgs = "E006" // Conflicting or invalid flags
	ErrCodeWriteFailed = "E007" // File write error

	// Concretization errors
	ErrCodeUnsatisfiable  = "E101"
	ErrCodeNoProvider     = "E102"
	ErrCodeInvalidVariant = "E103"
	ErrCodeNonConvergent  = "E104"

	// Installed database query errors
	ErrCodeNotFound  = "E201"
	ErrCodeAmbiguous = "E202"

	// Build errors
	ErrCodeBuildFailed = "E301"
	ErrCodeLockTimeout = "E302"
	ErrCodeCancelled   = "E303"
)

// setupError marks a failure to assemble the command's environment.
type setupError struct {
	code string
	err  error
}

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

// classify maps an error to its CLI error code and exit code.
func classify(err error) (code string, exit int, details any) {
	var (
		se  *setupError
		pe  *spec.ParseError
		amb *store.AmbiguousQueryError
	)
	switch {
	case errors.As(err, &se):
		return se.code, ExitCommandError, nil
	case errors.As(err, &pe):
		return ErrCodeSpecSyntax, ExitCommandError, nil
	case errors.Is(err, deps.ErrNoDatabase):
		return ErrCodeDatabase, ExitCommandError, nil
	case concretize.IsConcretizationError(err):
		switch concretize.ReasonOf(err) {
		case concretize.ReasonNoProvider:
			return ErrCodeNoProvider, ExitFailure, nil
		case concretize.ReasonInvalidVariant:
			return ErrCodeInvalidVariant, ExitFailure, nil
		case concretize.ReasonNonConvergent:
			return ErrCodeNonConvergent, ExitFailure, nil
		}
		return ErrCodeUnsatisfiable, ExitFailure, nil
	case errors.As(err, &amb):
		return ErrCodeAmbiguous, ExitFailure, amb.Matches
	case store.IsNotFound(err):
		return ErrCodeNotFound, ExitFailure, nil
	case build.IsLockTimeout(err):
		return ErrCodeLockTimeout, ExitFailure, nil
	case build.IsBuildPhaseError(err), build.IsDependencyFailed(err):
		return ErrCodeBuildFailed, ExitFailure, nil
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled, ExitFailure, nil
	}
	return ErrCodeGeneric, ExitFailure, nil
}

// fail prints err through the formatter and returns the ExitError that
// carries its exit code.
func fail(f *OutputFormatter, message string, err error) error {
	code, exit, details := classify(err)
	_ = f.Error(code, err.Error(), details)
	exitErr := WrapExitError(exit, message, err)
	exitErr.reported = true
	return exitErr
}
