package concretize

import (
	"errors"
	"fmt"
)

// Reason categorizes a concretization failure.
type Reason string

const (
	// ReasonUnsatisfiable means constraints on one package cannot all hold.
	ReasonUnsatisfiable Reason = "unsatisfiable"

	// ReasonNoProvider means no provider of a virtual fits its constraints.
	ReasonNoProvider Reason = "no provider"

	// ReasonInvalidVariant means a variant value is not in the package's schema.
	ReasonInvalidVariant Reason = "invalid variant value"

	// ReasonNonConvergent means expansion did not reach a fixed point
	// within the pass bound.
	ReasonNonConvergent Reason = "non-convergent"
)

// ConcretizationError aborts a whole request; no partial DAG is returned.
type ConcretizationError struct {
	Reason  Reason
	Package string
	Message string
}

func (e *ConcretizationError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("%s: %s: %s", e.Reason, e.Package, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// ReasonOf returns the failure reason of a ConcretizationError anywhere in
// err's chain, or "" when there is none.
func ReasonOf(err error) Reason {
	var ce *ConcretizationError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// IsConcretizationError reports whether err wraps a ConcretizationError.
func IsConcretizationError(err error) bool {
	var ce *ConcretizationError
	return errors.As(err, &ce)
}

func unsatisfiable(pkg, format string, args ...any) *ConcretizationError {
	return &ConcretizationError{Reason: ReasonUnsatisfiable, Package: pkg, Message: fmt.Sprintf(format, args...)}
}

func noProvider(virtual, format string, args ...any) *ConcretizationError {
	return &ConcretizationError{Reason: ReasonNoProvider, Package: virtual, Message: fmt.Sprintf(format, args...)}
}

func invalidVariant(pkg string, err error) *ConcretizationError {
	return &ConcretizationError{Reason: ReasonInvalidVariant, Package: pkg, Message: err.Error()}
}
