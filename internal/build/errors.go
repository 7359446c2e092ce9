package build

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/smelt/internal/spec"
)

// BuildPhaseError means a phase of a node's build failed.
type BuildPhaseError struct {
	Package string
	Hash    string
	Phase   string

	// Output is the combined output captured from the phase.
	Output []byte

	Err error
}

func (e *BuildPhaseError) Error() string {
	return fmt.Sprintf("build %s/%s: phase %s failed: %v",
		e.Package, spec.ShortHash(e.Hash, 7), e.Phase, e.Err)
}

func (e *BuildPhaseError) Unwrap() error { return e.Err }

// LockTimeoutError means a node's install lock could not be acquired in
// time. The node is failed; nothing was built.
type LockTimeoutError struct {
	Package string
	Hash    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock %s/%s: not acquired within %s",
		e.Package, spec.ShortHash(e.Hash, 7), e.Timeout)
}

// DependencyFailedError marks a node that was never attempted because a
// dependency failed. Dependency names the node that failed first and Err
// is that node's error.
type DependencyFailedError struct {
	Package    string
	Hash       string
	Dependency string
	Err        error
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("build %s/%s: dependency %s failed",
		e.Package, spec.ShortHash(e.Hash, 7), e.Dependency)
}

func (e *DependencyFailedError) Unwrap() error { return e.Err }

// IsBuildPhaseError reports whether err wraps a BuildPhaseError.
func IsBuildPhaseError(err error) bool {
	var be *BuildPhaseError
	return errors.As(err, &be)
}

// IsLockTimeout reports whether err wraps a LockTimeoutError.
func IsLockTimeout(err error) bool {
	var le *LockTimeoutError
	return errors.As(err, &le)
}

// IsDependencyFailed reports whether err wraps a DependencyFailedError.
func IsDependencyFailed(err error) bool {
	var de *DependencyFailedError
	return errors.As(err, &de)
}
