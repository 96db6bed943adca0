// Package dsrerr defines dsr's error taxonomy (spec.md §7). Each error type
// knows the exit code it maps to, so cmd/dsr never hand-rolls exit-code
// decisions outside this package.
package dsrerr

import (
	"errors"
	"fmt"

	"github.com/devtool-release/dsr/pkg/release"
)

// Coded is implemented by every error type in this package.
type Coded interface {
	error
	ExitCode() int
}

// InvalidArgsError covers malformed CLI input, unknown tools, mutually
// exclusive flags, and config schema violations.
type InvalidArgsError struct {
	Msg string
	Err error
}

func (e *InvalidArgsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *InvalidArgsError) Unwrap() error { return e.Err }
func (e *InvalidArgsError) ExitCode() int { return release.ExitInvalidArgsConfig }

func InvalidArgs(msg string, cause error) *InvalidArgsError {
	return &InvalidArgsError{Msg: msg, Err: cause}
}

// ConfigInvalidError reports a schema violation with a pointer to the
// offending file and, where known, a line number.
type ConfigInvalidError struct {
	Path string
	Line int
	Err  error
}

func (e *ConfigInvalidError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}
func (e *ConfigInvalidError) Unwrap() error { return e.Err }
func (e *ConfigInvalidError) ExitCode() int { return release.ExitInvalidArgsConfig }

// ConfigNotFoundError reports a requested tool/host that is absent from the
// loaded config snapshot.
type ConfigNotFoundError struct {
	Kind string // "tool" or "host"
	Name string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in config", e.Kind, e.Name)
}
func (e *ConfigNotFoundError) ExitCode() int { return release.ExitInvalidArgsConfig }

// DependencyMissingError covers a required external binary that is absent
// from PATH.
type DependencyMissingError struct {
	Dependency string
	Err        error
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("missing dependency %q: %v", e.Dependency, e.Err)
}
func (e *DependencyMissingError) Unwrap() error { return e.Err }
func (e *DependencyMissingError) ExitCode() int { return release.ExitDependencyOrAuth }

// AuthFailureError covers an absent or rejected GitHub token.
type AuthFailureError struct {
	Msg string
	Err error
}

func (e *AuthFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *AuthFailureError) Unwrap() error { return e.Err }
func (e *AuthFailureError) ExitCode() int { return release.ExitDependencyOrAuth }

// BuildFailureError covers an executor failure, a missing expected
// artifact, or an archive-packing failure.
type BuildFailureError struct {
	Msg string
	Err error
}

func (e *BuildFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *BuildFailureError) Unwrap() error { return e.Err }
func (e *BuildFailureError) ExitCode() int { return release.ExitBuildFailure }

// PartialCompletionError covers a run where at least one unit succeeded and
// at least one failed (build hosts, uploads, or the verifier's "incomplete"
// outcome).
type PartialCompletionError struct {
	Msg string
}

func (e *PartialCompletionError) Error() string { return e.Msg }
func (e *PartialCompletionError) ExitCode() int  { return release.ExitPartial }

// UpstreamMissingError covers a release or repo absent from GitHub.
type UpstreamMissingError struct {
	Msg string
	Err error
}

func (e *UpstreamMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *UpstreamMissingError) Unwrap() error { return e.Err }
func (e *UpstreamMissingError) ExitCode() int { return release.ExitUpstreamMissing }

// ReleaseConflictError covers a release asset that already exists under the
// same name but with a different size or sha256 than the one being
// uploaded: a real conflict, not the idempotent-skip case.
type ReleaseConflictError struct {
	Filename string
	Err      error
}

func (e *ReleaseConflictError) Error() string {
	return fmt.Sprintf("asset %q already exists with conflicting content: %v", e.Filename, e.Err)
}
func (e *ReleaseConflictError) Unwrap() error { return e.Err }
func (e *ReleaseConflictError) ExitCode() int  { return release.ExitBuildFailure }

// LockedError covers build-lock contention; it surfaces to the user as
// InvalidArgs (exit 4) per spec.md §7.
type LockedError struct {
	Tool, Version string
	OwnerRunID    string
	OwnerPID      int
	OwnerHost     string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("build lock for %s@%s is held by run %q (pid %d on host %q)",
		e.Tool, e.Version, e.OwnerRunID, e.OwnerPID, e.OwnerHost)
}
func (e *LockedError) ExitCode() int { return release.ExitInvalidArgsConfig }

// ExitCodeFor walks err looking for a Coded error and returns its exit code,
// defaulting to ExitBuildFailure for any other non-nil error and
// ExitSuccess for nil.
func ExitCodeFor(err error) int {
	if err == nil {
		return release.ExitSuccess
	}
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return release.ExitBuildFailure
}
