package djdeploy

import (
	"fmt"

	"github.com/stuartcarnie/djdeploy/release"
)

// MissingReleaseError is returned when a named release does not exist
// on a host.
type MissingReleaseError struct {
	Host    string
	Release string
}

func (e *MissingReleaseError) Error() string {
	return fmt.Sprintf("%s: release %q not found", e.Host, e.Release)
}

// StepError is returned when a pipeline step fails on a host. State is
// the last state the host reached before the step.
type StepError struct {
	Step  string
	Host  string
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %s failed (host was %s): %v", e.Host, e.Step, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// LockHeldError is returned when another operation holds the deploy lock
// of a host.
type LockHeldError struct {
	Host  string
	Owner release.LockOwner
}

func (e *LockHeldError) Error() string {
	if e.Owner.Operator == "" {
		return fmt.Sprintf("%s: deploy lock is held (owner unknown); remove it with unlock if it is stale", e.Host)
	}
	return fmt.Sprintf("%s: deploy lock is held by %s", e.Host, e.Owner)
}
