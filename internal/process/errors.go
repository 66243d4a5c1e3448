package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPhase   = errors.New("invalid phase")
	ErrUnknownPhase   = errors.New("unknown phase")
	ErrDuplicatePhase = errors.New("duplicate phase")
	ErrProcessAborted = errors.New("process aborted")
)

// BuildError reports a process that could not be created
type BuildError struct {
	Process string
	Kind    error
	Msg     string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("process %q: %s: %s", e.Process, e.Kind.Error(), e.Msg)
}

func (e *BuildError) Unwrap() error { return e.Kind }

// PhaseExecutionError wraps the failure of a single phase
type PhaseExecutionError struct {
	Process string
	Phase   string
	Err     error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("process %q: phase %q failed: %v", e.Process, e.Phase, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error { return e.Err }

// ProcessAbortedError lists the phases that never ran because of an earlier
// failure or cancellation
type ProcessAbortedError struct {
	Process string
	Phases  []string
	Cause   error
}

func (e *ProcessAbortedError) Error() string {
	return fmt.Sprintf("process %q aborted before %s: %v", e.Process, strings.Join(e.Phases, ", "), e.Cause)
}

// Unwrap exposes both the sentinel and the cause
func (e *ProcessAbortedError) Unwrap() []error {
	return []error{ErrProcessAborted, e.Cause}
}

// FailedPhase returns the name of the phase behind err, if any
func FailedPhase(err error) string {
	var pe *PhaseExecutionError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
