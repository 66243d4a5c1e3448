package lifecycle

import (
	"errors"
	"fmt"

	"github.com/aescanero/modkernel/pkg/domain"
)

// ErrInvalidTransition is the sentinel behind TransitionError
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// TransitionError reports an operation that is not valid for the module's
// current state. The module state is left unchanged.
type TransitionError struct {
	Coordinate domain.Coordinate
	Operation  string
	State      domain.State
	Reason     string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s module %s in state %s", e.Operation, e.Coordinate, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
