package manager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/modkernel/pkg/domain"
)

var (
	// ErrModuleBusy is the sentinel behind ModuleBusyError
	ErrModuleBusy = errors.New("module busy")
	// ErrInvalidRequest is the sentinel behind ValidationError
	ErrInvalidRequest = errors.New("invalid request")
)

// ModuleBusyError reports a request for a module that already has a
// process in flight. Requests are never queued behind each other.
type ModuleBusyError struct {
	Coordinate domain.Coordinate
	Holder     string
}

func (e *ModuleBusyError) Error() string {
	return fmt.Sprintf("module %s is busy: %s in progress", e.Coordinate, e.Holder)
}

func (e *ModuleBusyError) Unwrap() error { return ErrModuleBusy }

// Problem is one reason a request group was rejected
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a request group rejected by Prepare
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Field + ": " + p.Message
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }
