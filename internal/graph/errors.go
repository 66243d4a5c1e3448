package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGraphCycle is the sentinel behind CycleError
var ErrGraphCycle = errors.New("dependency cycle detected")

// CycleError is returned when leveling finds no frontier on a non-empty graph
type CycleError struct {
	// Remaining lists the vertices that could not be scheduled
	Remaining []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Remaining) == 0 {
		return ErrGraphCycle.Error()
	}
	return fmt.Sprintf("%s among %s", ErrGraphCycle.Error(), strings.Join(e.Remaining, ", "))
}

func (e *CycleError) Unwrap() error { return ErrGraphCycle }
