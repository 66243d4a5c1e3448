package domain

import (
	"fmt"
	"strings"
)

// State is a module lifecycle state
type State int

// Lifecycle states. The values are the state ranks; Uninstalled and Failed are
// sentinels below the happy path.
const (
	StateFailed      State = -2
	StateUninstalled State = -1
	StateInstalled   State = 0
	StateResolved    State = 1
	StateStarting    State = 3
	StateActive      State = 4
	StateStopping    State = 5
)

var stateNames = map[State]string{
	StateFailed:      "Failed",
	StateUninstalled: "Uninstalled",
	StateInstalled:   "Installed",
	StateResolved:    "Resolved",
	StateStarting:    "Starting",
	StateActive:      "Active",
	StateStopping:    "Stopping",
}

// Rank returns the integer rank of the state
func (s State) Rank() int {
	return int(s)
}

// IsAtLeast compares ranks. Only meaningful along the happy path
// (Installed, Resolved, Starting, Active, Stopping); Failed and Uninstalled
// must be checked explicitly.
func (s State) IsAtLeast(other State) bool {
	return s >= other
}

// SatisfiesDependents reports whether a module in this state can back a
// dependency of another module
func (s State) SatisfiesDependents() bool {
	switch s {
	case StateResolved, StateStarting, StateActive, StateStopping:
		return true
	default:
		return false
	}
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState parses a state name, case-insensitively
func ParseState(name string) (State, error) {
	for state, n := range stateNames {
		if strings.EqualFold(n, name) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle state %q", name)
}
