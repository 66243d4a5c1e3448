package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened on the kernel event channel
type EventType string

const (
	// EventModuleInstalled is published when a module enters the kernel
	EventModuleInstalled EventType = "module.installed"
	// EventLifecycleChanged is published once per lifecycle state change
	EventLifecycleChanged EventType = "module.lifecycle.changed"
)

// TopicModules is the event-channel topic carrying module events
const TopicModules = "modules"

// Event is a module event published on the kernel event channel
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	Coordinate Coordinate `json:"coordinate"`
	From       State      `json:"from"`
	To         State      `json:"to"`
	Revision   uint64     `json:"revision"`
	Timestamp  time.Time  `json:"timestamp"`
	Error      string     `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp
func NewEvent(t EventType, c Coordinate, from, to State, revision uint64, cause error) Event {
	e := Event{
		ID:         uuid.New().String(),
		Type:       t,
		Coordinate: c,
		From:       from,
		To:         to,
		Revision:   revision,
		Timestamp:  time.Now(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// Transition is the observer-facing kind of a module event
type Transition string

const (
	TransitionInstalled   Transition = "INSTALLED"
	TransitionResolved    Transition = "RESOLVED"
	TransitionStarting    Transition = "STARTING"
	TransitionStarted     Transition = "STARTED"
	TransitionStopping    Transition = "STOPPING"
	TransitionStopped     Transition = "STOPPED"
	TransitionUninstalled Transition = "UNINSTALLED"
	TransitionFailed      Transition = "FAILED"
)

// Transition maps the event to its observer-facing kind. ok is false for
// changes observers are not told about.
func (e Event) Transition() (t Transition, ok bool) {
	if e.Type == EventModuleInstalled {
		return TransitionInstalled, true
	}
	switch e.To {
	case StateInstalled:
		return TransitionInstalled, true
	case StateResolved:
		if e.From == StateStopping {
			return TransitionStopped, true
		}
		return TransitionResolved, true
	case StateStarting:
		return TransitionStarting, true
	case StateActive:
		return TransitionStarted, true
	case StateStopping:
		return TransitionStopping, true
	case StateUninstalled:
		return TransitionUninstalled, true
	case StateFailed:
		return TransitionFailed, true
	}
	return "", false
}

// ImpliedTransitions lists, in order, the transitions a late observer should
// see for a module currently in state s
func ImpliedTransitions(s State) []Transition {
	switch s {
	case StateInstalled:
		return []Transition{TransitionInstalled}
	case StateResolved:
		return []Transition{TransitionInstalled, TransitionResolved}
	case StateStarting:
		return []Transition{TransitionInstalled, TransitionStarting}
	case StateActive:
		return []Transition{TransitionInstalled, TransitionStarted}
	case StateStopping:
		return []Transition{TransitionInstalled, TransitionStopping}
	case StateFailed:
		return []Transition{TransitionInstalled, TransitionFailed}
	}
	return nil
}

// ModuleEvent is what tracker listeners receive
type ModuleEvent struct {
	Coordinate Coordinate `json:"coordinate"`
	Transition Transition `json:"transition"`
	State      State      `json:"state"`
	Revision   uint64     `json:"revision"`
	Synthetic  bool       `json:"synthetic"`
	Timestamp  time.Time  `json:"timestamp"`
	Error      string     `json:"error,omitempty"`
}
