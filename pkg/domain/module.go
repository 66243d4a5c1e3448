package domain

import (
	"sync"
	"time"
)

// Descriptor is what an artifact declares about itself
type Descriptor struct {
	Coordinate   Coordinate
	Dependencies []Coordinate
	Entrypoint   string
}

// Module is an installed unit tracked by the kernel.
//
// State changes go through the lifecycle machine; the setters here are the
// raw primitives it uses.
type Module struct {
	coordinate   Coordinate
	dependencies []Coordinate
	location     string
	entrypoint   string

	mu          sync.RWMutex
	state       State
	revision    uint64
	handle      any
	path        string
	cause       error
	installedAt time.Time
	updatedAt   time.Time
}

// NewModule creates a module in the Installed state
func NewModule(desc Descriptor, location string) *Module {
	deps := make([]Coordinate, len(desc.Dependencies))
	copy(deps, desc.Dependencies)
	now := time.Now()
	return &Module{
		coordinate:   desc.Coordinate,
		dependencies: deps,
		location:     location,
		entrypoint:   desc.Entrypoint,
		state:        StateInstalled,
		installedAt:  now,
		updatedAt:    now,
	}
}

// Coordinate returns the module coordinate
func (m *Module) Coordinate() Coordinate {
	return m.coordinate
}

// Dependencies returns the declared dependency coordinates
func (m *Module) Dependencies() []Coordinate {
	out := make([]Coordinate, len(m.dependencies))
	copy(out, m.dependencies)
	return out
}

// Location returns where the module was installed from
func (m *Module) Location() string {
	return m.location
}

// Entrypoint returns the declared entrypoint, if any
func (m *Module) Entrypoint() string {
	return m.entrypoint
}

// State returns the current lifecycle state
func (m *Module) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Revision returns the number of state changes applied to the module
func (m *Module) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Snapshot returns state and revision read atomically
func (m *Module) Snapshot() (State, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.revision
}

// Transition assigns a new state and returns the previous one together with
// the new revision
func (m *Module) Transition(to State, cause error) (from State, revision uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from = m.state
	m.state = to
	m.revision++
	m.cause = cause
	m.updatedAt = time.Now()
	return from, m.revision
}

// Handle returns the opaque isolation handle
func (m *Module) Handle() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// SetHandle stores the isolation handle
func (m *Module) SetHandle(h any) {
	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()
}

// Path returns the module's location inside kernel storage
func (m *Module) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// SetPath records the module's location inside kernel storage
func (m *Module) SetPath(p string) {
	m.mu.Lock()
	m.path = p
	m.mu.Unlock()
}

// Cause returns the error that moved the module to Failed, if any
func (m *Module) Cause() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cause
}

// DependsOn reports whether the module declares a dependency on c
func (m *Module) DependsOn(c Coordinate) bool {
	for _, d := range m.dependencies {
		if d == c {
			return true
		}
	}
	return false
}

// Record returns the persisted view of the module
func (m *Module) Record() ModuleRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ModuleRecord{
		Coordinate:   m.coordinate,
		Dependencies: m.Dependencies(),
		Location:     m.location,
		Entrypoint:   m.entrypoint,
		Path:         m.path,
		State:        m.state,
		InstalledAt:  m.installedAt,
		UpdatedAt:    m.updatedAt,
	}
}

// ModuleRecord is the storable form of a module
type ModuleRecord struct {
	Coordinate   Coordinate   `json:"coordinate"`
	Dependencies []Coordinate `json:"dependencies,omitempty"`
	Location     string       `json:"location"`
	Entrypoint   string       `json:"entrypoint,omitempty"`
	Path         string       `json:"path"`
	State        State        `json:"state"`
	InstalledAt  time.Time    `json:"installed_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Descriptor returns the descriptor the record was installed from
func (r ModuleRecord) Descriptor() Descriptor {
	return Descriptor{
		Coordinate:   r.Coordinate,
		Dependencies: r.Dependencies,
		Entrypoint:   r.Entrypoint,
	}
}

// ModuleInfo is a read-only view of a module for API responses
type ModuleInfo struct {
	Coordinate   Coordinate   `json:"coordinate"`
	State        State        `json:"state"`
	Revision     uint64       `json:"revision"`
	Dependencies []Coordinate `json:"dependencies"`
	Location     string       `json:"location"`
	Error        string       `json:"error,omitempty"`
}

// Info returns a read-only view of the module
func (m *Module) Info() ModuleInfo {
	state, rev := m.Snapshot()
	info := ModuleInfo{
		Coordinate:   m.coordinate,
		State:        state,
		Revision:     rev,
		Dependencies: m.Dependencies(),
		Location:     m.location,
	}
	if cause := m.Cause(); cause != nil {
		info.Error = cause.Error()
	}
	return info
}
