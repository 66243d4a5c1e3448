package domain

import "errors"

// Action is what a request asks the module manager to do
type Action string

const (
	ActionInstall   Action = "install"
	ActionActivate  Action = "activate"
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionRestart   Action = "restart"
	ActionUninstall Action = "uninstall"
	ActionReinstall Action = "reinstall"
)

// InstallationRequest asks for the artifact at Location to be installed
type InstallationRequest struct {
	Location string `json:"location" validate:"required"`
	Action   Action `json:"action" validate:"omitempty,oneof=install activate"`
}

// InstallationGroup is a batch of installation requests committed together
type InstallationGroup struct {
	Requests []InstallationRequest `json:"requests" validate:"required,min=1,dive"`
}

// NewInstallationGroup creates a group from requests
func NewInstallationGroup(reqs ...InstallationRequest) InstallationGroup {
	return InstallationGroup{Requests: reqs}
}

// LifecycleChangeRequest asks for a lifecycle operation on an installed module
type LifecycleChangeRequest struct {
	Coordinate Coordinate `json:"coordinate" validate:"required"`
	Action     Action     `json:"action" validate:"required,oneof=start stop restart uninstall reinstall"`
}

// LifecycleChangeGroup is a batch of lifecycle requests committed together
type LifecycleChangeGroup struct {
	Requests []LifecycleChangeRequest `json:"requests" validate:"required,min=1,dive"`
}

// NewLifecycleChangeGroup creates a group from requests
func NewLifecycleChangeGroup(reqs ...LifecycleChangeRequest) LifecycleChangeGroup {
	return LifecycleChangeGroup{Requests: reqs}
}

// Outcome is the result of one request of a committed group
type Outcome struct {
	Index      int        `json:"index"`
	Target     string     `json:"target"`
	Coordinate Coordinate `json:"coordinate"`
	Action     Action     `json:"action"`
	Phase      string     `json:"phase,omitempty"`
	Err        error      `json:"-"`
}

// Succeeded reports whether the request completed without error
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// OutcomeErrors joins the errors of all failed outcomes
func OutcomeErrors(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
