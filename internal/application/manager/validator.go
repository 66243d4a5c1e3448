package manager

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/pkg/domain"
)

// Validator checks request groups before anything is submitted
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new request validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateInstall checks an installation group: struct constraints,
// well-formed locations and no location requested twice
func (v *Validator) ValidateInstall(g domain.InstallationGroup) error {
	problems := v.structProblems(g)

	seen := make(map[string]int, len(g.Requests))
	for i, req := range g.Requests {
		field := fmt.Sprintf("requests[%d].location", i)
		if req.Location == "" {
			continue
		}
		if err := validateLocation(req.Location); err != nil {
			problems = append(problems, Problem{Field: field, Message: err.Error()})
			continue
		}
		if first, dup := seen[req.Location]; dup {
			problems = append(problems, Problem{
				Field:   field,
				Message: fmt.Sprintf("duplicates requests[%d]", first),
			})
			continue
		}
		seen[req.Location] = i
	}

	return asError(problems)
}

// ValidateLifecycle checks a lifecycle group: struct constraints, every
// coordinate installed and no module targeted twice
func (v *Validator) ValidateLifecycle(g domain.LifecycleChangeGroup, modules *registry.Registry) error {
	problems := v.structProblems(g)

	seen := make(map[domain.Coordinate]int, len(g.Requests))
	for i, req := range g.Requests {
		field := fmt.Sprintf("requests[%d].coordinate", i)
		if req.Coordinate.IsZero() {
			continue
		}
		if !modules.Contains(req.Coordinate) {
			problems = append(problems, Problem{Field: field, Message: "module " + req.Coordinate.String() + " is not installed"})
			continue
		}
		if first, dup := seen[req.Coordinate]; dup {
			problems = append(problems, Problem{
				Field:   field,
				Message: fmt.Sprintf("duplicates requests[%d]", first),
			})
			continue
		}
		seen[req.Coordinate] = i
	}

	return asError(problems)
}

func (v *Validator) structProblems(s any) []Problem {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Problem{{Field: "group", Message: err.Error()}}
	}

	problems := make([]Problem, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		problems = append(problems, Problem{Field: fieldPath(fe.Namespace()), Message: msg})
	}
	return problems
}

// fieldPath drops the root type name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return strings.ToLower(ns[i+1:i+2]) + ns[i+2:]
	}
	return ns
}

func validateLocation(location string) error {
	if strings.TrimSpace(location) != location {
		return errors.New("location has surrounding whitespace")
	}
	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("malformed location: %w", err)
	}
	if u.Scheme != "" && u.Opaque != "" {
		return fmt.Errorf("malformed location: %q has no path", location)
	}
	if u.Path == "" && u.Host == "" {
		return errors.New("location has no path")
	}
	return nil
}

func asError(problems []Problem) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
