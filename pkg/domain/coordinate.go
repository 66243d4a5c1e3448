package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidCoordinate is returned when a coordinate cannot be parsed
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate uniquely identifies a module. It encodes as group:name:version.
type Coordinate struct {
	Group   string `validate:"required"`
	Name    string `validate:"required"`
	Version string `validate:"required"`
}

// NewCoordinate creates a coordinate and normalizes its version
func NewCoordinate(group, name, version string) (Coordinate, error) {
	c := Coordinate{Group: group, Name: name, Version: version}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	c.Version = canonicalVersion(version)
	return c, nil
}

// ParseCoordinate parses the canonical group:name:version form
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Coordinate{}, fmt.Errorf("%w: %q must be group:name:version", ErrInvalidCoordinate, s)
	}
	return NewCoordinate(parts[0], parts[1], parts[2])
}

// MustParseCoordinate is ParseCoordinate that panics on error
func MustParseCoordinate(s string) Coordinate {
	c, err := ParseCoordinate(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks the coordinate fields
func (c Coordinate) Validate() error {
	if c.Group == "" || c.Name == "" {
		return fmt.Errorf("%w: group and name are required", ErrInvalidCoordinate)
	}
	if strings.ContainsAny(c.Group+c.Name, ": /") {
		return fmt.Errorf("%w: group and name must not contain ':', '/' or spaces", ErrInvalidCoordinate)
	}
	if !semver.IsValid(semverForm(c.Version)) {
		return fmt.Errorf("%w: version %q is not semantic", ErrInvalidCoordinate, c.Version)
	}
	return nil
}

// String returns the canonical form
func (c Coordinate) String() string {
	return c.Group + ":" + c.Name + ":" + c.Version
}

// IsZero reports whether the coordinate is unset
func (c Coordinate) IsZero() bool {
	return c == Coordinate{}
}

// Compare orders coordinates by group, name and then semantic version
func (c Coordinate) Compare(other Coordinate) int {
	if c.Group != other.Group {
		return strings.Compare(c.Group, other.Group)
	}
	if c.Name != other.Name {
		return strings.Compare(c.Name, other.Name)
	}
	return semver.Compare(semverForm(c.Version), semverForm(other.Version))
}

// MarshalText implements encoding.TextMarshaler
func (c Coordinate) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Coordinate) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = Coordinate{}
		return nil
	}
	parsed, err := ParseCoordinate(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func semverForm(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func canonicalVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}
