package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/modkernel/pkg/domain"
)

func module(coord string, deps ...string) *domain.Module {
	d := domain.Descriptor{Coordinate: domain.MustParseCoordinate(coord)}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, domain.MustParseCoordinate(dep))
	}
	return domain.NewModule(d, "file:///"+coord)
}

func TestRegistryOrderingAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(module("acme:web:1.10.0")))
	require.NoError(t, r.Add(module("acme:web:1.2.0")))
	require.NoError(t, r.Add(module("acme:db:3.0.0")))

	err := r.Add(module("acme:db:3.0.0"))
	assert.ErrorIs(t, err, ErrModuleExists)

	var got []string
	for _, m := range r.List() {
		got = append(got, m.Coordinate().String())
	}
	assert.Equal(t, []string{"acme:db:3.0.0", "acme:web:1.2.0", "acme:web:1.10.0"}, got)

	_, err = r.Get(domain.MustParseCoordinate("acme:missing:1.0.0"))
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestRegistryUnsatisfied(t *testing.T) {
	r := New()
	db := module("acme:db:1.0.0")
	web := module("acme:web:1.0.0", "acme:db:1.0.0", "acme:cache:1.0.0")
	require.NoError(t, r.Add(db))
	require.NoError(t, r.Add(web))

	assert.Len(t, r.Unsatisfied(web), 2)

	db.Transition(domain.StateResolved, nil)
	assert.Equal(t, []domain.Coordinate{domain.MustParseCoordinate("acme:cache:1.0.0")}, r.Unsatisfied(web))

	db.Transition(domain.StateFailed, nil)
	assert.Len(t, r.Unsatisfied(web), 2, "failed modules never satisfy dependents")

	assert.Equal(t, []*domain.Module{web}, r.Dependents(db.Coordinate()))
	assert.Equal(t, map[domain.State]int{domain.StateFailed: 1, domain.StateInstalled: 1}, r.CountByState())
}

func TestRegistrySelfDependencyIgnored(t *testing.T) {
	r := New()
	self := module("acme:self:1.0.0", "acme:self:1.0.0")
	require.NoError(t, r.Add(self))

	assert.Empty(t, r.Unsatisfied(self))
	assert.Empty(t, r.Dependents(self.Coordinate()))
}
