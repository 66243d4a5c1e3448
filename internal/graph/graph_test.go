package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphDegreeAndRemoval(t *testing.T) {
	g := New[string, string]()
	g.Connect("app", "lib", "hard")
	g.Connect("app", "log", "soft")
	g.Connect("tool", "lib", "hard")

	assert.Equal(t, 2, g.DegreeOf("app", nil))
	assert.Equal(t, 1, g.DegreeOf("app", func(l string) bool { return l == "hard" }))
	assert.Equal(t, []string{"app", "tool"}, g.DependentsOf("lib"))

	removed := g.RemoveDependents("lib", func(l string) bool { return l == "hard" })
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, g.DegreeOf("tool", nil))
	assert.Equal(t, 1, g.DegreeOf("app", nil))
	assert.True(t, g.Contains("lib"))
}

func TestGraphDelete(t *testing.T) {
	g := New[string, string]()
	g.Connect("a", "b", "")
	g.Connect("b", "c", "")

	require.True(t, g.Delete("b"))
	assert.False(t, g.Delete("b"))
	assert.Equal(t, []string{"a", "c"}, g.Vertices())
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.DependentsOf("c"))
}

func TestGraphCloneIsIndependent(t *testing.T) {
	g := New[int, string]()
	g.Connect("a", "b", 7)

	c := g.Clone()
	c.Connect("b", "c", 1)
	c.Disconnect("a", "b")

	assert.Equal(t, 2, g.Len())
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, 7, g.Edges()[0].Label)
	assert.Equal(t, 3, c.Len())
}
