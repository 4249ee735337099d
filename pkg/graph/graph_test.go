package graph_test

import (
	"testing"

	"github.com/dukex/dagflow/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(nodes []string, edges [][2]string) *graph.Graph[string] {
	g := graph.New(nodes)
	for _, edge := range edges {
		g.AddEdge(edge[0], edge[1])
	}

	return g
}

func TestGraph_FindCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		nodes    []string
		edges    [][2]string
		expected []string
	}{
		{
			name:     "acyclic chain",
			nodes:    []string{"a", "b", "c"},
			edges:    [][2]string{{"c", "b"}, {"b", "a"}},
			expected: nil,
		},
		{
			name:     "three node cycle",
			nodes:    []string{"a", "b", "c"},
			edges:    [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}},
			expected: []string{"a", "b", "c", "a"},
		},
		{
			name:     "self loop",
			nodes:    []string{"a"},
			edges:    [][2]string{{"a", "a"}},
			expected: []string{"a", "a"},
		},
		{
			name:     "cycle below an acyclic prefix",
			nodes:    []string{"root", "x", "y"},
			edges:    [][2]string{{"root", "x"}, {"x", "y"}, {"y", "x"}},
			expected: []string{"x", "y", "x"},
		},
		{
			name:     "diamond is not a cycle",
			nodes:    []string{"d", "b", "c", "a"},
			edges:    [][2]string{{"d", "b"}, {"d", "c"}, {"b", "a"}, {"c", "a"}},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, build(tt.nodes, tt.edges).FindCycle())
		})
	}
}

func TestGraph_FindCycle_LongChain(t *testing.T) {
	t.Parallel()

	const size = 100000

	nodes := make([]int, size)
	for i := range nodes {
		nodes[i] = i
	}

	g := graph.New(nodes)
	for i := 0; i < size-1; i++ {
		g.AddEdge(i, i+1)
	}

	assert.Nil(t, g.FindCycle())

	g.AddEdge(size-1, 0)

	cycle := g.FindCycle()
	require.Len(t, cycle, size+1)
	assert.Equal(t, 0, cycle[0])
	assert.Equal(t, 0, cycle[size])
}

func TestGraph_Reachable(t *testing.T) {
	t.Parallel()

	g := build(
		[]string{"a", "b", "c", "d", "e"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"c", "a"}, {"d", "e"}},
	)

	assert.ElementsMatch(t, []string{"b", "c"}, g.Reachable("a"))
	assert.ElementsMatch(t, []string{"e"}, g.Reachable("d"))
	assert.Empty(t, g.Reachable("e"))
	assert.Nil(t, g.Reachable("missing"))
}

func TestGraph_Nodes(t *testing.T) {
	t.Parallel()

	g := graph.New([]string{"a", "a", "b"})
	assert.True(t, g.AddEdge("a", "b"))
	assert.Equal(t, []string{"b"}, g.Reachable("a"), "duplicate keys collapse into one node")
	assert.False(t, g.AddEdge("a", "z"))

	g.AddNode("z")
	g.AddNode("z")
	assert.True(t, g.AddEdge("a", "z"))
	assert.Equal(t, []string{"b", "z"}, g.Reachable("a"))
}
