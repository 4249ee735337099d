// Package graph stores small directed graphs as an arena of nodes addressed by
// integer index and walks them iteratively.
package graph

const (
	unvisited uint8 = iota
	onStack
	done
)

// Graph is a directed graph over keys of type K. Nodes keep insertion order,
// which makes every traversal deterministic.
type Graph[K comparable] struct {
	keys  []K
	index map[K]int
	edges [][]int
}

// New creates a graph with one node per distinct key.
func New[K comparable](keys []K) *Graph[K] {
	g := &Graph[K]{
		keys:  make([]K, 0, len(keys)),
		index: make(map[K]int, len(keys)),
		edges: make([][]int, 0, len(keys)),
	}

	for _, key := range keys {
		g.AddNode(key)
	}

	return g
}

// AddNode adds key if it is not present yet.
func (g *Graph[K]) AddNode(key K) {
	if _, ok := g.index[key]; ok {
		return
	}

	g.index[key] = len(g.keys)
	g.keys = append(g.keys, key)
	g.edges = append(g.edges, nil)
}

// AddEdge adds the edge from -> to. It returns false when either node is unknown.
func (g *Graph[K]) AddEdge(from, to K) bool {
	fromIdx, ok := g.index[from]
	if !ok {
		return false
	}

	toIdx, ok := g.index[to]
	if !ok {
		return false
	}

	g.edges[fromIdx] = append(g.edges[fromIdx], toIdx)

	return true
}

type frame struct {
	node int
	next int
}

// FindCycle runs a depth-first search from every node in insertion order and
// returns the first cycle met, as the recursion stack slice from the first
// occurrence of the revisited node back to itself: [A, B, C, A]. It returns
// nil for an acyclic graph.
func (g *Graph[K]) FindCycle() []K {
	state := make([]uint8, len(g.keys))

	for root := range g.keys {
		if state[root] != unvisited {
			continue
		}

		state[root] = onStack
		stack := []frame{{node: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.next == len(g.edges[top.node]) {
				state[top.node] = done
				stack = stack[:len(stack)-1]

				continue
			}

			to := g.edges[top.node][top.next]
			top.next++

			switch state[to] {
			case onStack:
				return g.cyclePath(stack, to)
			case unvisited:
				state[to] = onStack
				stack = append(stack, frame{node: to})
			}
		}
	}

	return nil
}

func (g *Graph[K]) cyclePath(stack []frame, revisited int) []K {
	start := 0

	for i, f := range stack {
		if f.node == revisited {
			start = i

			break
		}
	}

	path := make([]K, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, g.keys[f.node])
	}

	return append(path, g.keys[revisited])
}

// Reachable returns every node reachable from start by following edges,
// excluding start itself, each node once, in discovery order.
func (g *Graph[K]) Reachable(start K) []K {
	startIdx, ok := g.index[start]
	if !ok {
		return nil
	}

	visited := make([]bool, len(g.keys))
	visited[startIdx] = true

	stack := []int{startIdx}
	reached := make([]K, 0)

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, to := range g.edges[node] {
			if visited[to] {
				continue
			}

			visited[to] = true
			reached = append(reached, g.keys[to])
			stack = append(stack, to)
		}
	}

	return reached
}
