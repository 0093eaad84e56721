// Package dag provides directed graph operations for field dependencies.
// It supports cycle detection, topological sorting, and incremental change detection.
package dag

import (
	"fmt"
)

// Node represents a node in the graph.
type Node struct {
	// ID is the unique identifier (field key)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed graph whose edges point from a dependency to its dependents.
// Nodes keep their insertion order, which makes every traversal deterministic.
type Graph struct {
	nodes   map[string]*Node
	order   []string            // insertion order
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(id string, data any) {
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &Node{ID: id, Data: data}
		g.order = append(g.order, id)
		g.edges[id] = []string{}
		g.parents[id] = []string{}
	} else {
		// Update data if node already exists
		g.nodes[id].Data = data
	}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
// A self-loop is allowed and is reported by Sort as a cycle of length one.
func (g *Graph) AddEdge(parentID, childID string) error {
	// Ensure both nodes exist
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	// Add edge (avoid duplicates)
	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}

	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node in the order they were added.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node in the order they were added.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// NodeIDs returns all node IDs in insertion order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// Order is the result of sorting a graph.
type Order struct {
	// Order lists nodes with dependencies before dependents.
	// It is not a valid evaluation sequence when Cycles is non-empty.
	Order []string
	// Cycles lists each detected cycle as the path from its first node back
	// to the node that closes it.
	Cycles [][]string
}

// HasCycles reports whether any cycle was found.
func (o Order) HasCycles() bool {
	return len(o.Cycles) > 0
}

// Sort orders the graph depth-first in post-order. Roots are visited in insertion
// order and dependencies in the order their edges were added, so equal graphs
// always sort the same way. A back edge to a node on the active path records the
// path from that node's first occurrence to the current node and stops that branch.
func (g *Graph) Sort() Order {
	var (
		result   Order
		visited  = make(map[string]bool)
		visiting = make(map[string]bool)
		path     []string
	)

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		if visiting[id] {
			for i, p := range path {
				if p == id {
					cycle := make([]string, len(path)-i)
					copy(cycle, path[i:])
					result.Cycles = append(result.Cycles, cycle)
					break
				}
			}
			return
		}

		visiting[id] = true
		path = append(path, id)

		// Visit all parents first
		for _, parentID := range g.parents[id] {
			visit(parentID)
		}

		path = path[:len(path)-1]
		visiting[id] = false
		visited[id] = true
		result.Order = append(result.Order, id)
	}

	for _, id := range g.order {
		visit(id)
	}

	return result
}

// HasCycle returns true if the graph contains a cycle, along with the first cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	o := g.Sort()
	if !o.HasCycles() {
		return false, nil
	}
	return true, o.Cycles[0]
}

// TopologicalSort returns nodes in topological order (dependencies before dependents).
// Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	o := g.Sort()
	if o.HasCycles() {
		return nil, fmt.Errorf("cycle detected: %v", o.Cycles[0])
	}

	result := make([]*Node, len(o.Order))
	for i, id := range o.Order {
		result[i] = g.nodes[id]
	}
	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N only depend on nodes of earlier levels, so a level can be
// evaluated in any order once the previous one is done.
// Level 0 contains nodes with no dependencies. Each level keeps insertion order.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	assigned := make(map[string]int)

	// Calculate level for each node
	var getLevel func(id string) int
	getLevel = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}

		level := 0
		for _, parentID := range g.parents[id] {
			if parentLevel := getLevel(parentID) + 1; parentLevel > level {
				level = parentLevel
			}
		}

		assigned[id] = level
		return level
	}

	levels := [][]string{}
	for _, id := range g.order {
		level := getLevel(id)
		for len(levels) <= level {
			levels = append(levels, []string{})
		}
	}

	// Group nodes by level
	for _, id := range g.order {
		level := assigned[id]
		levels[level] = append(levels[level], id)
	}

	return levels, nil
}

// ReverseIndex maps a node to the nodes that directly depend on it.
type ReverseIndex map[string][]string

// ReverseIndex builds the reverse dependency index of the graph.
// The index is a copy and is never changed by later graph mutations.
func (g *Graph) ReverseIndex() ReverseIndex {
	idx := make(ReverseIndex, len(g.edges))
	for _, id := range g.order {
		children := g.edges[id]
		cp := make([]string, len(children))
		copy(cp, children)
		idx[id] = cp
	}
	return idx
}

// Affected returns the changed nodes known to the index and every node that
// transitively depends on them, in breadth-first discovery order.
func (r ReverseIndex) Affected(changed []string) []string {
	seen := make(map[string]bool)
	var result, queue []string

	for _, id := range changed {
		if _, exists := r[id]; !exists || seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, dependent := range r[id] {
			if !seen[dependent] {
				seen[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	return result
}

// GetAffectedNodes returns all nodes affected by changes to the given nodes.
// This includes the changed nodes and all their downstream dependents.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	return g.ReverseIndex().Affected(changedIDs)
}

// GetUpstreamNodes returns all nodes upstream of the given node (its dependencies
// and their dependencies), nearest first.
func (g *Graph) GetUpstreamNodes(id string) []string {
	seen := map[string]bool{id: true}
	var result []string
	queue := []string{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, parentID := range g.parents[current] {
			if !seen[parentID] {
				seen[parentID] = true
				result = append(result, parentID)
				queue = append(queue, parentID)
			}
		}
	}
	return result
}

// GetRoots returns nodes with no parents (no dependencies), in insertion order.
func (g *Graph) GetRoots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeaves returns nodes with no children (no dependents), in insertion order.
func (g *Graph) GetLeaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
