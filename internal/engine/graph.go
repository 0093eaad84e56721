package engine

// graph.go - Dependency graph and evaluation plan of a field schema

import (
	"github.com/leapstack-labs/leapcalc/internal/dag"
	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
)

// DependencyNode is one field of a schema with the fields its formula references.
type DependencyNode struct {
	Key     core.FieldKey
	Formula string
	Role    core.FieldRole
	// Dependencies are the schema fields referenced outside aggregation calls,
	// in order of first appearance. Input fields have none.
	Dependencies []core.FieldKey
	// Scopes are the collections the formula aggregates over.
	Scopes []string
}

// IsAggregate reports whether the node's formula aggregates over a collection.
func (n *DependencyNode) IsAggregate() bool {
	return len(n.Scopes) > 0
}

// DependencyGraph maps every field of one schema to its node.
type DependencyGraph struct {
	schema *core.FieldSchema
	nodes  map[core.FieldKey]*DependencyNode
	graph  *dag.Graph
}

// BuildGraph scans the formula of every computed field and links it to the schema
// fields it references. Unknown identifiers are not dependencies; they surface as
// evaluation errors. Scanning never fails, whatever the formula text.
func BuildGraph(schema *core.FieldSchema) *DependencyGraph {
	g := &DependencyGraph{
		schema: schema,
		nodes:  make(map[core.FieldKey]*DependencyNode, schema.Len()),
		graph:  dag.NewGraph(),
	}

	for _, f := range schema.Fields() {
		node := &DependencyNode{Key: f.Key, Role: f.Role}
		if f.IsComputed() {
			node.Formula, _ = schema.Formula(f.Key)
			refs := formula.Scan(node.Formula)
			for _, ident := range refs.Identifiers {
				if key := core.FieldKey(ident); schema.Has(key) {
					node.Dependencies = append(node.Dependencies, key)
				}
			}
			node.Scopes = refs.Scopes
		}
		g.nodes[f.Key] = node
		g.graph.AddNode(string(f.Key), node)
	}

	for _, key := range schema.Keys() {
		for _, dep := range g.nodes[key].Dependencies {
			// Both ends are schema fields, so this cannot fail.
			_ = g.graph.AddEdge(string(dep), string(key))
		}
	}

	return g
}

// Schema returns the schema the graph was built from.
func (g *DependencyGraph) Schema() *core.FieldSchema { return g.schema }

// Node returns the node of key.
func (g *DependencyGraph) Node(key core.FieldKey) (*DependencyNode, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Nodes returns all nodes in schema order.
func (g *DependencyGraph) Nodes() []*DependencyNode {
	nodes := make([]*DependencyNode, 0, len(g.nodes))
	for _, key := range g.schema.Keys() {
		nodes = append(nodes, g.nodes[key])
	}
	return nodes
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.nodes) }

// Dependents returns the fields that directly reference key.
func (g *DependencyGraph) Dependents(key core.FieldKey) []core.FieldKey {
	return toKeys(g.graph.GetChildren(string(key)))
}

// Upstream returns every field key transitively depends on, nearest first.
func (g *DependencyGraph) Upstream(key core.FieldKey) []core.FieldKey {
	return toKeys(g.graph.GetUpstreamNodes(string(key)))
}

// Levels groups fields so each level only depends on earlier ones.
func (g *DependencyGraph) Levels() ([][]core.FieldKey, error) {
	levels, err := g.graph.GetExecutionLevels()
	if err != nil {
		return nil, err
	}
	out := make([][]core.FieldKey, len(levels))
	for i, level := range levels {
		out[i] = toKeys(level)
	}
	return out, nil
}

// ComputationOrder is the evaluation order of a schema's fields.
type ComputationOrder struct {
	// Order lists every field with dependencies first. It must not be used for
	// evaluation when Cycles is non-empty.
	Order  []core.FieldKey
	Cycles [][]core.FieldKey
}

// Sort orders the graph in schema order, detecting cycles.
func (g *DependencyGraph) Sort() ComputationOrder {
	o := g.graph.Sort()
	out := ComputationOrder{Order: toKeys(o.Order)}
	for _, c := range o.Cycles {
		out.Cycles = append(out.Cycles, toKeys(c))
	}
	return out
}

// ReverseIndex builds the map from each field to the fields that directly depend on it.
func (g *DependencyGraph) ReverseIndex() dag.ReverseIndex {
	return g.graph.ReverseIndex()
}

func toKeys(ids []string) []core.FieldKey {
	if ids == nil {
		return nil
	}
	keys := make([]core.FieldKey, len(ids))
	for i, id := range ids {
		keys[i] = core.FieldKey(id)
	}
	return keys
}

func toIDs(keys []core.FieldKey) []string {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = string(k)
	}
	return ids
}

// Plan is everything derived from one schema that computation needs. A plan is
// immutable once built and may be shared by concurrent computations.
type Plan struct {
	Schema  *core.FieldSchema
	Graph   *DependencyGraph
	Order   ComputationOrder
	Reverse dag.ReverseIndex

	// aggregates lists the computed fields whose formula aggregates, in schema order.
	aggregates []core.FieldKey
}

// NewPlan builds the graph, order and reverse index of schema.
func NewPlan(schema *core.FieldSchema) *Plan {
	g := BuildGraph(schema)
	p := &Plan{
		Schema:  schema,
		Graph:   g,
		Order:   g.Sort(),
		Reverse: g.ReverseIndex(),
	}
	for _, n := range g.Nodes() {
		if n.IsAggregate() {
			p.aggregates = append(p.aggregates, n.Key)
		}
	}
	return p
}

// Aggregates returns the computed fields that aggregate over collections.
func (p *Plan) Aggregates() []core.FieldKey {
	out := make([]core.FieldKey, len(p.aggregates))
	copy(out, p.aggregates)
	return out
}

// Affected returns the computed fields an incremental computation must evaluate,
// in evaluation order:
//   - fields transitively depending on a changed field, and changed computed fields
//   - computed fields missing from prior, which has nothing to copy for them
//   - aggregating fields and their dependents when collections are supplied,
//     since member values may have changed without the entity knowing
//
// Changed keys that are not schema fields are ignored.
func (p *Plan) Affected(changed []core.FieldKey, prior core.EntityValues, withCollections bool) []core.FieldKey {
	seeds := make([]core.FieldKey, 0, len(changed))
	for _, k := range changed {
		if p.Schema.Has(k) {
			seeds = append(seeds, k)
		}
	}
	for _, f := range p.Schema.Fields() {
		if !f.IsComputed() {
			continue
		}
		if _, ok := prior[f.Key]; !ok {
			seeds = append(seeds, f.Key)
		}
	}
	if withCollections {
		seeds = append(seeds, p.aggregates...)
	}

	affected := make(map[core.FieldKey]bool)
	for _, id := range p.Reverse.Affected(toIDs(seeds)) {
		affected[core.FieldKey(id)] = true
	}

	var out []core.FieldKey
	for _, key := range p.Order.Order {
		if f, ok := p.Schema.Field(key); ok && f.IsComputed() && affected[key] {
			out = append(out, key)
		}
	}
	return out
}
