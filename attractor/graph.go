// ABOUTME: Re-exports the dot graph model into the attractor package under local names.
// ABOUTME: Pipeline handlers and the engine work with Graph, Node, and Edge without importing dot directly.
package attractor

import "github.com/2389-research/stampede/dot"

// Graph model aliases. The dot package owns parsing and serialization; the
// engine and handlers only care about the structural API (FindNode,
// OutgoingEdges, Attr lookups), so aliasing keeps one definition of truth.
type (
	Graph    = dot.Graph
	Node     = dot.Node
	Edge     = dot.Edge
	Subgraph = dot.Subgraph
)

// Parse parses DOT pipeline source into a Graph.
func Parse(input string) (*Graph, error) {
	return dot.Parse(input)
}

// Serialize renders a Graph back to DOT source.
func Serialize(g *Graph) string {
	return dot.Serialize(g)
}
