// ABOUTME: Graph model for parsed pipelines: Graph, Node, Edge, Subgraph, and traversal helpers.
// ABOUTME: Nodes carry flat string attribute maps; edges are ordered and keep source declaration order.
package dot

import (
	"fmt"
	"sort"
)

// Graph is a parsed DOT digraph. Edges preserve source declaration order,
// which downstream edge selection relies on for deterministic tie-breaking.
type Graph struct {
	Name         string
	Nodes        map[string]*Node
	Edges        []*Edge
	Attrs        map[string]string // graph-level attributes
	NodeDefaults map[string]string // node [...] defaults
	EdgeDefaults map[string]string // edge [...] defaults
	Subgraphs    []*Subgraph
}

// Node is a graph node with an ID and a flat attribute map.
type Node struct {
	ID    string
	Attrs map[string]string
}

// Shape returns the node's shape attribute, or "" when unset.
func (n *Node) Shape() string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs["shape"]
}

// Attr returns the named attribute or the fallback when absent or empty.
func (n *Node) Attr(key, fallback string) string {
	if n.Attrs == nil {
		return fallback
	}
	if v, ok := n.Attrs[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Edge is a directed edge with an optional stable ID and attributes.
type Edge struct {
	ID    string
	From  string
	To    string
	Attrs map[string]string
}

// Attr returns the named edge attribute or the fallback when absent or empty.
func (e *Edge) Attr(key, fallback string) string {
	if e.Attrs == nil {
		return fallback
	}
	if v, ok := e.Attrs[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Subgraph is a named scope of nodes with its own attributes and node defaults.
type Subgraph struct {
	ID           string
	Name         string
	Attrs        map[string]string
	NodeIDs      []string
	NodeDefaults map[string]string
}

// Diagnostic is a validation finding attached to a node or edge.
type Diagnostic struct {
	Severity string // "error", "warning", "info"
	Message  string
	NodeID   string
	EdgeID   string
	Rule     string
}

// AddNode inserts a node, initializing the node map if needed.
func (g *Graph) AddNode(n *Node) {
	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}
	g.Nodes[n.ID] = n
}

// AddEdge appends an edge, preserving insertion order.
func (g *Graph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}

// FindNode returns the node with the given ID, or nil.
func (g *Graph) FindNode(id string) *Node {
	if g.Nodes == nil {
		return nil
	}
	return g.Nodes[id]
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var result []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			result = append(result, e)
		}
	}
	return result
}

// IncomingEdges returns the edges arriving at nodeID in declaration order.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	var result []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			result = append(result, e)
		}
	}
	return result
}

// FindStartNode returns the start node, or nil. Recognized via shape=Mdiamond
// or an explicit node_type/type=start attribute.
func (g *Graph) FindStartNode() *Node {
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		if node.Attrs["shape"] == "Mdiamond" ||
			node.Attrs["node_type"] == "start" || node.Attrs["type"] == "start" {
			return node
		}
	}
	return nil
}

// FindExitNode returns the first exit node in sorted-ID order, or nil.
func (g *Graph) FindExitNode() *Node {
	exits := g.FindExitNodes()
	if len(exits) == 0 {
		return nil
	}
	return exits[0]
}

// FindExitNodes returns every exit node in sorted-ID order. Recognized via
// shape=Msquare or an explicit node_type/type=exit attribute.
func (g *Graph) FindExitNodes() []*Node {
	var exits []*Node
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		if node.Attrs["shape"] == "Msquare" ||
			node.Attrs["node_type"] == "exit" || node.Attrs["type"] == "exit" {
			exits = append(exits, node)
		}
	}
	return exits
}

// NodeIDs returns all node IDs sorted for deterministic iteration.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StableID returns a deterministic identifier for the edge: "from->to".
func (e *Edge) StableID() string {
	return e.From + "->" + e.To
}

// AssignEdgeIDs fills in empty edge IDs from StableID, disambiguating
// duplicate from/to pairs with a numeric suffix. Existing IDs are kept.
func (g *Graph) AssignEdgeIDs() {
	counts := make(map[string]int)
	for _, e := range g.Edges {
		if e.ID != "" {
			continue
		}
		key := e.StableID()
		counts[key]++
		if counts[key] == 1 {
			e.ID = key
		} else {
			e.ID = fmt.Sprintf("%s#%d", key, counts[key])
		}
	}
}
