// ABOUTME: Serializer converting a Graph back to canonical DOT source with deterministic ordering.
// ABOUTME: Nodes sort by ID and attributes sort by key so output is stable across runs.
package dot

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Serialize renders the graph as DOT source. Nodes are emitted in sorted-ID
// order and attributes in sorted-key order; edges keep declaration order.
func Serialize(g *Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", quoteIfNeeded(g.Name))

	wroteDefaults := false
	if len(g.Attrs) > 0 {
		fmt.Fprintf(&b, "  graph [%s]\n", formatAttrs(g.Attrs))
		wroteDefaults = true
	}
	if len(g.NodeDefaults) > 0 {
		fmt.Fprintf(&b, "  node [%s]\n", formatAttrs(g.NodeDefaults))
		wroteDefaults = true
	}
	if len(g.EdgeDefaults) > 0 {
		fmt.Fprintf(&b, "  edge [%s]\n", formatAttrs(g.EdgeDefaults))
		wroteDefaults = true
	}
	if wroteDefaults {
		b.WriteString("\n")
	}

	nodeIDs := g.NodeIDs()
	for _, id := range nodeIDs {
		writeNode(&b, g.Nodes[id])
	}

	if len(nodeIDs) > 0 && len(g.Subgraphs) > 0 {
		b.WriteString("\n")
	}
	for _, sg := range g.Subgraphs {
		writeSubgraph(&b, sg)
	}

	if (len(nodeIDs) > 0 || len(g.Subgraphs) > 0) && len(g.Edges) > 0 {
		b.WriteString("\n")
	}
	for _, e := range g.Edges {
		writeEdge(&b, e)
	}

	b.WriteString("}\n")
	return b.String()
}

func writeNode(b *strings.Builder, node *Node) {
	id := quoteIfNeeded(node.ID)
	if len(node.Attrs) > 0 {
		fmt.Fprintf(b, "  %s [%s]\n", id, formatAttrs(node.Attrs))
	} else {
		fmt.Fprintf(b, "  %s\n", id)
	}
}

func writeSubgraph(b *strings.Builder, sg *Subgraph) {
	name := sg.Name
	if sg.ID != "" {
		name = sg.ID
	}
	fmt.Fprintf(b, "  subgraph %s {\n", name)

	for _, k := range sortedKeys(sg.Attrs) {
		fmt.Fprintf(b, "    %s=%s\n", k, quoteValue(sg.Attrs[k]))
	}
	if len(sg.NodeDefaults) > 0 {
		fmt.Fprintf(b, "    node [%s]\n", formatAttrs(sg.NodeDefaults))
	}
	for _, nodeID := range sg.NodeIDs {
		fmt.Fprintf(b, "    %s\n", quoteIfNeeded(nodeID))
	}

	b.WriteString("  }\n")
}

func writeEdge(b *strings.Builder, e *Edge) {
	from := quoteIfNeeded(e.From)
	to := quoteIfNeeded(e.To)
	if len(e.Attrs) > 0 {
		fmt.Fprintf(b, "  %s -> %s [%s]\n", from, to, formatAttrs(e.Attrs))
	} else {
		fmt.Fprintf(b, "  %s -> %s\n", from, to)
	}
}

// ApplyColorCoding decorates nodes with fill colors by shape and edges with
// colors by success/fail labels, for rendered pipeline visualizations.
func ApplyColorCoding(g *Graph) {
	shapeColors := map[string]string{
		"Mdiamond":      "#90EE90", // start
		"Msquare":       "#FFB6C1", // exit
		"box":           "#ADD8E6", // codergen
		"diamond":       "#FFFFE0", // conditional
		"hexagon":       "#DDA0DD", // human gate
		"parallelogram": "#FFA500", // tool
		"octagon":       "#D3D3D3", // verify
	}

	for _, node := range g.Nodes {
		if node.Attrs == nil {
			continue
		}
		if color, ok := shapeColors[node.Attrs["shape"]]; ok {
			node.Attrs["fillcolor"] = color
			node.Attrs["style"] = "filled"
		}
	}

	for _, edge := range g.Edges {
		if edge.Attrs == nil {
			continue
		}
		label := strings.ToLower(edge.Attrs["label"])
		switch {
		case strings.Contains(label, "success"):
			edge.Attrs["color"] = "green"
		case strings.Contains(label, "fail"):
			edge.Attrs["color"] = "red"
			edge.Attrs["style"] = "dashed"
		}
	}
}

func formatAttrs(attrs map[string]string) string {
	keys := sortedKeys(attrs)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, quoteValue(attrs[k])))
	}
	return strings.Join(parts, ", ")
}

func quoteIfNeeded(val string) string {
	if isBareIdentifier(val) {
		return val
	}
	return quoteValue(val)
}

// quoteValue renders a DOT-safe value: bare when it is a simple identifier or
// number, double-quoted with escapes otherwise.
func quoteValue(val string) string {
	if val == "" {
		return `""`
	}
	if isBareIdentifier(val) {
		return val
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, ch := range val {
		switch ch {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// isBareIdentifier reports whether val can be written unquoted: a number
// (possibly negative or floating) or a word of lowercase letters, digits,
// and underscores.
func isBareIdentifier(val string) bool {
	if val == "" {
		return false
	}
	if isNumeric(val) {
		return true
	}
	for _, ch := range val {
		if ch != '_' && !unicode.IsLower(ch) && !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

func isNumeric(val string) bool {
	if val == "" {
		return false
	}
	start := 0
	if val[0] == '-' {
		if len(val) == 1 {
			return false
		}
		start = 1
	}
	hasDot, hasDigit := false, false
	for i := start; i < len(val); i++ {
		switch ch := val[i]; {
		case ch == '.':
			if hasDot {
				return false
			}
			hasDot = true
		case ch >= '0' && ch <= '9':
			hasDigit = true
		default:
			return false
		}
	}
	return hasDigit
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
