// ABOUTME: Edge selection logic that picks the next node after a stage completes.
// ABOUTME: Filters by condition, honors preferred labels and suggested IDs, ranks by priority then weight.
package attractor

import (
	"regexp"
	"strconv"
	"strings"
)

// acceleratorPatterns match the shorthand prefixes used on human-gate edge
// labels: "[A] Approve", "A) Approve", "A - Approve".
var acceleratorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[(\w)\]\s*`),
	regexp.MustCompile(`^(\w)\)\s*`),
	regexp.MustCompile(`^(\w)\s*-\s+`),
}

// NormalizeLabel lowercases a label and strips any accelerator prefix so that
// "[A] Approve" and "approve" compare equal.
func NormalizeLabel(label string) string {
	s := strings.TrimSpace(label)
	for _, pat := range acceleratorPatterns {
		if m := pat.FindStringSubmatch(s); m != nil {
			s = s[len(m[0]):]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// AcceleratorKey extracts the single-character accelerator from a label like
// "[A] Approve", returning "" when the label carries none.
func AcceleratorKey(label string) string {
	s := strings.TrimSpace(label)
	for _, pat := range acceleratorPatterns {
		if m := pat.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

// SelectEdge picks the next edge to follow from nodeID after the given
// outcome. Selection procedure:
//
//  1. Build the candidate set from outgoing edges whose condition evaluates
//     true against the post-outcome context. Edges without a condition are
//     unconditional and always qualify, except when the outcome is FAIL:
//     a failed stage only follows edges that matched it explicitly.
//  2. If the outcome carries a preferred label, narrow to edges whose label
//     matches it (exact first, then accelerator key, then normalized form).
//  3. If the outcome suggests next node IDs, narrow to the first suggested
//     target present in the candidate set.
//  4. Rank remaining candidates by highest priority, then highest weight,
//     then source declaration order.
//
// Returns nil when no candidate remains; the engine treats that as fatal
// for nodes with outgoing edges.
func SelectEdge(g *Graph, nodeID string, outcome *Outcome, pctx *Context) *Edge {
	candidates := matchingEdges(g, nodeID, outcome, pctx)
	if len(candidates) == 0 {
		return nil
	}

	if outcome.PreferredLabel != "" {
		if matched := matchPreferredLabel(candidates, outcome.PreferredLabel); len(matched) > 0 {
			return bestByPriorityWeight(matched)
		}
	}

	for _, id := range outcome.SuggestedNextIDs {
		for _, e := range candidates {
			if e.To == id {
				return e
			}
		}
	}

	return bestByPriorityWeight(candidates)
}

// SelectFanOutEdges returns every outgoing edge whose condition passes, in
// source order. Parallel fan-out nodes dispatch one branch per edge.
func SelectFanOutEdges(g *Graph, nodeID string, outcome *Outcome, pctx *Context) []*Edge {
	return matchingEdges(g, nodeID, outcome, pctx)
}

// matchingEdges applies the condition filter (step 1) and returns candidates
// in source order.
func matchingEdges(g *Graph, nodeID string, outcome *Outcome, pctx *Context) []*Edge {
	var candidates []*Edge
	for _, e := range g.OutgoingEdges(nodeID) {
		cond := strings.TrimSpace(e.Attr("condition", ""))
		if cond == "" {
			if outcome.Status != StatusFail {
				candidates = append(candidates, e)
			}
			continue
		}
		if EvaluateCondition(cond, outcome, pctx) {
			candidates = append(candidates, e)
		}
	}
	return candidates
}

// matchPreferredLabel returns the candidate edges whose label matches the
// preferred label. Three passes, strictest first: exact string equality,
// accelerator-key equality for labels of form "[K] rest", then the
// normalized (lowercased, prefix-stripped) form.
func matchPreferredLabel(candidates []*Edge, preferred string) []*Edge {
	var exact []*Edge
	for _, e := range candidates {
		if e.Attr("label", "") == preferred {
			exact = append(exact, e)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var byKey []*Edge
	for _, e := range candidates {
		key := AcceleratorKey(e.Attr("label", ""))
		if key != "" && strings.EqualFold(key, preferred) {
			byKey = append(byKey, e)
		}
	}
	if len(byKey) > 0 {
		return byKey
	}

	want := NormalizeLabel(preferred)
	if want == "" {
		return nil
	}
	var normalized []*Edge
	for _, e := range candidates {
		if NormalizeLabel(e.Attr("label", "")) == want {
			normalized = append(normalized, e)
		}
	}
	return normalized
}

// bestByPriorityWeight ranks edges by highest priority, then highest weight,
// then source order. Strict comparisons keep the earliest-declared edge on ties.
func bestByPriorityWeight(edges []*Edge) *Edge {
	if len(edges) == 0 {
		return nil
	}
	best := edges[0]
	bestPri := edgePriority(best)
	bestWeight := edgeWeight(best)
	for _, e := range edges[1:] {
		pri := edgePriority(e)
		weight := edgeWeight(e)
		if pri > bestPri || (pri == bestPri && weight > bestWeight) {
			best = e
			bestPri = pri
			bestWeight = weight
		}
	}
	return best
}

// edgeWeight parses the edge's weight attribute, defaulting to 1.
func edgeWeight(e *Edge) float64 {
	raw := strings.TrimSpace(e.Attr("weight", ""))
	if raw == "" {
		return 1
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	return w
}

// edgePriority parses the edge's priority attribute, defaulting to 0.
func edgePriority(e *Edge) int {
	raw := strings.TrimSpace(e.Attr("priority", ""))
	if raw == "" {
		return 0
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return p
}
