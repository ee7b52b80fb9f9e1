// ABOUTME: Parallel fan-out handler for the attractor pipeline runner.
// ABOUTME: Splits outgoing edges into branches and an optional continuation edge for the engine to execute.
package attractor

import (
	"context"
)

// ParallelHandler handles parallel fan-out nodes (shape=component).
// It splits the node's outgoing edges into parallel branches plus an
// optional continuation edge and records them in the outcome. The actual
// concurrent execution is managed by the engine, which owns the handler
// registry the branches need.
type ParallelHandler struct{}

// Type returns the handler type string "parallel".
func (h *ParallelHandler) Type() string {
	return "parallel"
}

// Execute identifies outgoing branches and returns an outcome listing them.
// If there are no outgoing edges, it returns a failure.
//
// The continuation edge, when one exists, is excluded from the branch set:
// it points past the fan-out (typically at the fan-in node) and is either
// explicitly marked with continuation=true or is the unique strictly
// heaviest outgoing edge. When all edge weights tie, every edge is a branch.
func (h *ParallelHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	joinPolicy := node.Attr("join_policy", "wait_all")
	errorPolicy := node.Attr("error_policy", "continue")
	maxParallel := node.Attr("max_parallel", "4")

	var edges []*Edge
	if g, ok := pctx.Get("_graph").(*Graph); ok {
		edges = g.OutgoingEdges(node.ID)
	}

	if len(edges) == 0 {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "No outgoing branches for parallel node: " + node.ID,
		}, nil
	}

	continuation := continuationEdge(edges)

	var branches []ParallelBranch
	for _, e := range edges {
		if e == continuation {
			continue
		}
		branches = append(branches, ParallelBranch{NodeID: e.To, Weight: edgeWeight(e)})
	}

	if len(branches) == 0 {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "No outgoing branches for parallel node: " + node.ID,
		}, nil
	}

	updates := map[string]any{
		"parallel.branches":     branches,
		"parallel.join_policy":  joinPolicy,
		"parallel.error_policy": errorPolicy,
		"parallel.max_parallel": maxParallel,
	}
	if k := node.Attr("k_required", ""); k != "" {
		updates["parallel.k_required"] = k
	}
	if continuation != nil {
		updates["parallel.continuation"] = continuation.To
	}

	return &Outcome{
		Status:         StatusSuccess,
		Notes:          "Parallel fan-out spawning branches from: " + node.ID,
		ContextUpdates: updates,
	}, nil
}

// continuationEdge picks the edge excluded from fan-out: an edge marked
// continuation=true wins; otherwise the strictly heaviest edge, provided
// no other edge ties with it. Returns nil when every edge is a branch.
func continuationEdge(edges []*Edge) *Edge {
	for _, e := range edges {
		if e.Attr("continuation", "") == "true" {
			return e
		}
	}

	if len(edges) < 2 {
		return nil
	}
	heaviest := edges[0]
	ties := false
	for _, e := range edges[1:] {
		w, hw := edgeWeight(e), edgeWeight(heaviest)
		switch {
		case w > hw:
			heaviest = e
			ties = false
		case w == hw:
			ties = true
		}
	}
	if ties {
		return nil
	}
	return heaviest
}
