// ABOUTME: Parallel branch execution, ranking, and context merging for concurrent pipeline fan-out/fan-in.
// ABOUTME: Provides ExecuteParallelBranches, BestBranchResult, MergeContexts, and supporting types for the engine.
package attractor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// ParallelBranch identifies a branch head dispatched by a fan-out node,
// together with the weight of the edge that led to it. The weight breaks
// ties when ranking branch results.
type ParallelBranch struct {
	NodeID string  `json:"node_id"`
	Weight float64 `json:"weight"`
}

// BranchResult holds the outcome of executing a single parallel branch.
type BranchResult struct {
	NodeID        string   `json:"node_id"`
	Weight        float64  `json:"weight"`
	Outcome       *Outcome `json:"outcome,omitempty"`
	ErrorMessage  string   `json:"error,omitempty"`
	BranchContext *Context `json:"-"`
	Error         error    `json:"-"`
}

// ParallelConfig holds parsed configuration for parallel execution.
type ParallelConfig struct {
	MaxParallel int
	JoinPolicy  string
	ErrorPolicy string
	KRequired   int // For k_of_n policy: minimum number of branches that must succeed
}

// ParallelConfigFromContext reads parallel configuration values from the pipeline
// context and returns a ParallelConfig with defaults applied for missing values.
func ParallelConfigFromContext(pctx *Context) ParallelConfig {
	config := ParallelConfig{
		MaxParallel: 4,
		JoinPolicy:  "wait_all",
		ErrorPolicy: "continue",
	}

	if policy := pctx.GetString("parallel.join_policy", ""); policy != "" {
		config.JoinPolicy = policy
	}
	if policy := pctx.GetString("parallel.error_policy", ""); policy != "" {
		config.ErrorPolicy = policy
	}
	if n := pctx.GetInt("parallel.max_parallel", 0); n > 0 {
		config.MaxParallel = n
	}
	if n := pctx.GetInt("parallel.k_required", 0); n > 0 {
		config.KRequired = n
	}

	return config
}

// ExecuteParallelBranches forks the context for each branch and executes them
// concurrently in separate goroutines. Each branch follows edges from its start
// node until it reaches a fan-in node (shape=tripleoctagon) or a terminal node.
// A buffered channel is used as a semaphore to respect MaxParallel.
//
// Error policies:
//   - "continue": all branches run to completion regardless of failures (default).
//   - "fail_fast": on the first branch error or failure outcome, cancel remaining branches.
func ExecuteParallelBranches(
	ctx context.Context,
	graph *Graph,
	pctx *Context,
	store *ArtifactStore,
	registry *HandlerRegistry,
	branches []ParallelBranch,
	config ParallelConfig,
) ([]BranchResult, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("no branches to execute")
	}

	maxParallel := config.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	// For fail_fast, wrap the context with a cancel function so we can
	// cancel remaining branches when one fails.
	branchCtx := ctx
	var cancelBranches context.CancelFunc
	if config.ErrorPolicy == "fail_fast" {
		branchCtx, cancelBranches = context.WithCancel(ctx)
		defer cancelBranches()
	}

	semaphore := make(chan struct{}, maxParallel)
	results := make([]BranchResult, len(branches))
	var wg sync.WaitGroup

	for i, branch := range branches {
		wg.Add(1)
		go func(idx int, branch ParallelBranch) {
			defer wg.Done()

			// Acquire semaphore slot
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-branchCtx.Done():
				results[idx] = BranchResult{
					NodeID:       branch.NodeID,
					Weight:       branch.Weight,
					Error:        branchCtx.Err(),
					ErrorMessage: branchCtx.Err().Error(),
				}
				return
			}

			// Fork context for this branch
			forkedCtx := pctx.Clone()

			// Execute the branch chain
			outcome, err := executeBranchChain(branchCtx, graph, forkedCtx, store, registry, branch.NodeID)
			result := BranchResult{
				NodeID:        branch.NodeID,
				Weight:        branch.Weight,
				Outcome:       outcome,
				BranchContext: forkedCtx,
				Error:         err,
			}
			if err != nil {
				result.ErrorMessage = err.Error()
			}
			results[idx] = result

			// For fail_fast, cancel other branches on first failure
			if config.ErrorPolicy == "fail_fast" && cancelBranches != nil {
				if err != nil || (outcome != nil && outcome.Status == StatusFail) {
					cancelBranches()
				}
			}
		}(i, branch)
	}

	wg.Wait()
	return results, nil
}

// executeBranchChain runs nodes starting from startNodeID, following edges until
// it reaches a fan-in node (shape=tripleoctagon), a terminal node, or runs out
// of edges. It returns the outcome of the last executed node.
func executeBranchChain(
	ctx context.Context,
	graph *Graph,
	pctx *Context,
	store *ArtifactStore,
	registry *HandlerRegistry,
	startNodeID string,
) (*Outcome, error) {
	currentNodeID := startNodeID
	var lastOutcome *Outcome

	const maxSteps = 1000
	for step := 0; step < maxSteps; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		node := graph.FindNode(currentNodeID)
		if node == nil {
			return nil, fmt.Errorf("branch node %q not found in graph", currentNodeID)
		}

		// Stop at fan-in nodes without executing them
		if isFanIn(node) {
			if lastOutcome == nil {
				return &Outcome{Status: StatusSuccess}, nil
			}
			return lastOutcome, nil
		}

		// Stop at terminal nodes without executing them
		if isTerminal(node) {
			if lastOutcome == nil {
				return &Outcome{Status: StatusSuccess}, nil
			}
			return lastOutcome, nil
		}

		// Resolve and execute the handler
		handler := registry.Resolve(node)
		if handler == nil {
			return nil, fmt.Errorf("no handler found for branch node %q", currentNodeID)
		}

		outcome, err := safeExecute(ctx, handler, node, pctx, store)
		if err != nil {
			return nil, err
		}
		lastOutcome = outcome

		// Apply context updates from the handler
		if outcome.ContextUpdates != nil {
			pctx.ApplyUpdates(outcome.ContextUpdates)
		}

		// Set outcome in context for edge selection
		pctx.Set("outcome", string(outcome.Status))
		pctx.Set("last_stage", currentNodeID)
		if outcome.PreferredLabel != "" {
			pctx.Set("preferred_label", outcome.PreferredLabel)
		}

		// If the node failed, stop this branch
		if outcome.Status == StatusFail {
			return outcome, nil
		}

		// Select next edge
		nextEdge := SelectEdge(graph, currentNodeID, outcome, pctx)
		if nextEdge == nil {
			// No outgoing edge, branch ends here
			return outcome, nil
		}

		currentNodeID = nextEdge.To
	}

	return nil, fmt.Errorf("branch execution exceeded maximum steps (%d)", maxSteps)
}

// isFanIn reports whether a node is a parallel fan-in join point.
func isFanIn(node *Node) bool {
	if node.Shape() == "tripleoctagon" {
		return true
	}
	t := node.Attr("type", node.Attr("node_type", ""))
	return t == "parallel.fan_in"
}

// statusRank orders outcome statuses for branch ranking:
// SUCCESS beats PARTIAL_SUCCESS beats everything else.
func statusRank(s StageStatus) int {
	switch s {
	case StatusSuccess:
		return 2
	case StatusPartialSuccess:
		return 1
	default:
		return 0
	}
}

// BestBranchResult picks the winning branch from a result set: highest
// status rank first (SUCCESS > PARTIAL_SUCCESS > FAIL), then highest edge
// weight, then dispatch order. Branches that errored rank below all
// branches that produced an outcome. Returns nil for an empty result set.
func BestBranchResult(results []BranchResult) *BranchResult {
	var best *BranchResult
	bestRank := -1
	bestWeight := 0.0
	for i := range results {
		r := &results[i]
		rank := -1
		if r.Error == nil && r.Outcome != nil {
			rank = statusRank(r.Outcome.Status)
		}
		if best == nil || rank > bestRank || (rank == bestRank && r.Weight > bestWeight) {
			best = r
			bestRank = rank
			bestWeight = r.Weight
		}
	}
	return best
}

// MergeContexts merges branch results back into the parent context according
// to the specified join policy. All merge operations are logged to the parent
// context's log for visibility, including which branch wrote which values and
// conflict resolution via last-write-wins. Artifact references from branch
// contexts are consolidated into a parallel.artifacts manifest.
//
// Policies:
//   - "wait_all": All branches must succeed. Returns error if any branch failed.
//     Merges all branch contexts into parent (last-write-wins for conflicts).
//   - "wait_any": At least one branch must succeed. Only successful branches
//     are merged. Returns error if all branches failed.
//   - "k_of_n": At least K branches must succeed (K read from parent context
//     key "parallel.k_required", defaults to N). Only successful branches merged.
//   - "quorum": A strict majority (>50%) of branches must succeed.
//     Only successful branches are merged.
func MergeContexts(parent *Context, branches []BranchResult, policy string) error {
	if policy == "" {
		policy = "wait_all"
	}

	parent.AppendLog(fmt.Sprintf("[merge] starting merge with policy %q for %d branch(es)", policy, len(branches)))

	var err error
	switch policy {
	case "wait_all":
		err = mergeWaitAll(parent, branches)
	case "wait_any":
		err = mergeWaitAny(parent, branches)
	case "k_of_n":
		err = mergeKOfN(parent, branches)
	case "quorum":
		err = mergeQuorum(parent, branches)
	default:
		return fmt.Errorf("unknown join policy: %q", policy)
	}

	return err
}

// branchSucceeded returns true if a branch completed without error and without
// a StatusFail outcome.
func branchSucceeded(b BranchResult) bool {
	return b.Error == nil && b.Outcome != nil && b.Outcome.Status != StatusFail
}

// collectSuccessfulBranches filters branches to only those that succeeded.
func collectSuccessfulBranches(branches []BranchResult) []BranchResult {
	var result []BranchResult
	for _, b := range branches {
		if branchSucceeded(b) {
			result = append(result, b)
		}
	}
	return result
}

// mergeBranchContextsWithLogging merges the given branches into the parent context
// using last-write-wins semantics. It logs each branch's contributions and any
// key conflicts to the parent context's log.
func mergeBranchContextsWithLogging(parent *Context, branches []BranchResult) {
	// Take a snapshot of the parent's current keys to detect conflicts
	parentSnap := parent.Snapshot()
	seenKeys := make(map[string]string) // key -> last branch that wrote it

	for _, b := range branches {
		if b.BranchContext == nil {
			continue
		}

		snap := b.BranchContext.Snapshot()
		parent.AppendLog(fmt.Sprintf("[merge] merging %d key(s) from branch %q", len(snap), b.NodeID))

		for k, v := range snap {
			// Check for conflicts with previous branches or parent
			if prevBranch, exists := seenKeys[k]; exists {
				parent.AppendLog(fmt.Sprintf("[merge] key %q: conflict between branch %q and branch %q, resolved via last-write-wins (winner: %q)", k, prevBranch, b.NodeID, b.NodeID))
			} else if _, parentHas := parentSnap[k]; parentHas {
				parentVal := parentSnap[k]
				if fmt.Sprintf("%v", parentVal) != fmt.Sprintf("%v", v) {
					parent.AppendLog(fmt.Sprintf("[merge] key %q: branch %q overwrites parent value via last-write-wins", k, b.NodeID))
				}
			}
			seenKeys[k] = b.NodeID
		}

		parent.ApplyUpdates(snap)
	}
}

// buildArtifactManifest scans branch contexts for artifact ID references and
// builds a per-branch manifest. Artifact IDs are identified by context keys
// that contain "artifact_id" as a substring.
func buildArtifactManifest(branches []BranchResult) map[string][]string {
	manifest := make(map[string][]string)
	for _, b := range branches {
		if b.BranchContext == nil {
			manifest[b.NodeID] = nil
			continue
		}
		snap := b.BranchContext.Snapshot()
		var ids []string
		for k, v := range snap {
			if isArtifactKey(k) {
				if s, ok := v.(string); ok && s != "" {
					ids = append(ids, s)
				}
			}
		}
		manifest[b.NodeID] = ids
	}
	return manifest
}

// isArtifactKey returns true if the key name suggests it holds an artifact reference.
func isArtifactKey(key string) bool {
	// Match keys containing "artifact_id" as a substring
	for i := 0; i+len("artifact_id") <= len(key); i++ {
		if key[i:i+len("artifact_id")] == "artifact_id" {
			return true
		}
	}
	return false
}

// finalizeMerge writes the shared post-merge context keys: the artifact
// manifest, the full result set, and the winning branch ID.
func finalizeMerge(parent *Context, merged, all []BranchResult) {
	manifest := buildArtifactManifest(merged)
	parent.Set("parallel.artifacts", manifest)
	parent.Set("parallel.results", all)
	if best := BestBranchResult(all); best != nil {
		parent.Set("parallel.fan_in.best_id", best.NodeID)
	}
}

// mergeWaitAll requires all branches to succeed and merges all contexts.
func mergeWaitAll(parent *Context, branches []BranchResult) error {
	// Check that all branches succeeded
	for _, b := range branches {
		if b.Error != nil {
			return fmt.Errorf("branch %q failed with error: %w", b.NodeID, b.Error)
		}
		if b.Outcome != nil && b.Outcome.Status == StatusFail {
			return fmt.Errorf("branch %q failed: %s", b.NodeID, b.Outcome.FailureReason)
		}
	}

	// Merge all branch contexts into parent with logging
	mergeBranchContextsWithLogging(parent, branches)

	finalizeMerge(parent, branches, branches)

	parent.AppendLog(fmt.Sprintf("[merge] completed wait_all merge: %d branch(es) merged", len(branches)))

	return nil
}

// mergeWaitAny requires at least one branch to succeed. Only successful branches
// are merged into the parent context.
func mergeWaitAny(parent *Context, branches []BranchResult) error {
	successBranches := collectSuccessfulBranches(branches)

	if len(successBranches) == 0 {
		return fmt.Errorf("all branches failed in wait_any policy")
	}

	parent.AppendLog(fmt.Sprintf("[merge] wait_any: %d of %d branch(es) succeeded", len(successBranches), len(branches)))

	// Merge only successful branches with logging
	mergeBranchContextsWithLogging(parent, successBranches)

	finalizeMerge(parent, successBranches, branches)

	parent.AppendLog(fmt.Sprintf("[merge] completed wait_any merge: %d branch(es) merged", len(successBranches)))

	return nil
}

// mergeKOfN requires at least K branches to succeed. K is read from the parent
// context key "parallel.k_required". If not set, defaults to len(branches).
// Only successful branches are merged.
func mergeKOfN(parent *Context, branches []BranchResult) error {
	k := parent.GetInt("parallel.k_required", len(branches))
	if k <= 0 {
		k = len(branches)
	}

	successBranches := collectSuccessfulBranches(branches)

	if len(successBranches) < k {
		return fmt.Errorf("k_of_n policy requires %d successful branch(es) but only %d of %d succeeded", k, len(successBranches), len(branches))
	}

	parent.AppendLog(fmt.Sprintf("[merge] k_of_n: %d of %d branch(es) succeeded (required: %d)", len(successBranches), len(branches), k))

	// Merge only successful branches with logging
	mergeBranchContextsWithLogging(parent, successBranches)

	finalizeMerge(parent, successBranches, branches)

	parent.AppendLog(fmt.Sprintf("[merge] completed k_of_n merge: %d branch(es) merged", len(successBranches)))

	return nil
}

// mergeQuorum requires a strict majority (>50%) of branches to succeed.
// Only successful branches are merged.
func mergeQuorum(parent *Context, branches []BranchResult) error {
	total := len(branches)
	successBranches := collectSuccessfulBranches(branches)
	required := (total / 2) + 1 // Strict majority: more than half

	if len(successBranches) < required {
		return fmt.Errorf("quorum policy requires strict majority (%d of %d) but only %d succeeded", required, total, len(successBranches))
	}

	parent.AppendLog(fmt.Sprintf("[merge] quorum: %d of %d branch(es) succeeded (required majority: %d)", len(successBranches), total, required))

	// Merge only successful branches with logging
	mergeBranchContextsWithLogging(parent, successBranches)

	finalizeMerge(parent, successBranches, branches)

	parent.AppendLog(fmt.Sprintf("[merge] completed quorum merge: %d branch(es) merged", len(successBranches)))

	return nil
}

// findFanInNode locates the fan-in node (shape=tripleoctagon) that the given
// branch nodes converge to. It searches outgoing edges from each branch
// recursively until a fan-in node is found.
func findFanInNode(graph *Graph, branchIDs []string) *Node {
	visited := make(map[string]bool)
	var queue []string

	// Start with all branch starting nodes
	queue = append(queue, branchIDs...)

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true

		node := graph.FindNode(nodeID)
		if node == nil {
			continue
		}

		if isFanIn(node) {
			return node
		}

		// Follow outgoing edges
		for _, edge := range graph.OutgoingEdges(nodeID) {
			if !visited[edge.To] {
				queue = append(queue, edge.To)
			}
		}
	}

	return nil
}

// parseBranchList converts a context value previously stored by the parallel
// fan-out handler back into a branch slice. Values round-tripped through a
// checkpoint come back as []any of maps, so both shapes are handled.
func parseBranchList(v any) []ParallelBranch {
	switch val := v.(type) {
	case []ParallelBranch:
		return val
	case []any:
		var branches []ParallelBranch
		for _, item := range val {
			switch b := item.(type) {
			case ParallelBranch:
				branches = append(branches, b)
			case map[string]any:
				pb := ParallelBranch{Weight: 1}
				if id, ok := b["node_id"].(string); ok {
					pb.NodeID = id
				}
				switch w := b["weight"].(type) {
				case float64:
					pb.Weight = w
				case int:
					pb.Weight = float64(w)
				case string:
					if f, err := strconv.ParseFloat(w, 64); err == nil {
						pb.Weight = f
					}
				}
				if pb.NodeID != "" {
					branches = append(branches, pb)
				}
			case string:
				branches = append(branches, ParallelBranch{NodeID: b, Weight: 1})
			}
		}
		return branches
	case []string:
		var branches []ParallelBranch
		for _, id := range val {
			branches = append(branches, ParallelBranch{NodeID: id, Weight: 1})
		}
		return branches
	default:
		return nil
	}
}
