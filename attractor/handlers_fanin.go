// ABOUTME: Parallel fan-in handler for the attractor pipeline runner.
// ABOUTME: Ranks completed branch results, merges the winner's context updates, and optionally verifies the merge.
package attractor

import (
	"context"
	"fmt"
)

// FanInHandler handles parallel fan-in nodes (shape=tripleoctagon).
// It reads the branch results left in context by the fan-out stage, picks
// the best branch (SUCCESS > PARTIAL_SUCCESS > FAIL, then edge weight),
// and merges that branch's context updates into its own outcome.
// If no parallel results are available, it returns a failure.
type FanInHandler struct{}

// Type returns the handler type string "parallel.fan_in".
func (h *FanInHandler) Type() string {
	return "parallel.fan_in"
}

// Execute consolidates parallel branch results. Returns success with the
// winning branch's updates, or failure if no results are found.
func (h *FanInHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resultsVal := pctx.Get("parallel.results")
	if resultsVal == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "No parallel results to evaluate for fan-in node: " + node.ID,
		}, nil
	}

	results, _ := resultsVal.([]BranchResult)
	best := BestBranchResult(results)

	// Post-merge verification
	if verifyCmd := node.Attr("verify_command", ""); verifyCmd != "" {
		workDir := ""
		if store != nil && store.BaseDir() != "" {
			workDir = store.BaseDir()
		}
		vResult := runVerifyCommand(ctx, verifyCmd, workDir, defaultVerifyTimeout)

		if store != nil {
			artifactID := node.ID + ".verify_output"
			output := fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", vResult.ExitCode, vResult.Stdout, vResult.Stderr)
			_, _ = store.Store(artifactID, "verify_output", []byte(output))
		}

		if !vResult.Success {
			return &Outcome{
				Status:        StatusFail,
				FailureReason: fmt.Sprintf("fan-in verify_command failed (exit %d): %s", vResult.ExitCode, vResult.Stderr),
			}, nil
		}
	}

	updates := map[string]any{
		"parallel.fan_in.completed": true,
	}
	notes := "Fan-in merged parallel results at node: " + node.ID

	// Adopt the winning branch's outcome updates so downstream stages see
	// the best branch's contributions even under wait_any style merges.
	if best != nil {
		updates["parallel.fan_in.best_id"] = best.NodeID
		if best.Outcome != nil {
			for k, v := range best.Outcome.ContextUpdates {
				updates[k] = v
			}
		}
		notes = fmt.Sprintf("Fan-in merged %d parallel result(s) at node %s (best: %s)", len(results), node.ID, best.NodeID)
	}

	return &Outcome{
		Status:         StatusSuccess,
		Notes:          notes,
		ContextUpdates: updates,
	}, nil
}
