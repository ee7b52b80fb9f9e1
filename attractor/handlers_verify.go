// ABOUTME: Deterministic verify handler that executes shell commands without an LLM.
// ABOUTME: Maps to shape=octagon. Uses exit code for pass/fail, zero token cost.
package attractor

import (
	"context"
	"fmt"
	"time"
)

// VerifyHandler handles deterministic verification nodes (shape=octagon).
// It runs a shell command and uses the exit code for pass/fail routing.
// No LLM is involved, so verification costs zero tokens.
type VerifyHandler struct{}

// Type returns the handler type string "verify".
func (h *VerifyHandler) Type() string {
	return "verify"
}

// Execute runs the command specified in the node's "command" attribute.
// Exit code 0 -> StatusSuccess, non-zero -> StatusFail. The exit code is
// recorded under verify.exit_code for conditional edge routing.
func (h *VerifyHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	command := node.Attr("command", "")
	if command == "" {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no command attribute specified for verify node: " + node.ID,
		}, nil
	}
	command = ExpandContextVariables(command, pctx)

	// Parse timeout from node attribute, falling back to the default
	timeout := defaultVerifyTimeout
	if timeoutStr := node.Attr("timeout", ""); timeoutStr != "" {
		if parsed, err := time.ParseDuration(timeoutStr); err == nil {
			timeout = parsed
		}
	}

	// Resolve working directory: explicit attribute > artifact store base dir
	workDir := node.Attr("working_dir", "")
	if workDir == "" && store != nil && store.BaseDir() != "" {
		workDir = store.BaseDir()
	}

	result := runVerifyCommand(ctx, command, workDir, timeout)

	// Store the combined output as an artifact for later inspection
	if store != nil {
		artifactID := node.ID + ".output"
		output := fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", result.ExitCode, result.Stdout, result.Stderr)
		_, _ = store.Store(artifactID, "verify_output", []byte(output))
	}

	updates := map[string]any{
		"verify.exit_code": result.ExitCode,
	}

	if !result.Success {
		failureReason := fmt.Sprintf("verify command failed (exit %d): %s", result.ExitCode, result.Stderr)
		if result.TimedOut {
			failureReason = fmt.Sprintf("verify command timed out after %s", timeout)
		}
		return &Outcome{
			Status:         StatusFail,
			Notes:          result.Stdout,
			FailureReason:  failureReason,
			ContextUpdates: updates,
		}, nil
	}

	return &Outcome{
		Status:         StatusSuccess,
		Notes:          result.Stdout,
		ContextUpdates: updates,
	}, nil
}
