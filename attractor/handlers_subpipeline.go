// ABOUTME: Sub-pipeline handler that runs a child DOT graph as a nested pipeline at runtime.
// ABOUTME: The child run's final status becomes the node outcome; child context merges back under a namespaced prefix.
package attractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// SubPipelineResult holds the completion state of a nested pipeline run.
type SubPipelineResult struct {
	// Status is the child pipeline's final status mapped onto node outcome
	// levels: success, partial_success, or fail.
	Status StageStatus

	// Context is the child pipeline's final context.
	Context *Context

	// FailureReason describes why the child pipeline failed, when it did.
	FailureReason string
}

// SubPipelineRunner executes a child graph to completion. The engine wires
// itself in as the runner so nested runs share backends, interviewers, and
// event plumbing with the parent.
type SubPipelineRunner interface {
	RunSubPipeline(ctx context.Context, child *Graph, seed map[string]any) (*SubPipelineResult, error)
}

// SubPipelineHandler handles nested pipeline nodes (shape=folder).
// It loads the DOT file named by the node's sub_pipeline attribute, runs it
// as a child pipeline, and forwards the child's final status as the node
// outcome. The child's context values merge into the parent under the
// prefix "<namespace>.", where namespace defaults to the node ID.
type SubPipelineHandler struct {
	// Runner executes the child graph. If nil, the handler fails.
	Runner SubPipelineRunner

	// BaseDir resolves relative sub_pipeline paths. Empty means the
	// process working directory.
	BaseDir string
}

// Type returns the handler type string "subpipeline".
func (h *SubPipelineHandler) Type() string {
	return "subpipeline"
}

// Execute loads and runs the child pipeline referenced by the node.
func (h *SubPipelineHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := node.Attr("sub_pipeline", "")
	if path == "" {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no sub_pipeline attribute specified for node: " + node.ID,
		}, nil
	}
	path = ExpandContextVariables(path, pctx)
	if !filepath.IsAbs(path) && h.BaseDir != "" {
		path = filepath.Join(h.BaseDir, path)
	}

	child, err := LoadSubPipeline(path)
	if err != nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("sub-pipeline load failed: %v", err),
		}, nil
	}

	if h.Runner == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no sub-pipeline runner configured for node: " + node.ID,
		}, nil
	}

	result, err := h.Runner.RunSubPipeline(ctx, child, seedForChild(pctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("sub-pipeline run error: %v", err),
		}, nil
	}

	namespace := node.Attr("namespace", node.ID)
	updates := namespaceChildValues(namespace, result.Context)
	updates[namespace+".pipeline"] = child.Name
	updates[namespace+".status"] = string(result.Status)

	outcome := &Outcome{
		Status:         result.Status,
		Notes:          fmt.Sprintf("Sub-pipeline %s completed with status %s", child.Name, result.Status),
		ContextUpdates: updates,
	}
	if result.Status == StatusFail {
		reason := result.FailureReason
		if reason == "" {
			reason = "sub-pipeline " + child.Name + " failed"
		}
		outcome.FailureReason = reason
	}
	return outcome, nil
}

// seedForChild snapshots the parent context for the child run, dropping
// engine-internal keys (underscore prefix) and the parent's own logs.
func seedForChild(pctx *Context) map[string]any {
	seed := map[string]any{}
	for k, v := range pctx.Snapshot() {
		if strings.HasPrefix(k, "_") {
			continue
		}
		seed[k] = v
	}
	return seed
}

// namespaceChildValues prefixes every child context key with "<namespace>.".
// Engine-internal keys and the child's bookkeeping keys stay behind.
func namespaceChildValues(namespace string, child *Context) map[string]any {
	updates := map[string]any{}
	if child == nil {
		return updates
	}
	for k, v := range child.Snapshot() {
		if strings.HasPrefix(k, "_") {
			continue
		}
		updates[namespace+"."+k] = v
	}
	return updates
}
