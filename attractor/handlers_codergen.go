// ABOUTME: Codergen (LLM coding agent) handler for the attractor pipeline runner.
// ABOUTME: Expands the prompt against context, delegates to a CodergenBackend, and persists prompt/response transcripts.
package attractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CodergenHandler handles LLM-powered coding task nodes (shape=box).
// This is the default handler for nodes without an explicit type.
// When Backend is set, it delegates to the agent loop for real LLM execution.
// When Backend is nil, it returns StatusFail with a configuration error.
type CodergenHandler struct {
	// Backend is the agent execution backend. When nil, the handler
	// returns StatusFail indicating no LLM backend is configured.
	Backend CodergenBackend

	// BaseURL is the default API base URL for the LLM provider. Set by the
	// engine during backend wiring. Can be overridden per-node via base_url attr.
	BaseURL string

	// LogsRoot is the run's log directory. When set, the handler persists
	// the expanded prompt to {LogsRoot}/{nodeID}/prompt.md and the raw
	// response to {LogsRoot}/{nodeID}/response.md.
	LogsRoot string

	// EventHandler receives agent-level observability events bridged from the
	// agent session into the engine event system. Set by the engine during
	// backend wiring.
	EventHandler func(EngineEvent)
}

// Type returns the handler type string "codergen".
func (h *CodergenHandler) Type() string {
	return "codergen"
}

// Execute processes a codergen node: it expands the prompt against the
// pipeline context, runs the agent backend, and maps the result to an
// Outcome. Backend errors become StatusFail outcomes, never handler errors,
// so the engine's retry policy applies.
func (h *CodergenHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Read prompt, falling back to label, then node ID.
	prompt := node.Attr("prompt", "")
	if prompt == "" {
		prompt = node.Attr("label", "")
	}
	if prompt == "" {
		prompt = node.ID
	}

	// Runtime variable expansion: $name tokens resolve against the live
	// context, so upstream stages can parameterize downstream prompts.
	prompt = ExpandContextVariables(prompt, pctx)

	label := node.Attr("label", node.ID)

	llmModel := node.Attr("llm_model", "")
	llmProvider := node.Attr("llm_provider", "")

	h.persistNodeFile(node.ID, "prompt.md", prompt, pctx)

	// No backend means no LLM. This is a hard error, not a stub.
	if h.Backend == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no LLM backend configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY",
		}, nil
	}

	maxTurns := 20
	if maxTurnsStr := node.Attr("max_turns", ""); maxTurnsStr != "" {
		if parsed, err := strconv.Atoi(maxTurnsStr); err == nil && parsed > 0 {
			maxTurns = parsed
		}
	}

	goal := pctx.GetString("goal", "")

	// Resolve fidelity mode: node attribute takes precedence over pipeline context.
	fidelityMode := ""
	if f := node.Attr("fidelity", ""); f != "" && IsValidFidelity(f) {
		fidelityMode = f
	} else if f := pctx.GetString("_fidelity_mode", ""); IsValidFidelity(f) {
		fidelityMode = f
	}

	// Resolve working directory: explicit attr > artifact store base > temp dir (in backend).
	workDir := node.Attr("workdir", "")
	if workDir == "" && store != nil && store.BaseDir() != "" {
		workDir = store.BaseDir()
	}

	baseURL := node.Attr("base_url", "")
	if baseURL == "" {
		baseURL = h.BaseURL
	}

	config := AgentRunConfig{
		Prompt:          prompt,
		Model:           llmModel,
		Provider:        llmProvider,
		BaseURL:         baseURL,
		WorkDir:         workDir,
		Goal:            goal,
		NodeID:          node.ID,
		MaxTurns:        maxTurns,
		ReasoningEffort: node.Attr("reasoning_effort", "high"),
		FidelityMode:    fidelityMode,
		EventHandler:    h.EventHandler,
	}

	result, err := h.Backend.RunAgent(ctx, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("agent backend error: %v", err),
			ContextUpdates: map[string]any{
				"codergen.prompt": prompt,
			},
		}, nil
	}

	h.persistNodeFile(node.ID, "response.md", result.Output, pctx)

	updates := map[string]any{
		"codergen.prompt": prompt,
	}
	if llmModel != "" {
		updates["codergen.model"] = llmModel
	}
	if llmProvider != "" {
		updates["codergen.provider"] = llmProvider
	}
	updates["codergen.tool_calls"] = result.ToolCalls
	updates["codergen.tokens_used"] = result.TokensUsed
	updates["codergen.turn_count"] = result.TurnCount
	updates["codergen.input_tokens"] = result.Usage.InputTokens
	updates["codergen.output_tokens"] = result.Usage.OutputTokens
	if result.Usage.ReasoningTokens != 0 {
		updates["codergen.reasoning_tokens"] = result.Usage.ReasoningTokens
	}
	if result.Usage.CacheReadTokens != 0 {
		updates["codergen.cache_read_tokens"] = result.Usage.CacheReadTokens
	}
	if result.Usage.CacheWriteTokens != 0 {
		updates["codergen.cache_write_tokens"] = result.Usage.CacheWriteTokens
	}

	// Store agent output as an artifact for downstream stages.
	if result.Output != "" && store != nil {
		artifactID := node.ID + ".output"
		if _, storeErr := store.Store(artifactID, "agent_output", []byte(result.Output)); storeErr != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to store agent output artifact: %v", storeErr))
		}
	}

	if !result.Success {
		reason := result.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("agent did not complete successfully: %s", result.Output)
		}
		return &Outcome{
			Status:         StatusFail,
			FailureReason:  reason,
			ContextUpdates: updates,
		}, nil
	}

	return &Outcome{
		Status:         StatusSuccess,
		Notes:          fmt.Sprintf("Stage completed: %s (tools: %d, tokens: %d [in:%d out:%d])", label, result.ToolCalls, result.TokensUsed, result.Usage.InputTokens, result.Usage.OutputTokens),
		ContextUpdates: updates,
	}, nil
}

// persistNodeFile writes a transcript file under {LogsRoot}/{nodeID}/.
// Persistence failures are logged to the pipeline context, never fatal.
func (h *CodergenHandler) persistNodeFile(nodeID, name, content string, pctx *Context) {
	if h.LogsRoot == "" {
		return
	}
	dir := filepath.Join(h.LogsRoot, nodeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to create log dir for %s: %v", nodeID, err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to write %s for %s: %v", name, nodeID, err))
	}
}
