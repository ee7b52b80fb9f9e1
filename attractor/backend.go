// ABOUTME: Defines the CodergenBackend interface that decouples CodergenHandler from the agent loop.
// ABOUTME: Provides AgentRunConfig and AgentRunResult types for configuring and receiving agent outcomes.
package attractor

import "context"

// CodergenBackend abstracts the LLM agent execution so that CodergenHandler
// does not depend directly on the agent or llm packages.
type CodergenBackend interface {
	// RunAgent executes an agent loop with the given configuration and returns
	// the result. The context controls cancellation and timeouts.
	RunAgent(ctx context.Context, config AgentRunConfig) (*AgentRunResult, error)
}

// AgentRunConfig holds all configuration needed to execute an agent run
// for a single codergen pipeline node.
type AgentRunConfig struct {
	Prompt          string            // the prompt/instructions for the LLM
	Model           string            // LLM model name (e.g., "claude-sonnet-4-5")
	Provider        string            // LLM provider name (e.g., "anthropic", "openai", "gemini")
	BaseURL         string            // API base URL override; empty uses the provider default
	WorkDir         string            // working directory for file operations and commands
	Goal            string            // pipeline-level goal for additional context
	NodeID          string            // pipeline node identifier for logging/tracking
	MaxTurns        int               // maximum agent loop turns (0 = use default of 20)
	ReasoningEffort string            // reasoning effort hint passed to the provider ("low", "medium", "high")
	FidelityMode    string            // fidelity mode controlling conversation history management ("full", "compact", "truncate", "summary:*")
	EventHandler    func(EngineEvent) // optional sink for agent-level observability events
}

// AgentRunResult holds the outcome of an agent run.
type AgentRunResult struct {
	Output        string          // final text output from the agent
	ToolCalls     int             // total number of tool calls made during the run
	TurnCount     int             // number of agent loop turns executed
	TokensUsed    int             // total tokens consumed across all LLM calls
	Usage         TokenUsage      // detailed token usage accumulated across all LLM calls
	ToolCallLog   []ToolCallEntry // summary of individual tool invocations, outputs truncated
	Success       bool            // whether the agent completed without errors
	FailureReason string          // populated when Success is false and a reason is known
}

// TokenUsage is a flattened, provider-neutral token accounting record.
// Unknown categories stay at zero.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add accumulates another usage record into this one.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.TotalTokens += other.TotalTokens
	t.ReasoningTokens += other.ReasoningTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.CacheWriteTokens += other.CacheWriteTokens
}

// ToolCallEntry records a single tool invocation for run summaries.
type ToolCallEntry struct {
	ToolName string `json:"tool_name"`
	Output   string `json:"output,omitempty"`
}
