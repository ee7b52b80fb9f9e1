// ABOUTME: AgentBackend wires CodergenBackend to the in-process agent loop and LLM client.
// ABOUTME: Bridges agent session events into engine events and aggregates usage into AgentRunResult.
package attractor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389-research/stampede/agent"
	"github.com/2389-research/stampede/llm"
)

// defaultAgentMaxTurns is the default maximum number of agent loop turns
// when no explicit MaxTurns is specified in the config.
const defaultAgentMaxTurns = 20

// toolOutputSnippetLimit caps tool output carried in events and run summaries.
const toolOutputSnippetLimit = 500

// AgentBackend implements CodergenBackend by wiring to the real agent loop.
// It creates an agent.Session, configures the appropriate provider profile,
// sets up the execution environment, and runs the agent loop to completion.
type AgentBackend struct {
	// Client is the LLM client to use for making API calls. If nil,
	// a client is created from environment variables at runtime.
	Client *llm.Client
}

// RunAgent executes an agent loop with the given configuration.
// It creates a session, selects the provider profile, sets up the execution
// environment, and runs ProcessInput until the agent completes or hits limits.
// Session events are translated into engine events via config.EventHandler.
func (b *AgentBackend) RunAgent(ctx context.Context, config AgentRunConfig) (*AgentRunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Resolve the LLM client
	client := b.Client
	if client == nil {
		envClient, err := createClientFromEnv(config.Provider, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create LLM client: %w", err)
		}
		client = envClient
		defer client.Close()
	}

	// Resolve the working directory
	workDir := config.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.MkdirTemp("", "stampede-codergen-*")
		if err != nil {
			return nil, fmt.Errorf("create temp work dir: %w", err)
		}
	}

	// Set up execution environment with full env inheritance so the agent
	// can access API keys, PATH, and other variables needed for its work
	env := agent.NewLocalExecutionEnvironment(workDir, agent.WithEnvPolicy(agent.EnvPolicyInheritAll))
	if err := env.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize execution environment: %w", err)
	}

	// Select the provider profile based on config
	profile := selectProfile(config.Provider, config.Model)

	// Configure the session
	maxTurns := config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultAgentMaxTurns
	}

	sessionConfig := agent.DefaultSessionConfig()
	sessionConfig.MaxTurns = maxTurns * 3 // history turns include user, assistant, and tool results
	sessionConfig.MaxToolRoundsPerInput = maxTurns
	sessionConfig.ReasoningEffort = config.ReasoningEffort
	sessionConfig.FidelityMode = config.FidelityMode

	session := agent.NewSession(sessionConfig)
	defer session.Close()

	// Subscribe to session events and bridge them to the engine event stream.
	// The bridge also accumulates the tool call log and turn count.
	var toolLog []ToolCallEntry
	var toolLogMu sync.Mutex
	toolStarts := &sync.Map{}
	var turnCount int32

	events := session.EventEmitter.Subscribe()
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		for evt := range events {
			if evt.Kind == agent.EventAssistantTextEnd {
				atomicAddInt32(&turnCount, 1)
			}
			bridgeSessionEvent(evt, config.NodeID, config.EventHandler, toolStarts, &toolLog, &toolLogMu)
		}
	}()

	// Build the user input from the prompt and goal
	userInput := buildAgentInput(config.Prompt, config.Goal, config.NodeID)

	// Run the agent loop
	runErr := agent.ProcessInput(ctx, session, profile, env, client, userInput)

	session.EventEmitter.Unsubscribe(events)
	<-bridgeDone

	if runErr != nil {
		return nil, fmt.Errorf("agent processing failed: %w", runErr)
	}

	// Extract results from the session
	result := extractResult(session)
	result.TurnCount = int(atomic.LoadInt32(&turnCount))
	toolLogMu.Lock()
	result.ToolCallLog = append([]ToolCallEntry(nil), toolLog...)
	toolLogMu.Unlock()
	return result, nil
}

// bridgeSessionEvent translates a single agent session event into an engine
// event delivered through handler. Unmapped event kinds are dropped. toolStarts
// tracks per-call start times and tool names keyed by call ID; toolLog collects
// a truncated record of each completed tool call when provided.
func bridgeSessionEvent(evt agent.SessionEvent, nodeID string, handler func(EngineEvent), toolStarts *sync.Map, toolLog *[]ToolCallEntry, toolLogMu *sync.Mutex) {
	if handler == nil {
		handler = func(EngineEvent) {}
	}

	switch evt.Kind {
	case agent.EventToolCallStart:
		toolName, _ := evt.Data["tool_name"].(string)
		callID, _ := evt.Data["call_id"].(string)
		if toolStarts != nil && callID != "" {
			start := evt.Timestamp
			if start.IsZero() {
				start = time.Now()
			}
			toolStarts.Store(callID, start)
			toolStarts.Store(callID+"_name", toolName)
		}
		data := map[string]any{
			"tool_name": toolName,
			"call_id":   callID,
		}
		if args, _ := evt.Data["arguments"].(string); args != "" {
			data["arguments"] = args
		}
		handler(EngineEvent{Type: EventAgentToolCallStart, NodeID: nodeID, Data: data, Timestamp: evt.Timestamp})

	case agent.EventToolCallEnd:
		callID, _ := evt.Data["call_id"].(string)
		output, _ := evt.Data["output"].(string)
		snippet := output
		if len(snippet) > toolOutputSnippetLimit {
			snippet = snippet[:toolOutputSnippetLimit]
		}
		data := map[string]any{
			"call_id":        callID,
			"output_snippet": snippet,
		}
		toolName := ""
		if toolStarts != nil {
			if v, ok := toolStarts.Load(callID + "_name"); ok {
				toolName, _ = v.(string)
			}
			if v, ok := toolStarts.Load(callID); ok {
				if start, isTime := v.(time.Time); isTime {
					data["duration_ms"] = time.Since(start).Milliseconds()
				}
			}
		}
		data["tool_name"] = toolName
		if errMsg, _ := evt.Data["error"].(string); errMsg != "" {
			data["error"] = errMsg
		}
		if toolLog != nil && toolLogMu != nil {
			toolLogMu.Lock()
			*toolLog = append(*toolLog, ToolCallEntry{ToolName: toolName, Output: snippet})
			toolLogMu.Unlock()
		}
		handler(EngineEvent{Type: EventAgentToolCallEnd, NodeID: nodeID, Data: data, Timestamp: evt.Timestamp})

	case agent.EventAssistantTextStart:
		handler(EngineEvent{Type: EventAgentTextStart, NodeID: nodeID, Data: map[string]any{}, Timestamp: evt.Timestamp})

	case agent.EventAssistantTextDelta:
		text, _ := evt.Data["text"].(string)
		handler(EngineEvent{Type: EventAgentTextDelta, NodeID: nodeID, Data: map[string]any{"text": text}, Timestamp: evt.Timestamp})

	case agent.EventAssistantTextEnd:
		text, _ := evt.Data["text"].(string)
		reasoning, _ := evt.Data["reasoning"].(string)
		data := map[string]any{
			"text_length":   len(text),
			"has_reasoning": reasoning != "",
		}
		for _, key := range []string{"input_tokens", "output_tokens", "total_tokens", "reasoning_tokens", "cache_read_tokens", "cache_write_tokens"} {
			if v, ok := evt.Data[key]; ok {
				data[key] = v
			}
		}
		handler(EngineEvent{Type: EventAgentLLMTurn, NodeID: nodeID, Data: data, Timestamp: evt.Timestamp})

	case agent.EventSteeringInjected:
		msg, _ := evt.Data["content"].(string)
		handler(EngineEvent{Type: EventAgentSteering, NodeID: nodeID, Data: map[string]any{"message": msg}, Timestamp: evt.Timestamp})

	case agent.EventLoopDetection:
		msg, _ := evt.Data["message"].(string)
		handler(EngineEvent{Type: EventAgentLoopDetected, NodeID: nodeID, Data: map[string]any{"message": msg}, Timestamp: evt.Timestamp})
	}
}

// atomicAddInt32 increments the counter at addr and returns the new value.
func atomicAddInt32(addr *int32, delta int32) int32 {
	return atomic.AddInt32(addr, delta)
}

// tokenUsageFromLLM flattens an llm.Usage record into a TokenUsage,
// treating nil optional categories as zero.
func tokenUsageFromLLM(u llm.Usage) TokenUsage {
	tu := TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.ReasoningTokens != nil {
		tu.ReasoningTokens = *u.ReasoningTokens
	}
	if u.CacheReadTokens != nil {
		tu.CacheReadTokens = *u.CacheReadTokens
	}
	if u.CacheWriteTokens != nil {
		tu.CacheWriteTokens = *u.CacheWriteTokens
	}
	return tu
}

// createClientFromEnv creates an LLM client configured from environment variables.
// It checks for API keys and returns a clear error if none are found. The
// baseURL override is applied to the preferred provider's adapter only.
func createClientFromEnv(preferredProvider, baseURL string) (*llm.Client, error) {
	providers := []struct {
		envVar string
		name   string
	}{
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "gemini"},
	}

	var opts []llm.ClientOption
	found := false
	preferredFound := false

	for _, p := range providers {
		key := os.Getenv(p.envVar)
		if key == "" {
			continue
		}
		adapterBaseURL := ""
		if p.name == preferredProvider {
			adapterBaseURL = baseURL
			preferredFound = true
		}
		opts = append(opts, llm.WithProvider(p.name, createProviderAdapter(p.name, key, adapterBaseURL)))
		found = true
	}

	if !found {
		return nil, fmt.Errorf("no API keys found in environment (checked ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY)")
	}

	if preferredFound {
		opts = append(opts, llm.WithDefaultProvider(preferredProvider))
	}

	return llm.NewClient(opts...), nil
}

// createProviderAdapter creates a real provider adapter for the given provider.
// It delegates to the appropriate constructor in the llm package based on
// the provider name. Unknown providers default to Anthropic.
func createProviderAdapter(name, apiKey, baseURL string) llm.ProviderAdapter {
	switch name {
	case "openai":
		if baseURL != "" {
			return llm.NewOpenAIAdapter(apiKey, llm.WithOpenAIBaseURL(baseURL))
		}
		return llm.NewOpenAIAdapter(apiKey)
	case "gemini":
		if baseURL != "" {
			return llm.NewGeminiAdapter(apiKey, llm.WithGeminiBaseURL(baseURL))
		}
		return llm.NewGeminiAdapter(apiKey)
	default:
		if baseURL != "" {
			return llm.NewAnthropicAdapter(apiKey, llm.WithAnthropicBaseURL(baseURL))
		}
		return llm.NewAnthropicAdapter(apiKey)
	}
}

// selectProfile creates the appropriate ProviderProfile for the given provider and model.
func selectProfile(provider, model string) agent.ProviderProfile {
	switch strings.ToLower(provider) {
	case "openai":
		return agent.NewOpenAIProfile(model)
	case "gemini":
		return agent.NewGeminiProfile(model)
	default:
		return agent.NewAnthropicProfile(model)
	}
}

// buildAgentInput constructs the user message sent to the agent loop,
// incorporating the node prompt, pipeline goal, and node context.
func buildAgentInput(prompt, goal, nodeID string) string {
	var b strings.Builder

	if goal != "" {
		b.WriteString("## Pipeline Goal\n\n")
		b.WriteString(goal)
		b.WriteString("\n\n")
	}

	if nodeID != "" {
		b.WriteString("## Current Stage: ")
		b.WriteString(nodeID)
		b.WriteString("\n\n")
	}

	b.WriteString("## Task\n\n")
	b.WriteString(prompt)

	return b.String()
}

// extractResult builds an AgentRunResult from the completed session history.
// This is safe to call after ProcessInput returns because the session is idle
// and no concurrent goroutines are modifying the history.
//
// The last assistant message is checked for OUTCOME:PASS or OUTCOME:FAIL
// markers. If OUTCOME:FAIL is found, Success is set to false. If no marker
// is present, Success defaults to true so plain codergen nodes keep working.
func extractResult(session *agent.Session) *AgentRunResult {
	result := &AgentRunResult{
		Success: true,
	}

	// Walk the history to extract the last assistant text and count tool calls/tokens
	for _, turn := range session.History {
		switch t := turn.(type) {
		case agent.AssistantTurn:
			if t.Content != "" {
				result.Output = t.Content
			}
			result.ToolCalls += len(t.ToolCalls)
			result.TokensUsed += t.Usage.TotalTokens
			result.Usage.Add(tokenUsageFromLLM(t.Usage))
		}
	}

	// Check the last assistant output for OUTCOME markers
	if result.Output != "" {
		if strings.Contains(result.Output, "OUTCOME:FAIL") {
			result.Success = false
			result.FailureReason = "agent reported OUTCOME:FAIL"
		} else if strings.Contains(result.Output, "OUTCOME:PASS") {
			result.Success = true
		}
	}

	return result
}

// Compile-time interface check
var _ CodergenBackend = (*AgentBackend)(nil)
