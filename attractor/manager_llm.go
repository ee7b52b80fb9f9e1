// ABOUTME: LLM-backed ManagerBackend implementing observe/guard/steer supervision calls.
// ABOUTME: Builds prompts from pipeline context snapshots and parses ON_TRACK/OFF_TRACK verdicts.
package attractor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/2389-research/stampede/llm"
)

// managerContextValueLimit caps each context value carried into supervision prompts.
const managerContextValueLimit = 300

// managerSystemPrompt frames the model as a pipeline supervisor.
const managerSystemPrompt = `You are supervising an automated agent pipeline while it runs.
You receive the pipeline's shared context and answer one supervision request at a time.
Be concise and specific. Refer to stages by their node names.`

// LLMManagerBackend implements ManagerBackend with the unified LLM client.
// Observe summarizes pipeline progress, Guard checks an observation against
// the node's guard condition, and Steer produces a corrective instruction.
// Each call is a single completion with no tool use.
type LLMManagerBackend struct {
	// Client routes supervision calls. Required.
	Client *llm.Client

	// Model overrides the provider's default model when set.
	Model string
}

// NewLLMManagerBackend returns a backend that supervises via client.
func NewLLMManagerBackend(client *llm.Client) *LLMManagerBackend {
	return &LLMManagerBackend{Client: client}
}

// NewLLMManagerBackendFromEnv builds the backend with a client constructed
// from provider API keys in the environment.
func NewLLMManagerBackendFromEnv() (*LLMManagerBackend, error) {
	client, err := createClientFromEnv("", "")
	if err != nil {
		return nil, err
	}
	return &LLMManagerBackend{Client: client}, nil
}

// Observe asks the model for a progress summary of the supervised pipeline.
func (m *LLMManagerBackend) Observe(ctx context.Context, nodeID string, iteration int, pctx *Context) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Supervision node: %s (iteration %d)\n\n", nodeID, iteration)
	b.WriteString("## Pipeline Context\n")
	b.WriteString(summarizeContextForManager(pctx))
	b.WriteString("\n## Request\n")
	b.WriteString("Summarize what the pipeline has accomplished so far and what it is currently doing.")

	text, err := m.generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("manager observe: %w", err)
	}
	return text, nil
}

// Guard evaluates the observation against the guard condition. The verdict is
// read from an OFF_TRACK or ON_TRACK marker in the reply; a missing marker
// counts as on track, the same default the codergen outcome markers use.
func (m *LLMManagerBackend) Guard(ctx context.Context, nodeID string, iteration int, observation string, guardCondition string, pctx *Context) (bool, error) {
	// No condition means nothing to check; skip the LLM round-trip.
	if strings.TrimSpace(guardCondition) == "" {
		return true, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Supervision node: %s (iteration %d)\n\n", nodeID, iteration)
	b.WriteString("## Latest Observation\n")
	b.WriteString(observation)
	b.WriteString("\n\n## Guard Condition\n")
	b.WriteString(guardCondition)
	b.WriteString("\n\n## Request\n")
	b.WriteString("Decide whether the pipeline satisfies the guard condition. Reply with the single word ON_TRACK or OFF_TRACK, then one sentence of reasoning.")

	text, err := m.generate(ctx, b.String())
	if err != nil {
		return false, fmt.Errorf("manager guard: %w", err)
	}
	return !strings.Contains(text, "OFF_TRACK"), nil
}

// Steer produces a corrective instruction and records it in the execution log.
func (m *LLMManagerBackend) Steer(ctx context.Context, nodeID string, iteration int, steerPrompt string, pctx *Context) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Supervision node: %s (iteration %d)\n\n", nodeID, iteration)
	b.WriteString("## Pipeline Context\n")
	b.WriteString(summarizeContextForManager(pctx))
	b.WriteString("\n## Steering Directive\n")
	if strings.TrimSpace(steerPrompt) != "" {
		b.WriteString(steerPrompt)
	} else {
		b.WriteString("The pipeline has drifted from its guard condition.")
	}
	b.WriteString("\n\n## Request\n")
	b.WriteString("Write a short corrective instruction for the agent working on this pipeline.")

	text, err := m.generate(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("manager steer: %w", err)
	}

	pctx.AppendLog(fmt.Sprintf("[manager] steer at %s iteration %d: %s", nodeID, iteration, text))
	return text, nil
}

// generate runs one completion through the configured client.
func (m *LLMManagerBackend) generate(ctx context.Context, prompt string) (string, error) {
	if m.Client == nil {
		return "", fmt.Errorf("manager backend requires an LLM client")
	}
	result, err := llm.Generate(ctx, llm.GenerateOptions{
		Client: m.Client,
		Model:  m.Model,
		System: managerSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// summarizeContextForManager renders the context snapshot as sorted key lines,
// skipping internal underscore-prefixed keys and flattening long values.
func summarizeContextForManager(pctx *Context) string {
	snap := pctx.Snapshot()

	keys := make([]string, 0, len(snap))
	for k := range snap {
		if strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		return "(empty)\n"
	}

	var b strings.Builder
	for _, k := range keys {
		val := fmt.Sprintf("%v", snap[k])
		val = strings.ReplaceAll(val, "\n", " ")
		if len(val) > managerContextValueLimit {
			val = val[:managerContextValueLimit] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", k, val)
	}
	return b.String()
}

// Compile-time interface check
var _ ManagerBackend = (*LLMManagerBackend)(nil)
