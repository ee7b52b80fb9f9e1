// ABOUTME: Tests for the LLM-backed manager supervision backend.
// ABOUTME: Covers observe/guard/steer prompt construction, verdict parsing, and context summarization.
package attractor

import (
	"context"
	"strings"
	"testing"

	"github.com/2389-research/stampede/llm"
)

// managerRequestText flattens all message text from a captured request.
func managerRequestText(req llm.Request) string {
	var b strings.Builder
	for _, msg := range req.Messages {
		b.WriteString(msg.TextContent())
		b.WriteString("\n")
	}
	return b.String()
}

func TestLLMManagerBackendObserveSummarizesContext(t *testing.T) {
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("The pipeline finished scaffolding and is now writing tests."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	pctx := NewContext()
	pctx.Set("plan.output", "built project scaffolding")
	pctx.Set("_graph", "internal value that must not leak")

	observation, err := backend.Observe(context.Background(), "supervisor", 1, pctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observation != "The pipeline finished scaffolding and is now writing tests." {
		t.Errorf("unexpected observation: %q", observation)
	}

	calls := adapter.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 LLM call, got %d", len(calls))
	}
	text := managerRequestText(calls[0])
	if !strings.Contains(text, "plan.output") {
		t.Error("expected context key in observe prompt")
	}
	if !strings.Contains(text, "built project scaffolding") {
		t.Error("expected context value in observe prompt")
	}
	if strings.Contains(text, "internal value that must not leak") {
		t.Error("underscore-prefixed context keys should not appear in prompts")
	}
	if !strings.Contains(text, "supervisor") {
		t.Error("expected node ID in observe prompt")
	}
}

func TestLLMManagerBackendGuardEmptyConditionSkipsLLM(t *testing.T) {
	adapter := &testProviderAdapter{}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	onTrack, err := backend.Guard(context.Background(), "supervisor", 1, "some observation", "", NewContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !onTrack {
		t.Error("empty guard condition should count as on track")
	}
	if len(adapter.getCalls()) != 0 {
		t.Error("empty guard condition should not call the LLM")
	}
}

func TestLLMManagerBackendGuardParsesOffTrack(t *testing.T) {
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("OFF_TRACK - the agent is rewriting unrelated files."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	onTrack, err := backend.Guard(context.Background(), "supervisor", 2, "agent touched twelve files", "agent keeps to the build plan", NewContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onTrack {
		t.Error("expected OFF_TRACK verdict to report not on track")
	}

	calls := adapter.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 LLM call, got %d", len(calls))
	}
	text := managerRequestText(calls[0])
	if !strings.Contains(text, "agent keeps to the build plan") {
		t.Error("expected guard condition in guard prompt")
	}
	if !strings.Contains(text, "agent touched twelve files") {
		t.Error("expected observation in guard prompt")
	}
}

func TestLLMManagerBackendGuardDefaultsOnTrack(t *testing.T) {
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("Everything looks reasonable so far."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	onTrack, err := backend.Guard(context.Background(), "supervisor", 1, "obs", "stay focused", NewContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !onTrack {
		t.Error("reply without a verdict marker should count as on track")
	}
}

func TestLLMManagerBackendSteerRecordsLog(t *testing.T) {
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("Focus only on the parser module."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	pctx := NewContext()
	correction, err := backend.Steer(context.Background(), "supervisor", 3, "Redirect toward the parser", pctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if correction != "Focus only on the parser module." {
		t.Errorf("unexpected steer text: %q", correction)
	}

	foundLog := false
	for _, entry := range pctx.Logs() {
		if strings.Contains(entry, "[manager]") && strings.Contains(entry, "supervisor") {
			foundLog = true
		}
	}
	if !foundLog {
		t.Error("expected steer action recorded in the execution log")
	}

	text := managerRequestText(adapter.getCalls()[0])
	if !strings.Contains(text, "Redirect toward the parser") {
		t.Error("expected steer prompt in request")
	}
}

func TestLLMManagerBackendRequiresClient(t *testing.T) {
	backend := &LLMManagerBackend{}

	if _, err := backend.Observe(context.Background(), "n", 1, NewContext()); err == nil {
		t.Error("expected error from Observe with nil client")
	}
	if _, err := backend.Guard(context.Background(), "n", 1, "obs", "cond", NewContext()); err == nil {
		t.Error("expected error from Guard with nil client")
	}
	if _, err := backend.Steer(context.Background(), "n", 1, "prompt", NewContext()); err == nil {
		t.Error("expected error from Steer with nil client")
	}
}

func TestManagerLoopHandlerWithLLMBackend(t *testing.T) {
	// Two iterations, each observe then guard, all on track: four completions.
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("Iteration one: agent is setting up the project."),
			makeTestTextResponse("ON_TRACK - setup matches the plan."),
			makeTestTextResponse("Iteration two: agent is writing tests."),
			makeTestTextResponse("ON_TRACK - tests are in scope."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	h := &ManagerLoopHandler{Backend: backend}
	g := newTestGraph()
	node := addNode(g, "supervisor", map[string]string{
		"shape":           "house",
		"guard_condition": "agent keeps to the build plan",
		"steer_prompt":    "Redirect the agent",
		"max_iterations":  "2",
	})
	pctx := newContextWithGraph(g)
	store := NewArtifactStore(t.TempDir())

	outcome, err := h.Execute(context.Background(), node, pctx, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("expected success, got %v", outcome.Status)
	}
	if got := outcome.ContextUpdates["manager.iterations_completed"]; got != 2 {
		t.Errorf("expected 2 iterations completed, got %v", got)
	}
	if got := outcome.ContextUpdates["manager.steers_applied"]; got != 0 {
		t.Errorf("expected 0 steers applied, got %v", got)
	}
	if got := outcome.ContextUpdates["manager.last_observation"]; got != "Iteration two: agent is writing tests." {
		t.Errorf("unexpected last observation: %v", got)
	}
	if len(adapter.getCalls()) != 4 {
		t.Errorf("expected 4 LLM calls, got %d", len(adapter.getCalls()))
	}
}

func TestManagerLoopHandlerWithLLMBackendSteersOffTrack(t *testing.T) {
	// One iteration where the guard fails, so a steer completion follows.
	adapter := &testProviderAdapter{
		responses: []*llm.Response{
			makeTestTextResponse("Agent is editing files outside the project."),
			makeTestTextResponse("OFF_TRACK - the agent wandered out of scope."),
			makeTestTextResponse("Return to the project directory and continue the build."),
		},
	}
	backend := NewLLMManagerBackend(newTestAgentClient(adapter))

	h := &ManagerLoopHandler{Backend: backend}
	g := newTestGraph()
	node := addNode(g, "supervisor", map[string]string{
		"shape":           "house",
		"guard_condition": "agent stays inside the project directory",
		"steer_prompt":    "Bring the agent back in scope",
		"max_iterations":  "1",
	})
	pctx := newContextWithGraph(g)
	store := NewArtifactStore(t.TempDir())

	outcome, err := h.Execute(context.Background(), node, pctx, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("expected success, got %v", outcome.Status)
	}
	if got := outcome.ContextUpdates["manager.steers_applied"]; got != 1 {
		t.Errorf("expected 1 steer applied, got %v", got)
	}
	if len(adapter.getCalls()) != 3 {
		t.Errorf("expected 3 LLM calls, got %d", len(adapter.getCalls()))
	}
}

func TestSummarizeContextForManagerEmpty(t *testing.T) {
	got := summarizeContextForManager(NewContext())
	if !strings.Contains(got, "(empty)") {
		t.Errorf("expected empty marker, got %q", got)
	}
}

func TestSummarizeContextForManagerTruncatesAndSorts(t *testing.T) {
	pctx := NewContext()
	pctx.Set("zeta", "last")
	pctx.Set("alpha", strings.Repeat("x", managerContextValueLimit+50))
	pctx.Set("beta", "line one\nline two")

	got := summarizeContextForManager(pctx)

	alphaIdx := strings.Index(got, "alpha:")
	betaIdx := strings.Index(got, "beta:")
	zetaIdx := strings.Index(got, "zeta:")
	if alphaIdx == -1 || betaIdx == -1 || zetaIdx == -1 {
		t.Fatalf("expected all keys present, got %q", got)
	}
	if !(alphaIdx < betaIdx && betaIdx < zetaIdx) {
		t.Error("expected keys in sorted order")
	}
	if !strings.Contains(got, "...") {
		t.Error("expected long value to be truncated")
	}
	if strings.Contains(got, "line one\nline two") {
		t.Error("expected newlines flattened in values")
	}
}
