// ABOUTME: Queue-driven pipeline execution engine implementing the PARSE, VALIDATE, INITIALIZE, EXECUTE, FINALIZE lifecycle.
// ABOUTME: Dispatches FIFO work items to node handlers with retries, checkpointing, goal gates, and parallel fan-out.
package attractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
)

// EngineEventType identifies the kind of engine lifecycle event.
type EngineEventType string

const (
	EventPipelineStarted   EngineEventType = "pipeline.started"
	EventPipelineCompleted EngineEventType = "pipeline.completed"
	EventPipelineFailed    EngineEventType = "pipeline.failed"
	EventPipelineAborted   EngineEventType = "pipeline.aborted"
	EventStageStarted      EngineEventType = "stage.started"
	EventStageCompleted    EngineEventType = "stage.completed"
	EventStageFailed       EngineEventType = "stage.failed"
	EventStageRetrying     EngineEventType = "stage.retrying"
	EventStageStalled      EngineEventType = "stage.stalled"
	EventEdgeSelected      EngineEventType = "edge.selected"
	EventCheckpointSaved   EngineEventType = "checkpoint.saved"

	// Agent-level observability events bridged from the coding agent session.
	EventAgentToolCallStart EngineEventType = "agent.tool_call.start"
	EventAgentToolCallEnd   EngineEventType = "agent.tool_call.end"
	EventAgentLLMTurn       EngineEventType = "agent.llm_turn"
	EventAgentSteering      EngineEventType = "agent.steering"
	EventAgentLoopDetected  EngineEventType = "agent.loop_detected"

	// High-frequency streaming events. Fan out to live consumers only;
	// persistence layers skip the delta stream.
	EventAgentTextStart EngineEventType = "agent.text.start"
	EventAgentTextDelta EngineEventType = "agent.text.delta"
)

// EngineEvent represents a lifecycle event emitted by the engine during pipeline execution.
type EngineEvent struct {
	Type      EngineEventType
	NodeID    string
	Data      map[string]any
	Timestamp time.Time
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	PipelineIdle      RunStatus = "idle"
	PipelineRunning   RunStatus = "running"
	PipelineCompleted RunStatus = "completed"
	PipelineFailed    RunStatus = "failed"
	PipelineAborted   RunStatus = "aborted"
)

// EngineConfig holds configuration for the pipeline execution engine.
type EngineConfig struct {
	CheckpointDir      string            // directory for timestamped checkpoint history (empty = disabled)
	AutoCheckpointPath string            // extra path overwritten with the latest checkpoint (empty = disabled)
	ArtifactDir        string            // explicit run directory (empty = use ArtifactsBaseDir/<RunID>)
	ArtifactsBaseDir   string            // base directory for run directories (default = "./artifacts")
	RunID              string            // run identifier for the run subdirectory (empty = auto-generated)
	PipelineDir        string            // base directory for resolving relative sub_pipeline paths
	Transforms         []Transform       // transforms to apply (nil = DefaultTransforms)
	ExtraLintRules     []LintRule        // additional validation rules
	DefaultRetry       RetryPolicy       // default retry policy for nodes (zero value = 2 immediate retries)
	DefaultNodeTimeout time.Duration     // fallback per-node execution timeout (0 = none)
	Handlers           *HandlerRegistry  // nil = DefaultHandlerRegistry
	EventHandler       func(EngineEvent) // optional event callback
	Backend            CodergenBackend   // backend for codergen nodes (nil = preflight failure when codergen nodes exist)
	BaseURL            string            // default API base URL for codergen nodes (overridable per-node)
	Interviewer        Interviewer       // answer source for wait.human nodes
	Manager            ManagerBackend    // backend for stack.manager_loop nodes (nil = stub behavior)
	RestartConfig      *RestartConfig    // loop restart configuration (nil = DefaultRestartConfig)

	subDepth int // current sub-pipeline nesting depth
}

// maxSubPipelineDepth bounds sub-pipeline nesting so a self-referencing
// pipeline cannot recurse forever.
const maxSubPipelineDepth = 8

// NodeHandlerUnwrapper allows handler wrappers to expose their inner handler.
// This enables backend wiring to reach through decorator layers to the
// underlying handler struct.
type NodeHandlerUnwrapper interface {
	InnerHandler() NodeHandler
}

// unwrapHandler peels through wrapper layers implementing NodeHandlerUnwrapper
// until it reaches a handler that does not wrap another handler.
func unwrapHandler(h NodeHandler) NodeHandler {
	for {
		u, ok := h.(NodeHandlerUnwrapper)
		if !ok {
			return h
		}
		h = u.InnerHandler()
	}
}

// Engine is the pipeline execution engine that runs attractor graph pipelines.
type Engine struct {
	config EngineConfig
}

// RunResult holds the final state of a pipeline execution.
type RunResult struct {
	Status         RunStatus
	FailureReason  string
	FinalOutcome   *Outcome
	CompletedNodes []string
	NodeOutcomes   map[string]*Outcome
	Context        *Context
}

// workItem is one unit of queued work: a node to execute and which attempt
// this dispatch represents (1-based).
type workItem struct {
	nodeID  string
	attempt int
}

// runEnv bundles the per-run collaborators resolved during INITIALIZE.
type runEnv struct {
	store    *ArtifactStore
	registry *HandlerRegistry
	runDir   *RunDirectory
}

// NewEngine creates a new pipeline execution engine with the given configuration.
func NewEngine(config EngineConfig) *Engine {
	return &Engine{config: config}
}

// Run parses DOT source, then runs the resulting graph through the full 5-phase lifecycle.
func (e *Engine) Run(ctx context.Context, source string) (*RunResult, error) {
	// Phase 1: PARSE
	graph, err := Parse(source)
	if err != nil {
		parseErr := fmt.Errorf("parse error: %w", err)
		e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": parseErr.Error()}})
		return nil, parseErr
	}

	return e.RunGraph(ctx, graph)
}

// RunGraph runs an already-parsed graph through the VALIDATE, INITIALIZE,
// EXECUTE, and FINALIZE phases.
func (e *Engine) RunGraph(ctx context.Context, graph *Graph) (*RunResult, error) {
	return e.runGraph(ctx, graph, nil)
}

// runGraph is RunGraph with an optional initial context seed, used by
// sub-pipeline runs to pass parent values into the child.
func (e *Engine) runGraph(ctx context.Context, graph *Graph, seed map[string]any) (*RunResult, error) {
	// Phase 2: VALIDATE
	transforms := e.config.Transforms
	if transforms == nil {
		transforms = DefaultTransforms()
	}
	graph = ApplyTransforms(graph, transforms...)

	_, err := ValidateOrError(graph, e.config.ExtraLintRules...)
	if err != nil {
		validationErr := fmt.Errorf("validation failed: %w", err)
		e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": validationErr.Error()}})
		return nil, validationErr
	}

	// Phase 2b: preflight checks fail fast on missing backends or env vars
	preflightChecks := BuildPreflightChecks(graph, e.config)
	if len(preflightChecks) > 0 {
		preflightResult := RunPreflight(ctx, preflightChecks)
		if !preflightResult.OK() {
			preflightErr := fmt.Errorf("%s", preflightResult.Error())
			e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": preflightErr.Error()}})
			return nil, preflightErr
		}
	}

	// Phase 3: INITIALIZE
	env, err := e.initRun(graph)
	if err != nil {
		return nil, err
	}

	pctx := e.freshContext(graph, env, seed)

	if err := env.runDir.WriteManifest(graph); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to write run manifest: %v", err))
	}

	// Phase 4: EXECUTE with restart loop
	e.emitEvent(EngineEvent{Type: EventPipelineStarted, Data: map[string]any{"run_id": env.runDir.RunID}})

	restartCfg := e.config.RestartConfig
	if restartCfg == nil {
		restartCfg = DefaultRestartConfig()
	}

	var startAtNode *Node
	restartCount := 0

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.emitEvent(EngineEvent{Type: EventPipelineAborted, Data: map[string]any{"error": ctxErr.Error()}})
			return &RunResult{Status: PipelineAborted, FailureReason: ctxErr.Error(), Context: pctx}, ctxErr
		}

		result, err := e.executeGraph(ctx, graph, pctx, env, startAtNode, nil)

		var restartErr *ErrLoopRestart
		if errors.As(err, &restartErr) {
			restartCount++
			if restartCount > restartCfg.MaxRestarts {
				e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": "max restart limit exceeded"}})
				return nil, fmt.Errorf("loop_restart limit exceeded: %d restart(s) performed, max is %d", restartCount, restartCfg.MaxRestarts)
			}

			// Fresh context for the restarted traversal
			pctx = e.freshContext(graph, env, seed)

			targetNode := graph.FindNode(restartErr.TargetNode)
			if targetNode == nil {
				e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": "restart target not found"}})
				return nil, fmt.Errorf("loop_restart target node %q not found", restartErr.TargetNode)
			}
			startAtNode = targetNode
			continue
		}

		return e.finishRun(result, err)
	}
}

// finishRun emits the terminal pipeline event for a finished execution and
// passes the result through.
func (e *Engine) finishRun(result *RunResult, err error) (*RunResult, error) {
	if err != nil {
		if result != nil && result.Status == PipelineAborted {
			e.emitEvent(EngineEvent{Type: EventPipelineAborted, Data: map[string]any{"error": err.Error()}})
		} else {
			e.emitEvent(EngineEvent{Type: EventPipelineFailed, Data: map[string]any{"error": err.Error()}})
		}
		return result, err
	}

	// Phase 5: FINALIZE
	e.emitEvent(EngineEvent{Type: EventPipelineCompleted})
	return result, nil
}

// freshContext builds the initial pipeline context: seed values first, then
// graph attributes, then the engine-internal references.
func (e *Engine) freshContext(graph *Graph, env *runEnv, seed map[string]any) *Context {
	pctx := NewContext()
	for k, v := range seed {
		pctx.Set(k, v)
	}
	for k, v := range graph.Attrs {
		pctx.Set(k, v)
	}
	pctx.Set("_graph", graph)
	pctx.Set("_workdir", env.store.BaseDir())
	return pctx
}

// initRun resolves the run directory, artifact store, and handler registry,
// and wires configured backends into the built-in handlers.
func (e *Engine) initRun(graph *Graph) (*runEnv, error) {
	runID := e.config.RunID
	if runID == "" {
		runID = generateRunID()
	}

	var rd *RunDirectory
	if e.config.ArtifactDir != "" {
		if err := os.MkdirAll(e.config.ArtifactDir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory: %w", err)
		}
		rd = &RunDirectory{BaseDir: e.config.ArtifactDir, RunID: runID}
	} else {
		baseDir := e.config.ArtifactsBaseDir
		if baseDir == "" {
			baseDir = "artifacts"
		}
		var err error
		rd, err = NewRunDirectory(baseDir, runID)
		if err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
	}

	registry := e.config.Handlers
	if registry == nil {
		registry = DefaultHandlerRegistry()
	}
	e.wireHandlers(registry, rd)

	return &runEnv{
		store:    NewArtifactStore(rd.BaseDir),
		registry: registry,
		runDir:   rd,
	}, nil
}

// wireHandlers injects configured backends into the built-in handlers.
// unwrapHandler peels through decorator layers so the type assertions reach
// the underlying handler structs.
func (e *Engine) wireHandlers(registry *HandlerRegistry, rd *RunDirectory) {
	if h := registry.Get("codergen"); h != nil {
		if ch, ok := unwrapHandler(h).(*CodergenHandler); ok {
			if e.config.Backend != nil {
				ch.Backend = e.config.Backend
			}
			if e.config.BaseURL != "" {
				ch.BaseURL = e.config.BaseURL
			}
			ch.LogsRoot = rd.BaseDir
			ch.EventHandler = e.emitEvent
		}
	}
	if h := registry.Get("wait.human"); h != nil {
		if wh, ok := unwrapHandler(h).(*WaitForHumanHandler); ok && e.config.Interviewer != nil {
			wh.Interviewer = e.config.Interviewer
		}
	}
	if h := registry.Get("stack.manager_loop"); h != nil {
		if mh, ok := unwrapHandler(h).(*ManagerLoopHandler); ok && e.config.Manager != nil {
			mh.Backend = e.config.Manager
		}
	}
	if h := registry.Get("subpipeline"); h != nil {
		if sh, ok := unwrapHandler(h).(*SubPipelineHandler); ok {
			if sh.Runner == nil {
				sh.Runner = e
			}
			if sh.BaseDir == "" {
				sh.BaseDir = e.config.PipelineDir
			}
		}
	}
}

// RunSubPipeline executes a child graph as a nested pipeline run, satisfying
// the SubPipelineRunner interface for the sub-pipeline handler. The child run
// gets its own run directory but shares backends, interviewer, and event
// plumbing with the parent.
func (e *Engine) RunSubPipeline(ctx context.Context, child *Graph, seed map[string]any) (*SubPipelineResult, error) {
	if e.config.subDepth >= maxSubPipelineDepth {
		return nil, fmt.Errorf("sub-pipeline nesting exceeds %d levels", maxSubPipelineDepth)
	}

	subCfg := e.config
	subCfg.subDepth++
	subCfg.ArtifactDir = ""
	subCfg.RunID = ""
	subCfg.CheckpointDir = ""
	subCfg.AutoCheckpointPath = ""
	subCfg.Handlers = nil

	sub := NewEngine(subCfg)
	result, err := sub.runGraph(ctx, child, seed)
	if err != nil {
		if result != nil && result.Status == PipelineAborted {
			return nil, err
		}
		res := &SubPipelineResult{Status: StatusFail, FailureReason: err.Error()}
		if result != nil {
			res.Context = result.Context
			if result.FailureReason != "" {
				res.FailureReason = result.FailureReason
			}
		}
		return res, nil
	}

	status := StatusSuccess
	if result.FinalOutcome != nil && result.FinalOutcome.Status == StatusPartialSuccess {
		status = StatusPartialSuccess
	}
	return &SubPipelineResult{Status: status, Context: result.Context}, nil
}

// resumeState carries forward completed nodes, retry counters, and recorded
// outcomes from a checkpoint into a resumed execution.
type resumeState struct {
	completedNodes []string
	nodeRetries    map[string]int
	nodeOutcomes   map[string]*Outcome
}

// ResumeFromCheckpoint loads a checkpoint from disk and resumes graph
// execution from the node after the last completed node. The checkpoint's
// graph fingerprint must match the supplied graph. If the hop after the
// checkpoint would use full fidelity, it is degraded to summary:high since
// in-memory LLM sessions cannot be serialized across a checkpoint boundary.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, graph *Graph, checkpointPath string) (*RunResult, error) {
	cp, err := LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	// Apply the same transforms as a fresh run so the fingerprint is computed
	// over the graph the original run actually executed.
	transforms := e.config.Transforms
	if transforms == nil {
		transforms = DefaultTransforms()
	}
	graph = ApplyTransforms(graph, transforms...)

	if !cp.Matches(graph) {
		return nil, fmt.Errorf("checkpoint does not match graph: fingerprint %s, graph %s", cp.GraphFingerprint, GraphFingerprint(graph))
	}

	cpNode := graph.FindNode(cp.CurrentNode)
	if cpNode == nil {
		return nil, fmt.Errorf("checkpoint references node %q which does not exist in graph", cp.CurrentNode)
	}

	// Restore context before edge selection so conditions can see the
	// checkpointed outcome and preferred_label values.
	pctx := cp.RestoreContext()
	for k, v := range graph.Attrs {
		pctx.Set(k, v)
	}
	pctx.Set("_graph", graph)

	// Reconstruct the checkpoint node's outcome so the selector picks the
	// same edge it would have taken before the interruption.
	cpOutcome := &Outcome{Status: StatusSuccess}
	if prev, ok := cp.NodeOutcomes[cp.CurrentNode]; ok && prev != nil {
		cpOutcome = prev
	} else {
		if s, ok := cp.ContextValues["outcome"].(string); ok && s != "" {
			cpOutcome.Status = StageStatus(s)
		}
		if s, ok := cp.ContextValues["preferred_label"].(string); ok {
			cpOutcome.PreferredLabel = s
		}
	}

	selectedEdge := SelectEdge(graph, cp.CurrentNode, cpOutcome, pctx)
	if selectedEdge == nil {
		outEdges := graph.OutgoingEdges(cp.CurrentNode)
		if len(outEdges) == 0 {
			return nil, fmt.Errorf("checkpoint node %q has no outgoing edges, cannot resume", cp.CurrentNode)
		}
		selectedEdge = outEdges[0]
	}

	nextNode := graph.FindNode(selectedEdge.To)
	if nextNode == nil {
		return nil, fmt.Errorf("edge from checkpoint node %q points to nonexistent node %q", cp.CurrentNode, selectedEdge.To)
	}

	// Degrade full fidelity to summary:high on the first resumed hop.
	fidelityMode := ResolveFidelity(selectedEdge, nextNode, graph)
	if fidelityMode == FidelityFull {
		fidelityMode = FidelitySummaryHigh
	}
	transformed, fidelityPreamble := ApplyFidelity(pctx, fidelityMode, FidelityOptions{})
	pctx = transformed
	if fidelityPreamble != "" {
		pctx.Set("_fidelity_preamble", fidelityPreamble)
	}
	pctx.Set("_graph", graph)

	env, err := e.initRun(graph)
	if err != nil {
		return nil, err
	}
	pctx.Set("_workdir", env.store.BaseDir())

	if err := env.runDir.WriteManifest(graph); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to write run manifest: %v", err))
	}

	e.emitEvent(EngineEvent{Type: EventPipelineStarted, Data: map[string]any{
		"run_id":    env.runDir.RunID,
		"resumed":   true,
		"from_node": cp.CurrentNode,
	}})

	rs := &resumeState{
		completedNodes: cp.CompletedNodes,
		nodeRetries:    cp.NodeRetries,
		nodeOutcomes:   cp.NodeOutcomes,
	}

	result, err := e.executeGraph(ctx, graph, pctx, env, nextNode, rs)
	return e.finishRun(result, err)
}

// executeGraph drives the FIFO work queue until an exit node completes, the
// queue fails, or the run is aborted. startAt overrides the start node when
// non-nil (loop restarts and resumes). rs provides optional resume state.
func (e *Engine) executeGraph(
	ctx context.Context,
	graph *Graph,
	pctx *Context,
	env *runEnv,
	startAt *Node,
	rs *resumeState,
) (*RunResult, error) {
	first := startAt
	if first == nil {
		first = graph.FindStartNode()
		if first == nil {
			return nil, fmt.Errorf("graph has no start node (shape=Mdiamond)")
		}
	}

	queue := []workItem{{nodeID: first.ID, attempt: 1}}
	completedNodes := make([]string, 0)
	nodeOutcomes := make(map[string]*Outcome)
	nodeRetries := make(map[string]int)
	gateRetries := make(map[string]int)

	if rs != nil {
		completedNodes = append(completedNodes, rs.completedNodes...)
		for k, v := range rs.nodeRetries {
			nodeRetries[k] = v
		}
		for k, v := range rs.nodeOutcomes {
			nodeOutcomes[k] = v
		}
	}

	fail := func(format string, args ...any) (*RunResult, error) {
		err := fmt.Errorf(format, args...)
		return &RunResult{
			Status:         PipelineFailed,
			FailureReason:  err.Error(),
			CompletedNodes: completedNodes,
			NodeOutcomes:   nodeOutcomes,
			Context:        pctx,
		}, err
	}

	abort := func(ctxErr error) (*RunResult, error) {
		return &RunResult{
			Status:         PipelineAborted,
			FailureReason:  ctxErr.Error(),
			CompletedNodes: completedNodes,
			NodeOutcomes:   nodeOutcomes,
			Context:        pctx,
		}, ctxErr
	}

	var finalOutcome *Outcome

	// Guard against runaway goal-gate or conditional loops
	const maxIterations = 10000
	iteration := 0

	for len(queue) > 0 {
		iteration++
		if iteration > maxIterations {
			return fail("execution exceeded maximum iterations (%d), possible infinite loop", maxIterations)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return abort(ctxErr)
		}

		item := queue[0]
		queue = queue[1:]

		node := graph.FindNode(item.nodeID)
		if node == nil {
			return fail("work item references unknown node %q", item.nodeID)
		}

		// Exit nodes are blocked until every visited goal gate is satisfied.
		// Gate retries are bounded only by the overall iteration guard.
		if isTerminal(node) {
			if ok, failedGate := checkGoalGates(graph, nodeOutcomes); !ok {
				target := getRetryTarget(failedGate, graph)
				if target == "" || graph.FindNode(target) == nil {
					return fail("goal gate unsatisfied for node %q, no retry target available", failedGate.ID)
				}
				gateRetries[failedGate.ID]++
				e.emitEvent(EngineEvent{Type: EventStageRetrying, NodeID: failedGate.ID, Data: map[string]any{
					"goal_gate": true,
					"target":    target,
					"attempt":   gateRetries[failedGate.ID],
				}})
				queue = append(queue, workItem{nodeID: target, attempt: 1})
				continue
			}

			e.emitEvent(EngineEvent{Type: EventStageStarted, NodeID: node.ID})
			outcome, err := e.dispatch(ctx, graph, node, pctx, env)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return abort(ctxErr)
				}
				e.emitEvent(EngineEvent{Type: EventStageFailed, NodeID: node.ID, Data: map[string]any{"reason": err.Error()}})
				return fail("terminal node %q handler error: %v", node.ID, err)
			}

			nodeOutcomes[node.ID] = outcome
			if outcome.ContextUpdates != nil {
				pctx.ApplyUpdates(outcome.ContextUpdates)
			}
			pctx.Set("outcome", string(outcome.Status))
			pctx.Set("last_stage", node.ID)
			e.writeNodeOutcome(env, node.ID, outcome, pctx)

			if outcome.Status == StatusFail {
				e.emitEvent(EngineEvent{Type: EventStageFailed, NodeID: node.ID, Data: map[string]any{"reason": outcome.FailureReason}})
				return fail("exit node %q failed: %s", node.ID, outcome.FailureReason)
			}

			completedNodes = append(completedNodes, node.ID)
			e.emitEvent(EngineEvent{Type: EventStageCompleted, NodeID: node.ID})
			e.saveCheckpoints(env, graph, pctx, node.ID, completedNodes, nodeRetries, nodeOutcomes)
			finalOutcome = outcome
			break
		}

		// Dispatch the node handler.
		var started map[string]any
		if item.attempt > 1 {
			started = map[string]any{"attempt": item.attempt}
		}
		e.emitEvent(EngineEvent{Type: EventStageStarted, NodeID: node.ID, Data: started})

		outcome, err := e.dispatch(ctx, graph, node, pctx, env)
		retryPolicy := buildRetryPolicy(node, graph, e.defaultRetryPolicy())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return abort(ctxErr)
			}
			// Transient handler errors are retried under the node's policy.
			// Exhausted or non-retryable errors become FAIL outcomes with
			// the error text as the failure reason.
			if retryPolicy.ShouldRetry != nil && retryPolicy.ShouldRetry(err) && item.attempt < retryPolicy.MaxAttempts {
				nodeRetries[node.ID]++
				e.emitEvent(EngineEvent{Type: EventStageRetrying, NodeID: node.ID, Data: map[string]any{
					"attempt": item.attempt,
					"error":   err.Error(),
				}})
				sleepWithContext(ctx, retryPolicy.Backoff.DelayForAttempt(item.attempt-1))
				queue = append([]workItem{{nodeID: node.ID, attempt: item.attempt + 1}}, queue...)
				continue
			}
			reason := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				reason = fmt.Sprintf("node %q timed out", node.ID)
			}
			outcome = &Outcome{Status: StatusFail, FailureReason: reason}
		}

		// RETRY requeues the same node at the head of the queue.
		if outcome.Status == StatusRetry {
			if item.attempt < retryPolicy.MaxAttempts {
				nodeRetries[node.ID]++
				e.emitEvent(EngineEvent{Type: EventStageRetrying, NodeID: node.ID, Data: map[string]any{"attempt": item.attempt}})
				sleepWithContext(ctx, retryPolicy.Backoff.DelayForAttempt(item.attempt-1))
				queue = append([]workItem{{nodeID: node.ID, attempt: item.attempt + 1}}, queue...)
				continue
			}
			if node.Attr("allow_partial", "") == "true" {
				outcome = &Outcome{
					Status:        StatusPartialSuccess,
					Notes:         outcome.Notes,
					FailureReason: "retries exhausted",
				}
			} else {
				outcome = &Outcome{
					Status:        StatusFail,
					Notes:         outcome.Notes,
					FailureReason: fmt.Sprintf("retries exhausted after %d attempt(s)", item.attempt),
				}
			}
		}

		nodeOutcomes[node.ID] = outcome
		if outcome.ContextUpdates != nil {
			pctx.ApplyUpdates(outcome.ContextUpdates)
		}
		pctx.Set("outcome", string(outcome.Status))
		pctx.Set("last_stage", node.ID)

		if outcome.Status == StatusFail {
			e.writeNodeOutcome(env, node.ID, outcome, pctx)
			failData := map[string]any{"status": string(outcome.Status)}
			if outcome.FailureReason != "" {
				failData["reason"] = outcome.FailureReason
			}
			e.emitEvent(EngineEvent{Type: EventStageFailed, NodeID: node.ID, Data: failData})

			// A failing goal gate re-enqueues the retry target so the
			// pipeline can iterate toward the goal. A gate without a
			// target fails the run immediately.
			if node.Attr("goal_gate", "") == "true" {
				target := getRetryTarget(node, graph)
				if target == "" || graph.FindNode(target) == nil {
					return fail("goal gate %q failed with no retry target: %s", node.ID, outcome.FailureReason)
				}
				gateRetries[node.ID]++
				e.emitEvent(EngineEvent{Type: EventStageRetrying, NodeID: node.ID, Data: map[string]any{
					"goal_gate": true,
					"target":    target,
					"attempt":   gateRetries[node.ID],
				}})
				queue = append(queue, workItem{nodeID: target, attempt: 1})
				continue
			}

			// A fail edge (condition="outcome=fail") may route the failure.
			edge := SelectEdge(graph, node.ID, outcome, pctx)
			if edge == nil {
				if outcome.FailureReason != "" {
					return fail("stage %q failed: %s", node.ID, outcome.FailureReason)
				}
				return fail("no edge matched from %s", node.ID)
			}
			next, restart, ferr := e.followEdge(graph, pctx, env, node, edge)
			if restart != nil {
				return nil, restart
			}
			if ferr != nil {
				return fail("%s", ferr.Error())
			}
			pctx = next.pctx
			queue = append(queue, workItem{nodeID: next.target, attempt: 1})
			continue
		}

		// SUCCESS / PARTIAL_SUCCESS / SKIPPED
		completedNodes = append(completedNodes, node.ID)
		if outcome.PreferredLabel != "" {
			pctx.Set("preferred_label", outcome.PreferredLabel)
		}

		// Parallel fan-out: when the handler recorded branch work, run the
		// branches to their join point before the stage is considered done,
		// so checkpoints never contain half-dispatched parallel state.
		ranParallel := false
		var branchIDs []string
		if raw := pctx.Get("parallel.branches"); raw != nil {
			branches := parseBranchList(raw)
			pctx.Delete("parallel.branches")
			if len(branches) > 0 {
				parallelCfg := ParallelConfigFromContext(pctx)
				branchResults, perr := ExecuteParallelBranches(ctx, graph, pctx, env.store, env.registry, branches, parallelCfg)
				if perr != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return abort(ctxErr)
					}
					return fail("parallel execution from node %q failed: %v", node.ID, perr)
				}
				if merr := MergeContexts(pctx, branchResults, parallelCfg.JoinPolicy); merr != nil {
					return fail("parallel merge at node %q failed: %v", node.ID, merr)
				}
				for _, br := range branchResults {
					completedNodes = append(completedNodes, br.NodeID)
					if br.Outcome != nil {
						nodeOutcomes[br.NodeID] = br.Outcome
					}
					branchIDs = append(branchIDs, br.NodeID)
				}
				ranParallel = true
			}
		}

		e.writeNodeOutcome(env, node.ID, outcome, pctx)
		e.emitEvent(EngineEvent{Type: EventStageCompleted, NodeID: node.ID, Data: codergenEventData(outcome.ContextUpdates)})
		e.saveCheckpoints(env, graph, pctx, node.ID, completedNodes, nodeRetries, nodeOutcomes)

		if ranParallel {
			// Route to the continuation target or the fan-in node; fall
			// through to normal edge selection when neither exists.
			if cont := pctx.GetString("parallel.continuation", ""); cont != "" {
				pctx.Delete("parallel.continuation")
				if graph.FindNode(cont) != nil {
					queue = append(queue, workItem{nodeID: cont, attempt: 1})
					continue
				}
			}
			if fanIn := findFanInNode(graph, branchIDs); fanIn != nil {
				queue = append(queue, workItem{nodeID: fanIn.ID, attempt: 1})
				continue
			}
		}

		edge := SelectEdge(graph, node.ID, outcome, pctx)
		if edge == nil {
			return fail("no edge matched from %s", node.ID)
		}
		next, restart, ferr := e.followEdge(graph, pctx, env, node, edge)
		if restart != nil {
			return nil, restart
		}
		if ferr != nil {
			return fail("%s", ferr.Error())
		}
		pctx = next.pctx
		queue = append(queue, workItem{nodeID: next.target, attempt: 1})
	}

	if finalOutcome == nil {
		return fail("pipeline ended without reaching an exit node")
	}

	return &RunResult{
		Status:         PipelineCompleted,
		FinalOutcome:   finalOutcome,
		CompletedNodes: completedNodes,
		NodeOutcomes:   nodeOutcomes,
		Context:        pctx,
	}, nil
}

// edgeHop is the result of following a selected edge: the target node ID and
// the (possibly fidelity-transformed) context to carry forward.
type edgeHop struct {
	target string
	pctx   *Context
}

// followEdge emits the selection event, checks for loop_restart, and applies
// the fidelity transform for the transition.
func (e *Engine) followEdge(graph *Graph, pctx *Context, env *runEnv, node *Node, edge *Edge) (edgeHop, *ErrLoopRestart, error) {
	data := map[string]any{"from": edge.From, "to": edge.To}
	if label := edge.Attr("label", ""); label != "" {
		data["label"] = label
	}
	if condition := edge.Attr("condition", ""); condition != "" {
		data["condition"] = condition
	}
	e.emitEvent(EngineEvent{Type: EventEdgeSelected, NodeID: node.ID, Data: data})

	if EdgeHasLoopRestart(edge) {
		return edgeHop{}, &ErrLoopRestart{TargetNode: edge.To}, nil
	}

	nextNode := graph.FindNode(edge.To)
	if nextNode == nil {
		return edgeHop{}, nil, fmt.Errorf("edge from %q points to nonexistent node %q", node.ID, edge.To)
	}

	fidelityMode := ResolveFidelity(edge, nextNode, graph)
	if fidelityMode != FidelityFull {
		transformed, fidelityPreamble := ApplyFidelity(pctx, fidelityMode, FidelityOptions{})
		pctx = transformed
		if fidelityPreamble != "" {
			pctx.Set("_fidelity_preamble", fidelityPreamble)
		}
		// Restore engine-managed references that compact mode drops
		pctx.Set("_graph", graph)
		if env.store != nil && env.store.BaseDir() != "" {
			pctx.Set("_workdir", env.store.BaseDir())
		}
	} else {
		// Full fidelity: clear any stale preamble from a prior transition
		pctx.Delete("_fidelity_preamble")
	}

	return edgeHop{target: edge.To, pctx: pctx}, nil, nil
}

// dispatch resolves the node's handler and runs it with panic recovery and
// the node-level execution timeout applied.
func (e *Engine) dispatch(ctx context.Context, graph *Graph, node *Node, pctx *Context, env *runEnv) (*Outcome, error) {
	handler := env.registry.Resolve(node)
	if handler == nil {
		return nil, fmt.Errorf("no handler found for node %q", node.ID)
	}

	nodeCtx := ctx
	if timeout := resolveNodeTimeout(node, graph, e.config.DefaultNodeTimeout); timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return safeExecute(nodeCtx, handler, node, pctx, env.store)
}

// defaultRetryPolicy returns the configured default policy, falling back to
// two immediate retries per node when the config leaves it unset.
func (e *Engine) defaultRetryPolicy() RetryPolicy {
	if e.config.DefaultRetry.MaxAttempts > 0 {
		return e.config.DefaultRetry
	}
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     BackoffConfig{Factor: 1.0},
		ShouldRetry: DefaultShouldRetry,
	}
}

// codergenEventData extracts agent metadata keys from a node's context
// updates so stage.completed events carry model and token usage info.
// Returns nil when the updates contain no codergen keys.
func codergenEventData(updates map[string]any) map[string]any {
	var data map[string]any
	for k, v := range updates {
		if strings.HasPrefix(k, "codergen.") {
			if data == nil {
				data = make(map[string]any)
			}
			data[k] = v
		}
	}
	return data
}

// writeNodeOutcome records a node's outcome to outcome.json in its log
// directory. Failures are logged, not fatal.
func (e *Engine) writeNodeOutcome(env *runEnv, nodeID string, outcome *Outcome, pctx *Context) {
	if env.runDir == nil {
		return
	}
	if err := env.runDir.WriteOutcome(nodeID, outcome); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to write outcome for %s: %v", nodeID, err))
	}
}

// saveCheckpoints writes the run checkpoint after a completed stage: the
// primary checkpoint.json in the run directory, an optional timestamped
// history file, and an optional auto-resume path.
func (e *Engine) saveCheckpoints(
	env *runEnv,
	graph *Graph,
	pctx *Context,
	nodeID string,
	completedNodes []string,
	nodeRetries map[string]int,
	nodeOutcomes map[string]*Outcome,
) {
	cp := NewCheckpoint(graph, pctx, nodeID, completedNodes, nodeRetries, nodeOutcomes)

	if env.runDir != nil {
		if err := env.runDir.SaveCheckpoint(cp); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to save checkpoint: %v", err))
		} else {
			e.emitEvent(EngineEvent{Type: EventCheckpointSaved, NodeID: nodeID, Data: map[string]any{
				"path": env.runDir.CheckpointPath(),
			}})
		}
	}

	if e.config.CheckpointDir != "" {
		path := filepath.Join(e.config.CheckpointDir, fmt.Sprintf("checkpoint_%s_%d.json", sanitizeNodeID(nodeID), time.Now().UnixNano()))
		if err := cp.Save(path); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to save checkpoint history: %v", err))
		}
	}

	if e.config.AutoCheckpointPath != "" {
		if err := cp.Save(e.config.AutoCheckpointPath); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to save auto-checkpoint: %v", err))
		}
	}
}

// sanitizeNodeID replaces path separators and other unsafe characters in a
// node ID so it is safe to use as a file or directory name.
func sanitizeNodeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", string(os.PathSeparator), "_")
	return r.Replace(id)
}

// safeExecute wraps handler.Execute with panic recovery, converting panics into errors.
// This prevents a single misbehaving handler from crashing the entire engine.
// The stack trace is included in the error message to aid debugging.
func safeExecute(ctx context.Context, handler NodeHandler, node *Node, pctx *Context, store *ArtifactStore) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("handler panic in node %q: %v\n%s", node.ID, r, stack)
			outcome = nil
		}
	}()
	return handler.Execute(ctx, node, pctx, store)
}

// sleepWithContext sleeps for the given duration, but returns early if the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		return
	}
}

// SetEventHandler sets the engine's event callback after creation.
// This allows external components (like the TUI) to wire into the event stream.
func (e *Engine) SetEventHandler(handler func(EngineEvent)) {
	e.config.EventHandler = handler
}

// GetEventHandler returns the engine's current event callback, or nil if none is set.
func (e *Engine) GetEventHandler() func(EngineEvent) {
	return e.config.EventHandler
}

// GetHandler returns the handler registered for the given type string from the engine's
// handler registry. Returns nil if no registry is configured or the handler type is not found.
// If no registry was configured, a default registry is initialized first.
func (e *Engine) GetHandler(typeName string) NodeHandler {
	if e.config.Handlers == nil {
		e.config.Handlers = DefaultHandlerRegistry()
	}
	return e.config.Handlers.Get(typeName)
}

// SetHandler registers a handler in the engine's handler registry.
// If no registry was configured, a default registry is initialized first.
func (e *Engine) SetHandler(handler NodeHandler) {
	if e.config.Handlers == nil {
		e.config.Handlers = DefaultHandlerRegistry()
	}
	e.config.Handlers.Register(handler)
}

// generateRunID creates a ULID for a pipeline run, falling back to a
// timestamp-based name if entropy is unavailable.
func generateRunID() string {
	id, err := GenerateRunID()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return id
}

// emitEvent sends an event to the configured event handler, if any.
// It stamps each event with the current time if Timestamp is not already set.
func (e *Engine) emitEvent(evt EngineEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if e.config.EventHandler != nil {
		e.config.EventHandler(evt)
	}
}
