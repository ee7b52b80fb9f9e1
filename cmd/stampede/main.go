// ABOUTME: CLI entrypoint for the stampede pipeline runner with run, validate, serve, and server modes.
// ABOUTME: Wires together the attractor engine, HTTP server, retry policies, auto-resume, and signal handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/2389-research/stampede/attractor"
	"github.com/2389-research/stampede/render"
	"github.com/2389-research/stampede/tui"

	tea "github.com/charmbracelet/bubbletea"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional arguments.
type config struct {
	serverMode    bool
	port          int
	validateOnly  bool
	tuiMode       bool
	checkpointDir string
	artifactDir   string
	dataDir       string
	retryPolicy   string
	baseURL       string
	backendType   string
	goalOverride  string
	fresh         bool
	verbose       bool
	showVersion   bool
	pipelineFile  string
}

func main() {
	loadDotEnvAuto()

	if scfg, ok := parseSetupArgs(os.Args[1:]); ok {
		os.Exit(runSetup(scfg))
	}
	if scfg, ok := parseServeArgs(os.Args[1:]); ok {
		os.Exit(runServe(scfg))
	}

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("stampede %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
// A leading "run" subcommand token before the pipeline file is accepted
// and skipped, so "stampede run pipeline.dot" and "stampede pipeline.dot"
// behave identically.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("stampede", flag.ContinueOnError)
	fs.BoolVar(&cfg.serverMode, "server", false, "Start HTTP server mode")
	fs.IntVar(&cfg.port, "port", 2389, "Server port (default: 2389)")
	fs.BoolVar(&cfg.validateOnly, "validate", false, "Validate pipeline without executing")
	fs.StringVar(&cfg.checkpointDir, "checkpoint-dir", "", "Directory for checkpoint files")
	fs.StringVar(&cfg.artifactDir, "artifact-dir", ".", "Directory for artifact storage")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Data directory for persistent state (default: $XDG_DATA_HOME/stampede)")
	fs.StringVar(&cfg.retryPolicy, "retry", "none", "Default retry policy: none, standard, aggressive, linear, patient")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Custom API base URL for the LLM provider")
	fs.StringVar(&cfg.backendType, "backend", "", "Codergen backend: agent or claude-code (default: auto-detect)")
	fs.StringVar(&cfg.goalOverride, "goal", "", "Override the pipeline goal attribute")
	fs.BoolVar(&cfg.fresh, "fresh", false, "Start a new run instead of resuming an interrupted one")
	fs.BoolVar(&cfg.tuiMode, "tui", false, "Run with interactive terminal UI")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "run" {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		cfg.pipelineFile = rest[0]
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	if cfg.serverMode {
		return runServer(cfg)
	}

	if cfg.pipelineFile == "" {
		printHelp(os.Stderr, version)
		return 1
	}

	// A YAML argument is a run manifest, not DOT source. Fold it into the
	// config before dispatching.
	if isManifestPath(cfg.pipelineFile) {
		if err := applyManifest(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	if cfg.validateOnly {
		return validatePipeline(cfg)
	}

	// Any mode that actually executes a pipeline needs an LLM backend.
	// Check for API keys before doing anything else.
	if detectBackend(false, cfg.backendType) == nil {
		fmt.Fprintln(os.Stderr, "error: no LLM API key found")
		fmt.Fprintln(os.Stderr, "Set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
		return 1
	}

	if cfg.tuiMode {
		return runPipelineWithTUI(cfg)
	}

	return runPipeline(cfg)
}

// runPipeline reads a DOT file and executes the pipeline through the engine.
// When a prior interrupted run of the same source left a checkpoint behind,
// the run resumes from it unless -fresh is given.
func runPipeline(cfg config) int {
	source, err := os.ReadFile(cfg.pipelineFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Resolve data directory for persistent state
	dataDir, err := resolveDataDir(cfg.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve data dir: %v\n", err)
	}

	// Set up persistent run state store
	var store *attractor.FSRunStateStore
	if dataDir != "" {
		store, err = attractor.NewFSRunStateStore(filepath.Join(dataDir, "runs"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create run state store: %v\n", err)
			store = nil
		}
	}

	sourceHash := attractor.SourceHash(string(source))

	// A goal override changes the effective graph without changing the
	// source hash, so resuming a checkpoint taken without the override
	// would trip the fingerprint check. Treat it as a fresh run.
	if store != nil && !cfg.fresh && cfg.goalOverride == "" {
		prior, ferr := store.FindResumable(sourceHash)
		if ferr == nil && prior != nil {
			return resumePipeline(cfg, store, prior, string(source))
		}
	}

	// Generate a run ID for tracking
	runID, err := attractor.GenerateRunID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	var graph *attractor.Graph
	if cfg.goalOverride != "" {
		graph, err = attractor.Parse(string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if graph.Attrs == nil {
			graph.Attrs = map[string]string{}
		}
		graph.Attrs["goal"] = cfg.goalOverride
	}

	engineCfg := attractor.EngineConfig{
		CheckpointDir: cfg.checkpointDir,
		ArtifactDir:   cfg.artifactDir,
		PipelineDir:   filepath.Dir(cfg.pipelineFile),
		DefaultRetry:  retryPolicyFromName(cfg.retryPolicy),
		Handlers:      attractor.DefaultHandlerRegistry(),
		Backend:       detectBackend(cfg.verbose, cfg.backendType),
		Manager:       detectManager(cfg.verbose),
		BaseURL:       cfg.baseURL,
		RunID:         runID,
	}
	if store != nil {
		engineCfg.AutoCheckpointPath = store.CheckpointPath(runID)
	}
	if cfg.verbose {
		engineCfg.EventHandler = verboseEventHandler
	}

	engine := attractor.NewEngine(engineCfg)

	// Wire CLI interviewer for human gate nodes
	wireInterviewer(engine)

	// Persist initial run state
	startTime := time.Now()
	if store != nil {
		initialState := &attractor.RunState{
			ID:             runID,
			PipelineFile:   cfg.pipelineFile,
			Status:         "running",
			Source:         string(source),
			SourceHash:     sourceHash,
			StartedAt:      startTime,
			CompletedNodes: []string{},
			Context:        map[string]any{},
			Events:         []attractor.EngineEvent{},
		}
		if err := store.Create(initialState); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not persist initial state: %v\n", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	var result *attractor.RunResult
	var runErr error
	if graph != nil {
		result, runErr = engine.RunGraph(ctx, graph)
	} else {
		result, runErr = engine.Run(ctx, string(source))
	}

	persistFinalRunState(store, runID, cfg.pipelineFile, string(source), sourceHash, startTime, result, runErr)

	return reportRunOutcome(result, runErr)
}

// resumePipeline restarts an interrupted run from its auto-checkpoint,
// reusing its run ID so the stored state and artifacts stay in one place.
func resumePipeline(cfg config, store *attractor.FSRunStateStore, prior *attractor.RunState, source string) int {
	fmt.Fprintf(os.Stderr, "resuming run %s (was %s)\n", prior.ID, prior.Status)

	graph, err := attractor.Parse(source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	engineCfg := attractor.EngineConfig{
		CheckpointDir:      cfg.checkpointDir,
		ArtifactDir:        cfg.artifactDir,
		PipelineDir:        filepath.Dir(cfg.pipelineFile),
		DefaultRetry:       retryPolicyFromName(cfg.retryPolicy),
		Handlers:           attractor.DefaultHandlerRegistry(),
		Backend:            detectBackend(cfg.verbose, cfg.backendType),
		Manager:            detectManager(cfg.verbose),
		BaseURL:            cfg.baseURL,
		RunID:              prior.ID,
		AutoCheckpointPath: store.CheckpointPath(prior.ID),
	}
	if cfg.verbose {
		engineCfg.EventHandler = verboseEventHandler
	}

	engine := attractor.NewEngine(engineCfg)
	wireInterviewer(engine)

	prior.Status = "running"
	prior.Error = ""
	prior.CompletedAt = nil
	if err := store.Update(prior); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist run state: %v\n", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, runErr := engine.ResumeFromCheckpoint(ctx, graph, store.CheckpointPath(prior.ID))

	persistFinalRunState(store, prior.ID, prior.PipelineFile, source, prior.SourceHash, prior.StartedAt, result, runErr)

	return reportRunOutcome(result, runErr)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// persistFinalRunState records the terminal state of a run. Persistence
// failures are warnings: the pipeline outcome stands regardless.
func persistFinalRunState(store *attractor.FSRunStateStore, runID, pipelineFile, source, sourceHash string, startedAt time.Time, result *attractor.RunResult, runErr error) {
	if store == nil {
		return
	}

	now := time.Now()
	finalState := &attractor.RunState{
		ID:             runID,
		PipelineFile:   pipelineFile,
		Source:         source,
		SourceHash:     sourceHash,
		StartedAt:      startedAt,
		CompletedAt:    &now,
		CompletedNodes: []string{},
		Context:        map[string]any{},
		Events:         []attractor.EngineEvent{},
	}

	switch {
	case runErr != nil:
		finalState.Status = "failed"
		finalState.Error = runErr.Error()
	case result != nil && result.Status == attractor.PipelineFailed:
		finalState.Status = "failed"
		finalState.Error = result.FailureReason
	case result != nil && result.Status == attractor.PipelineAborted:
		finalState.Status = "cancelled"
	default:
		finalState.Status = "completed"
	}

	if result != nil {
		finalState.CompletedNodes = result.CompletedNodes
		if result.Context != nil {
			finalState.Context = result.Context.Snapshot()
		}
	}

	if err := store.Update(finalState); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist final state: %v\n", err)
	}
}

// reportRunOutcome prints the run result and maps it to an exit code.
func reportRunOutcome(result *attractor.RunResult, runErr error) int {
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}

	if result != nil && result.Status == attractor.PipelineFailed {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %s\n", result.FailureReason)
		return 1
	}
	if result != nil && result.Status == attractor.PipelineAborted {
		fmt.Fprintln(os.Stderr, "Pipeline aborted.")
		return 1
	}

	fmt.Printf("Pipeline completed successfully.\n")
	if result != nil {
		fmt.Printf("Completed nodes: %v\n", result.CompletedNodes)
		if result.FinalOutcome != nil {
			fmt.Printf("Final status: %s\n", result.FinalOutcome.Status)
		}
	}

	return 0
}

// runPipelineWithTUI reads a DOT file and executes the pipeline through the
// Bubble Tea TUI, providing an interactive terminal dashboard with live DAG
// visualization, event log, node details, and human gate input.
func runPipelineWithTUI(cfg config) int {
	source, err := os.ReadFile(cfg.pipelineFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Parse the graph early so we can display the DAG structure in the TUI.
	graph, err := attractor.Parse(string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Apply transforms for the TUI display (same as engine does internally).
	transforms := attractor.DefaultTransforms()
	graph = attractor.ApplyTransforms(graph, transforms...)

	engineCfg := attractor.EngineConfig{
		CheckpointDir: cfg.checkpointDir,
		ArtifactDir:   cfg.artifactDir,
		PipelineDir:   filepath.Dir(cfg.pipelineFile),
		DefaultRetry:  retryPolicyFromName(cfg.retryPolicy),
		Handlers:      attractor.DefaultHandlerRegistry(),
		Backend:       detectBackend(cfg.verbose, cfg.backendType),
		Manager:       detectManager(cfg.verbose),
		BaseURL:       cfg.baseURL,
	}

	engine := attractor.NewEngine(engineCfg)

	// Create a cancellable context so quitting the TUI stops the engine.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the TUI app model.
	model := tui.NewAppModel(graph, engine, string(source), ctx)

	// Create the Bubble Tea program with alt-screen mode.
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Wire the event bridge so engine events reach the TUI.
	bridge := tui.NewEventBridge(p.Send)
	engine.SetEventHandler(bridge.HandleEvent)

	// Wire the human gate interviewer for interactive human-in-the-loop nodes.
	tui.WireHumanGate(engine, model.HumanGate())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}

// resolveDataDir returns the data directory to use, preferring an explicit
// override and falling back to the XDG-based default.
func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return defaultDataDir()
}

// buildPipelineServer creates a PipelineServer with the render functions and
// persistent state store wired in. Run artifacts land under the data
// directory, one subdirectory per run.
func buildPipelineServer(cfg config) (*attractor.PipelineServer, error) {
	dataDir, err := resolveDataDir(cfg.dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	engineCfg := attractor.EngineConfig{
		CheckpointDir:    cfg.checkpointDir,
		ArtifactsBaseDir: filepath.Join(dataDir, "artifacts"),
		DefaultRetry:     retryPolicyFromName(cfg.retryPolicy),
		Handlers:         attractor.DefaultHandlerRegistry(),
		Backend:          detectBackend(cfg.verbose, cfg.backendType),
		Manager:          detectManager(cfg.verbose),
		BaseURL:          cfg.baseURL,
	}
	// "." is the CLI default for single runs; server runs keep per-run dirs.
	if cfg.artifactDir != "" && cfg.artifactDir != "." {
		engineCfg.ArtifactDir = cfg.artifactDir
	}

	if cfg.verbose {
		engineCfg.EventHandler = verboseEventHandler
	}

	engine := attractor.NewEngine(engineCfg)
	server := attractor.NewPipelineServer(engine)

	// Wire render functions into the server for graph visualization endpoints.
	server.ToDOT = render.ToDOT
	server.ToDOTWithStatus = render.ToDOTWithStatus
	server.RenderDOTSource = render.RenderDOTSource

	// Wire persistent run state store
	store, err := attractor.NewFSRunStateStore(filepath.Join(dataDir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("create run state store: %w", err)
	}
	server.SetRunStateStore(store)

	if err := server.LoadPersistedRuns(); err != nil {
		return nil, fmt.Errorf("load persisted runs: %w", err)
	}

	return server, nil
}

// runServer starts the HTTP pipeline server.
func runServer(cfg config) int {
	if detectBackend(false, cfg.backendType) == nil {
		fmt.Fprintln(os.Stderr, "warning: no LLM API key found, pipelines with codergen nodes will fail")
		fmt.Fprintln(os.Stderr, "Set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
	}

	server, err := buildPipelineServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)

	ctx, cancel := signalContext()
	defer cancel()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}

// validatePipeline parses and validates a DOT file without executing it.
func validatePipeline(cfg config) int {
	source, err := os.ReadFile(cfg.pipelineFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	graph, err := attractor.Parse(string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	transforms := attractor.DefaultTransforms()
	graph = attractor.ApplyTransforms(graph, transforms...)

	diags := attractor.Validate(graph)

	hasErrors := false
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "[%s] %s", d.Severity, d.Message)
		if d.NodeID != "" {
			fmt.Fprintf(os.Stderr, " (node: %s)", d.NodeID)
		}
		if d.Fix != "" {
			fmt.Fprintf(os.Stderr, " -- fix: %s", d.Fix)
		}
		fmt.Fprintln(os.Stderr)

		if d.Severity == attractor.SeverityError {
			hasErrors = true
		}
	}

	if hasErrors {
		fmt.Fprintf(os.Stderr, "Validation failed.\n")
		return 1
	}

	fmt.Println("Pipeline is valid.")
	return 0
}

// retryPolicyFromName maps a CLI retry policy name to an attractor RetryPolicy preset.
func retryPolicyFromName(name string) attractor.RetryPolicy {
	switch strings.ToLower(name) {
	case "none":
		return attractor.RetryPolicyNone()
	case "standard":
		return attractor.RetryPolicyStandard()
	case "aggressive":
		return attractor.RetryPolicyAggressive()
	case "linear":
		return attractor.RetryPolicyLinear()
	case "patient":
		return attractor.RetryPolicyPatient()
	default:
		return attractor.RetryPolicyNone()
	}
}

// detectBackend picks the codergen backend. An explicit backendType wins,
// then the STAMPEDE_BACKEND environment variable, then API key detection.
// A claude-code request falls back to the agent backend when the claude
// binary is not on PATH but an API key is available.
func detectBackend(verbose bool, backendType string) attractor.CodergenBackend {
	if backendType == "" {
		backendType = os.Getenv("STAMPEDE_BACKEND")
	}

	switch backendType {
	case "claude-code":
		if _, err := exec.LookPath("claude"); err == nil {
			backend, berr := attractor.NewClaudeCodeBackend()
			if berr == nil {
				if verbose {
					fmt.Fprintln(os.Stderr, "[backend] using ClaudeCodeBackend")
				}
				return backend
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "[backend] claude-code unavailable: %v\n", berr)
			}
		} else if verbose {
			fmt.Fprintln(os.Stderr, "[backend] claude binary not found, falling back to agent")
		}
	case "", "agent":
		// fall through to API key detection
	default:
		if verbose {
			fmt.Fprintf(os.Stderr, "[backend] unknown backend type %q, falling back to auto-detect\n", backendType)
		}
	}

	keys := []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"}
	for _, k := range keys {
		if os.Getenv(k) != "" {
			if verbose {
				fmt.Fprintf(os.Stderr, "[backend] using AgentBackend (%s detected)\n", k)
			}
			return &attractor.AgentBackend{}
		}
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "[backend] no API keys found, using stub mode")
	}
	return nil
}

// detectManager picks the supervision backend for manager loop nodes.
// LLM supervision is opt-in via STAMPEDE_MANAGER=llm; the default keeps
// manager nodes in their zero-cost stub behavior.
func detectManager(verbose bool) attractor.ManagerBackend {
	if os.Getenv("STAMPEDE_MANAGER") != "llm" {
		return nil
	}
	backend, err := attractor.NewLLMManagerBackendFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: STAMPEDE_MANAGER=llm but %v; manager nodes will use stub behavior\n", err)
		return nil
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "[manager] using LLM supervision backend")
	}
	return backend
}

// wireInterviewer attaches a ConsoleInterviewer to the WaitForHumanHandler
// so human gate nodes work interactively in CLI mode.
func wireInterviewer(engine *attractor.Engine) {
	handler := engine.GetHandler("wait.human")
	if handler == nil {
		return
	}
	if hh, ok := handler.(*attractor.WaitForHumanHandler); ok {
		hh.Interviewer = attractor.NewConsoleInterviewer()
	}
}

// verboseEventHandler prints engine lifecycle events to stderr.
func verboseEventHandler(evt attractor.EngineEvent) {
	switch evt.Type {
	case attractor.EventPipelineStarted:
		fmt.Fprintf(os.Stderr, "[pipeline] started\n")
	case attractor.EventStageStarted:
		fmt.Fprintf(os.Stderr, "[stage] %s started\n", evt.NodeID)
	case attractor.EventStageCompleted:
		fmt.Fprintf(os.Stderr, "[stage] %s completed\n", evt.NodeID)
	case attractor.EventStageFailed:
		if reason, ok := evt.Data["reason"]; ok {
			fmt.Fprintf(os.Stderr, "[stage] %s failed: %v\n", evt.NodeID, reason)
		} else {
			fmt.Fprintf(os.Stderr, "[stage] %s failed\n", evt.NodeID)
		}
	case attractor.EventStageRetrying:
		fmt.Fprintf(os.Stderr, "[stage] %s retrying\n", evt.NodeID)
	case attractor.EventPipelineCompleted:
		fmt.Fprintf(os.Stderr, "[pipeline] completed\n")
	case attractor.EventPipelineFailed:
		if errVal, ok := evt.Data["error"]; ok {
			fmt.Fprintf(os.Stderr, "[pipeline] failed: %v\n", errVal)
		} else {
			fmt.Fprintf(os.Stderr, "[pipeline] failed\n")
		}
	case attractor.EventCheckpointSaved:
		fmt.Fprintf(os.Stderr, "[checkpoint] saved at %s\n", evt.NodeID)
	case attractor.EventAgentToolCallStart:
		fmt.Fprintf(os.Stderr, "[agent] %s: tool %v\n", evt.NodeID, evt.Data["tool_name"])
	case attractor.EventAgentToolCallEnd:
		fmt.Fprintf(os.Stderr, "[agent] %s: tool %v done (%vms)\n", evt.NodeID, evt.Data["tool_name"], evt.Data["duration_ms"])
	case attractor.EventAgentLLMTurn:
		if inputTok, ok := evt.Data["input_tokens"]; ok {
			fmt.Fprintf(os.Stderr, "[agent] %s: llm turn (in:%v out:%v total:%v)\n", evt.NodeID, inputTok, evt.Data["output_tokens"], evt.Data["total_tokens"])
		} else {
			fmt.Fprintf(os.Stderr, "[agent] %s: llm turn (%v tokens)\n", evt.NodeID, evt.Data["tokens"])
		}
	case attractor.EventAgentSteering:
		fmt.Fprintf(os.Stderr, "[agent] %s: steering: %v\n", evt.NodeID, evt.Data["message"])
	case attractor.EventAgentLoopDetected:
		fmt.Fprintf(os.Stderr, "[agent] %s: loop detected: %v\n", evt.NodeID, evt.Data["message"])
	}
}
