// ABOUTME: HTTP server managing pipeline execution via REST API with SSE streaming.
// ABOUTME: Covers submission, status, cancellation, human Q&A, context, event queries, and graph rendering.
package attractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PipelineServer manages HTTP endpoints for running pipelines.
type PipelineServer struct {
	engine    *Engine
	pipelines map[string]*PipelineRun
	mu        sync.RWMutex
	router    chi.Router

	eventQuery EventQuery
	runStore   RunStateStore

	// ToDOT serializes a parsed graph back to DOT text.
	ToDOT func(*Graph) string
	// ToDOTWithStatus serializes a graph with per-node outcome styling.
	ToDOTWithStatus func(*Graph, map[string]*Outcome) string
	// RenderDOTSource renders DOT text to image bytes in the given format.
	RenderDOTSource func(ctx context.Context, dotText string, format string) ([]byte, error)
}

// PipelineRun tracks a running pipeline.
type PipelineRun struct {
	ID          string
	Status      string // "running", "completed", "failed", "cancelled"
	Source      string // original DOT source
	ArtifactDir string // run directory holding manifest, checkpoint, and node logs
	Result      *RunResult
	Error       string
	Events      []EngineEvent // collected events
	Cancel      context.CancelFunc
	Questions   []PendingQuestion // for human-in-the-loop
	mu          sync.RWMutex
	CreatedAt   time.Time
	answerChans map[string]chan string // qid -> channel for delivering answers

	// interviewer bridges HTTP question/answer with the pipeline's Interviewer.Ask calls
	interviewer *httpInterviewer
}

// PendingQuestion represents a question waiting for a human answer.
type PendingQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answered bool     `json:"answered"`
	Answer   string   `json:"answer,omitempty"`
}

// PipelineStatus is the JSON response for pipeline status queries.
type PipelineStatus struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CompletedNodes []string  `json:"completed_nodes,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventQueryResponse is the JSON response for filtered event queries.
type EventQueryResponse struct {
	Events []EngineEvent `json:"events"`
	Total  int           `json:"total"`
}

// EventTailResponse is the JSON response for event tail requests.
type EventTailResponse struct {
	Events []EngineEvent `json:"events"`
}

// EventSummaryResponse is the JSON response for event summary requests.
type EventSummaryResponse struct {
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
	ByNode      map[string]int `json:"by_node"`
	FirstEvent  string         `json:"first_event,omitempty"`
	LastEvent   string         `json:"last_event,omitempty"`
}

// httpInterviewer implements the Interviewer interface by bridging HTTP requests.
// When Ask is called by a pipeline handler, it registers a PendingQuestion and blocks
// until the answer arrives via an HTTP POST endpoint.
type httpInterviewer struct {
	run *PipelineRun
}

// Ask registers a pending question on the pipeline run and blocks until answered.
func (h *httpInterviewer) Ask(ctx context.Context, question string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	qid := uuid.NewString()
	answerCh := make(chan string, 1)

	pq := PendingQuestion{
		ID:       qid,
		Question: question,
		Options:  options,
	}

	h.run.mu.Lock()
	h.run.Questions = append(h.run.Questions, pq)
	if h.run.answerChans == nil {
		h.run.answerChans = make(map[string]chan string)
	}
	h.run.answerChans[qid] = answerCh
	h.run.mu.Unlock()

	// Block until we get an answer or context is cancelled
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case answer := <-answerCh:
		return answer, nil
	}
}

// NewPipelineServer creates a new PipelineServer with the given engine.
func NewPipelineServer(engine *Engine) *PipelineServer {
	s := &PipelineServer{
		engine:    engine,
		pipelines: make(map[string]*PipelineRun),
	}
	s.router = chi.NewRouter()
	s.registerRoutes()
	s.registerUIRoutes()
	return s
}

// SetEventQuery wires an EventQuery so the event query, tail, and summary
// endpoints can serve persisted event logs. Without it those endpoints
// return 503.
func (s *PipelineServer) SetEventQuery(q EventQuery) {
	s.eventQuery = q
}

// SetRunStateStore wires a RunStateStore. Submitted runs are persisted on
// creation and updated when they finish. Persistence is best-effort: the
// in-memory run is authoritative and a store failure never fails a request.
func (s *PipelineServer) SetRunStateStore(store RunStateStore) {
	s.runStore = store
}

// LoadPersistedRuns populates the in-memory pipeline table from the configured
// RunStateStore so historical runs are visible after a server restart.
func (s *PipelineServer) LoadPersistedRuns() error {
	if s.runStore == nil {
		return nil
	}
	states, err := s.runStore.List()
	if err != nil {
		return fmt.Errorf("list persisted runs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range states {
		if _, exists := s.pipelines[state.ID]; exists {
			continue
		}
		run := &PipelineRun{
			ID:        state.ID,
			Status:    state.Status,
			Source:    state.Source,
			Error:     state.Error,
			Events:    state.Events,
			CreatedAt: state.StartedAt,
		}
		if len(state.CompletedNodes) > 0 || len(state.Context) > 0 {
			run.Result = &RunResult{
				CompletedNodes: state.CompletedNodes,
				Context:        NewContextFrom(state.Context),
			}
		}
		s.pipelines[state.ID] = run
	}
	return nil
}

// ServeHTTP delegates to the internal router.
func (s *PipelineServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the HTTP handler for this server.
func (s *PipelineServer) Handler() http.Handler {
	return s.router
}

// registerRoutes sets up all JSON API routes on the chi router.
func (s *PipelineServer) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/pipelines", s.handleSubmitPipeline)
	s.router.Get("/pipelines", s.handleListPipelines)
	s.router.Get("/pipelines/{id}", s.handleGetPipeline)
	s.router.Get("/pipelines/{id}/events", s.handleEvents)
	s.router.Get("/pipelines/{id}/events/query", s.handleEventQuery)
	s.router.Get("/pipelines/{id}/events/tail", s.handleEventTail)
	s.router.Get("/pipelines/{id}/events/summary", s.handleEventSummary)
	s.router.Get("/pipelines/{id}/graph", s.handleGraph)
	s.router.Post("/pipelines/{id}/cancel", s.handleCancel)
	s.router.Get("/pipelines/{id}/questions", s.handleGetQuestions)
	s.router.Post("/pipelines/{id}/questions/{qid}/answer", s.handleAnswerQuestion)
	s.router.Get("/pipelines/{id}/context", s.handleGetContext)
}

// handleHealth reports server liveness for load balancers and the CLI.
func (s *PipelineServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getRun looks up a pipeline run by ID.
func (s *PipelineServer) getRun(id string) (*PipelineRun, bool) {
	s.mu.RLock()
	run, ok := s.pipelines[id]
	s.mu.RUnlock()
	return run, ok
}

// handleSubmitPipeline handles POST /pipelines.
func (s *PipelineServer) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	var source string

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req struct {
			Source string `json:"source"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		source = req.Source
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}
		source = string(body)
	}

	if source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty pipeline source"})
		return
	}

	// Reject bad pipelines up front with the same parse/validate steps the
	// engine applies, so the client gets a 400 instead of an async failure.
	graph, err := Parse(source)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("parse error: %v", err)})
		return
	}
	transforms := s.engine.config.Transforms
	if transforms == nil {
		transforms = DefaultTransforms()
	}
	if _, err := ValidateOrError(ApplyTransforms(graph, transforms...), s.engine.config.ExtraLintRules...); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("validation failed: %v", err)})
		return
	}

	id, err := GenerateRunID()
	if err != nil {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())

	run := &PipelineRun{
		ID:          id,
		Status:      "running",
		Source:      source,
		ArtifactDir: s.runDirFor(id),
		Cancel:      cancel,
		Questions:   make([]PendingQuestion, 0),
		CreatedAt:   time.Now(),
		answerChans: make(map[string]chan string),
	}
	run.interviewer = &httpInterviewer{run: run}

	s.mu.Lock()
	s.pipelines[id] = run
	s.mu.Unlock()

	if s.runStore != nil {
		// Best-effort: a store failure must not block the submission.
		_ = s.runStore.Create(&RunState{
			ID:             id,
			Status:         "running",
			Source:         source,
			SourceHash:     SourceHash(source),
			StartedAt:      run.CreatedAt,
			CompletedNodes: []string{},
			Context:        map[string]any{},
			Events:         []EngineEvent{},
		})
	}

	// Build a per-pipeline engine config that pins the run ID, captures
	// events, and injects the HTTP interviewer.
	engineConfig := s.engine.config
	engineConfig.RunID = id
	prevHandler := engineConfig.EventHandler
	engineConfig.EventHandler = func(evt EngineEvent) {
		if prevHandler != nil {
			prevHandler(evt)
		}
		run.mu.Lock()
		run.Events = append(run.Events, evt)
		run.mu.Unlock()
		if s.runStore != nil && evt.Type != EventAgentTextDelta {
			_ = s.runStore.AddEvent(id, evt)
		}
	}

	sourceRegistry := engineConfig.Handlers
	if sourceRegistry == nil {
		sourceRegistry = DefaultHandlerRegistry()
	}
	engineConfig.Handlers = wrapRegistryWithInterviewer(sourceRegistry, run.interviewer)
	pipelineEngine := NewEngine(engineConfig)

	go func() {
		result, runErr := pipelineEngine.Run(ctx, source)

		run.mu.Lock()
		switch {
		case runErr != nil && ctx.Err() != nil:
			run.Status = "cancelled"
		case runErr != nil:
			run.Status = "failed"
			run.Error = runErr.Error()
		case result != nil && result.Status == PipelineFailed:
			run.Status = "failed"
			run.Error = result.FailureReason
		case result != nil && result.Status == PipelineAborted:
			run.Status = "cancelled"
		default:
			run.Status = "completed"
		}
		run.Result = result
		finalStatus := run.Status
		finalErr := run.Error
		run.mu.Unlock()

		s.persistFinal(id, finalStatus, finalErr, result)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "running",
	})
}

// runDirFor returns the run directory the engine will use for the given run ID.
func (s *PipelineServer) runDirFor(id string) string {
	if s.engine.config.ArtifactDir != "" {
		return s.engine.config.ArtifactDir
	}
	base := s.engine.config.ArtifactsBaseDir
	if base == "" {
		base = "artifacts"
	}
	return filepath.Join(base, id)
}

// persistFinal records a finished run's terminal state in the RunStateStore.
func (s *PipelineServer) persistFinal(id, status, errMsg string, result *RunResult) {
	if s.runStore == nil {
		return
	}
	state, err := s.runStore.Get(id)
	if err != nil {
		return
	}
	now := time.Now()
	state.Status = status
	state.Error = errMsg
	state.CompletedAt = &now
	if result != nil {
		state.CompletedNodes = result.CompletedNodes
		if len(result.CompletedNodes) > 0 {
			state.CurrentNode = result.CompletedNodes[len(result.CompletedNodes)-1]
		}
		if result.Context != nil {
			// Underscore-prefixed keys are runtime-internal and not persisted.
			snap := result.Context.Snapshot()
			clean := make(map[string]any, len(snap))
			for k, v := range snap {
				if strings.HasPrefix(k, "_") {
					continue
				}
				clean[k] = v
			}
			state.Context = clean
		}
	}
	_ = s.runStore.Update(state)
}

// handleListPipelines handles GET /pipelines.
func (s *PipelineServer) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	statuses := make([]PipelineStatus, 0, len(s.pipelines))
	for _, run := range s.pipelines {
		statuses = append(statuses, s.statusOf(run))
	}
	s.mu.RUnlock()

	// Most recent first
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CreatedAt.After(statuses[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, statuses)
}

// statusOf builds the status view of a run. Callers must not hold run.mu.
func (s *PipelineServer) statusOf(run *PipelineRun) PipelineStatus {
	run.mu.RLock()
	defer run.mu.RUnlock()
	status := PipelineStatus{
		ID:        run.ID,
		Status:    run.Status,
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
	}
	if run.Result != nil {
		status.CompletedNodes = run.Result.CompletedNodes
	}
	return status
}

// handleGetPipeline handles GET /pipelines/{id}.
func (s *PipelineServer) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.statusOf(run))
}

// handleEvents handles GET /pipelines/{id}/events as an SSE stream.
func (s *PipelineServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Track how many events we've already sent
	sentCount := 0

	for {
		run.mu.RLock()
		currentEvents := run.Events
		status := run.Status
		run.mu.RUnlock()

		// Send any new events
		for sentCount < len(currentEvents) {
			evt := currentEvents[sentCount]
			data, _ := json.Marshal(map[string]any{
				"type":    string(evt.Type),
				"node_id": evt.NodeID,
				"data":    evt.Data,
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			sentCount++
		}

		// If the pipeline is done, send final status and close
		if status == "completed" || status == "failed" || status == "cancelled" {
			data, _ := json.Marshal(map[string]string{"status": status})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		}

		// Check if client disconnected
		select {
		case <-r.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
			// Poll again
		}
	}
}

// handleEventQuery handles GET /pipelines/{id}/events/query with filter and
// pagination query parameters.
func (s *PipelineServer) handleEventQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.getRun(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}
	if s.eventQuery == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event query not configured"})
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := s.eventQuery.QueryEvents(id, filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	countFilter := filter
	countFilter.Limit = 0
	countFilter.Offset = 0
	total, err := s.eventQuery.CountEvents(id, countFilter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, EventQueryResponse{Events: events, Total: total})
}

// filterFromQuery builds an EventFilter from request query parameters.
func filterFromQuery(r *http.Request) (EventFilter, error) {
	var filter EventFilter
	q := r.URL.Query()

	if t := q.Get("type"); t != "" {
		filter.Types = []EngineEventType{EngineEventType(t)}
	}
	filter.NodeID = q.Get("node")

	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, fmt.Errorf("invalid since timestamp %q: use RFC3339", since)
		}
		filter.Since = &ts
	}
	if until := q.Get("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, fmt.Errorf("invalid until timestamp %q: use RFC3339", until)
		}
		filter.Until = &ts
	}
	if limit := q.Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("invalid limit %q", limit)
		}
		filter.Limit = v
	}
	if offset := q.Get("offset"); offset != "" {
		v, err := strconv.Atoi(offset)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("invalid offset %q", offset)
		}
		filter.Offset = v
	}

	return filter, nil
}

// handleEventTail handles GET /pipelines/{id}/events/tail?n=N.
func (s *PipelineServer) handleEventTail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.getRun(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}
	if s.eventQuery == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event query not configured"})
		return
	}

	n := 10
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		v, err := strconv.Atoi(nStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid n %q", nStr)})
			return
		}
		n = v
	}

	events, err := s.eventQuery.TailEvents(id, n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, EventTailResponse{Events: events})
}

// handleEventSummary handles GET /pipelines/{id}/events/summary.
func (s *PipelineServer) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.getRun(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}
	if s.eventQuery == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event query not configured"})
		return
	}

	summary, err := s.eventQuery.SummarizeEvents(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := EventSummaryResponse{
		TotalEvents: summary.TotalEvents,
		ByType:      make(map[string]int, len(summary.ByType)),
		ByNode:      summary.ByNode,
	}
	for t, count := range summary.ByType {
		resp.ByType[string(t)] = count
	}
	if summary.FirstEvent != nil {
		resp.FirstEvent = summary.FirstEvent.Format(time.RFC3339Nano)
	}
	if summary.LastEvent != nil {
		resp.LastEvent = summary.LastEvent.Format(time.RFC3339Nano)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGraph handles GET /pipelines/{id}/graph?format=dot|svg|png.
// Default format is svg. Without a renderer the response falls back to DOT
// text; without any serializer it falls back to the submitted source.
func (s *PipelineServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "svg"
	}
	if format != "dot" && format != "svg" && format != "png" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported format %q: use dot, svg, or png", format)})
		return
	}

	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}

	run.mu.RLock()
	source := run.Source
	result := run.Result
	run.mu.RUnlock()

	dotText := s.dotTextFor(source, result)

	if format == "dot" || s.RenderDOTSource == nil {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.Write([]byte(dotText))
		return
	}

	data, err := s.RenderDOTSource(r.Context(), dotText, format)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("render failed: %v", err)})
		return
	}

	switch format {
	case "svg":
		w.Header().Set("Content-Type", "image/svg+xml")
	case "png":
		w.Header().Set("Content-Type", "image/png")
	}
	w.Write(data)
}

// dotTextFor produces DOT text for a run, overlaying node outcomes when the
// run has results and a status serializer is configured.
func (s *PipelineServer) dotTextFor(source string, result *RunResult) string {
	if s.ToDOT == nil && s.ToDOTWithStatus == nil {
		return source
	}
	graph, err := Parse(source)
	if err != nil {
		return source
	}
	if result != nil && len(result.NodeOutcomes) > 0 && s.ToDOTWithStatus != nil {
		return s.ToDOTWithStatus(graph, result.NodeOutcomes)
	}
	if s.ToDOT != nil {
		return s.ToDOT(graph)
	}
	return source
}

// handleCancel handles POST /pipelines/{id}/cancel.
func (s *PipelineServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}

	// Runs loaded from the store have no cancel function.
	if run.Cancel != nil {
		run.Cancel()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleGetQuestions handles GET /pipelines/{id}/questions.
func (s *PipelineServer) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}

	run.mu.RLock()
	pending := make([]PendingQuestion, 0, len(run.Questions))
	for _, q := range run.Questions {
		if !q.Answered {
			pending = append(pending, q)
		}
	}
	run.mu.RUnlock()

	writeJSON(w, http.StatusOK, pending)
}

// handleAnswerQuestion handles POST /pipelines/{id}/questions/{qid}/answer.
func (s *PipelineServer) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}
	qid := chi.URLParam(r, "qid")

	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	run.mu.Lock()
	found := false
	for i := range run.Questions {
		if run.Questions[i].ID == qid {
			run.Questions[i].Answered = true
			run.Questions[i].Answer = req.Answer
			found = true
			break
		}
	}

	// Send the answer to the waiting Ask() call
	var answerCh chan string
	if found {
		answerCh = run.answerChans[qid]
		delete(run.answerChans, qid)
	}
	run.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "question not found"})
		return
	}

	if answerCh != nil {
		answerCh <- req.Answer
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

// handleGetContext handles GET /pipelines/{id}/context.
func (s *PipelineServer) handleGetContext(w http.ResponseWriter, r *http.Request) {
	run, ok := s.getRun(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pipeline not found"})
		return
	}

	run.mu.RLock()
	result := run.Result
	run.mu.RUnlock()

	if result == nil || result.Context == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	writeJSON(w, http.StatusOK, result.Context.Snapshot())
}

// wrapRegistryWithInterviewer creates a new HandlerRegistry where each handler
// is wrapped to inject the given Interviewer into the pipeline context.
func wrapRegistryWithInterviewer(source *HandlerRegistry, interviewer Interviewer) *HandlerRegistry {
	wrapped := NewHandlerRegistry()
	for typeName, handler := range source.handlers {
		wrapped.handlers[typeName] = &interviewerInjectingHandler{
			inner:       handler,
			interviewer: interviewer,
		}
	}
	return wrapped
}

// interviewerInjectingHandler wraps a NodeHandler, injecting an Interviewer
// into the pipeline context before delegating execution.
type interviewerInjectingHandler struct {
	inner       NodeHandler
	interviewer Interviewer
}

func (h *interviewerInjectingHandler) Type() string { return h.inner.Type() }

// InnerHandler exposes the wrapped handler so backend wiring can reach it.
func (h *interviewerInjectingHandler) InnerHandler() NodeHandler { return h.inner }

func (h *interviewerInjectingHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	// Inject the interviewer so handlers can use it for human-in-the-loop
	pctx.Set("_interviewer", h.interviewer)
	return h.inner.Execute(ctx, node, pctx, store)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
