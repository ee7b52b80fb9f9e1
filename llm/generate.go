// ABOUTME: High-level Generate API for the unified LLM client SDK.
// ABOUTME: Provides Generate, StreamGenerate, GenerateObject functions with tool loops, parallel execution, and structured output.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// StopCondition is a predicate that decides whether the tool loop should stop
// based on the accumulated step results so far.
type StopCondition func(steps []StepResult) bool

// StepCountIs returns a StopCondition that stops once n steps have completed.
func StepCountIs(n int) StopCondition {
	return func(steps []StepResult) bool {
		return len(steps) >= n
	}
}

// HasToolCall returns a StopCondition that stops once any step has requested
// the named tool.
func HasToolCall(name string) StopCondition {
	return func(steps []StepResult) bool {
		for _, s := range steps {
			for _, tc := range s.ToolCalls {
				if tc.Name == name {
					return true
				}
			}
		}
		return false
	}
}

// StepResult captures the output of a single iteration in the generate loop.
type StepResult struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCallData
	ToolResults  []ToolResult
	FinishReason FinishReason
	Usage        Usage
	Response     *Response
	Warnings     []Warning
}

// GenerateResult is the final output of a Generate call, aggregating all steps.
type GenerateResult struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCallData
	ToolResults  []ToolResult
	FinishReason FinishReason
	Usage        Usage
	TotalUsage   Usage
	Steps        []StepResult
	Response     *Response
	Output       any // for GenerateObject parsed output
}

// GenerateOptions configures a Generate, StreamGenerate, or GenerateObject call.
type GenerateOptions struct {
	Model           string
	Prompt          string    // simple text prompt (mutually exclusive with Messages)
	Messages        []Message // full message history
	System          string    // system message
	Tools           []Tool    // tools with optional execute handlers
	ToolChoice      *ToolChoice
	MaxToolRounds   int // tool-execution rounds after the initial call (default 1)
	StopWhen        StopCondition
	ResponseFormat  *ResponseFormat
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StopSequences   []string
	ReasoningEffort string
	Provider        string
	ProviderOptions map[string]map[string]any
	MaxRetries      int // default 2
	Timeout         *TimeoutConfig
	Client          *Client // client to route the call through (required)
}

// cancellation derives the context used for every provider call in a generate
// loop and settles the first observed cancellation cause exactly once, so a
// race between an external abort and the total timeout cannot reclassify the
// outcome.
type cancellation struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	cause  error
}

// newCancellation returns an AbortError immediately when ctx is already
// cancelled. A configured total timeout expires as a RequestTimeoutError.
func newCancellation(ctx context.Context, timeout *TimeoutConfig) (*cancellation, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AbortError{SDKError: SDKError{
			Message: "operation aborted before start",
			Cause:   context.Cause(ctx),
		}}
	}

	c := &cancellation{}
	if timeout != nil && timeout.Total > 0 {
		c.ctx, c.cancel = context.WithTimeoutCause(ctx, timeout.Total, &RequestTimeoutError{SDKError: SDKError{
			Message: fmt.Sprintf("generation exceeded total timeout of %s", timeout.Total),
		}})
	} else {
		c.ctx, c.cancel = context.WithCancel(ctx)
	}
	return c, nil
}

func (c *cancellation) stop() {
	c.cancel()
}

// classify maps context cancellation surfaced by a provider call onto the
// settled AbortError or RequestTimeoutError. All other errors pass through.
func (c *cancellation) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ctx.Err() == nil {
		// The error mentions cancellation but this token is still live.
		return err
	}
	c.once.Do(func() {
		cause := context.Cause(ctx)
		switch typed := cause.(type) {
		case *RequestTimeoutError:
			c.cause = typed
		case *AbortError:
			c.cause = typed
		default:
			c.cause = &AbortError{SDKError: SDKError{
				Message: "operation aborted",
				Cause:   cause,
			}}
		}
	})
	return c.cause
}

// StreamResult is a replayable handle over a streaming generate call. Events
// are buffered as they arrive, so every subscriber observes the full event
// sequence from the beginning regardless of when it starts reading.
type StreamResult struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []StreamEvent
	done   bool
	err    error
	final  *Response
	usage  Usage
}

func newStreamResult() *StreamResult {
	sr := &StreamResult{}
	sr.cond = sync.NewCond(&sr.mu)
	return sr
}

func (sr *StreamResult) append(evt StreamEvent) {
	sr.mu.Lock()
	sr.events = append(sr.events, evt)
	sr.mu.Unlock()
	sr.cond.Broadcast()
}

func (sr *StreamResult) finish(resp *Response, totalUsage Usage, err error) {
	sr.mu.Lock()
	sr.done = true
	sr.final = resp
	sr.usage = totalUsage
	sr.err = err
	sr.mu.Unlock()
	sr.cond.Broadcast()
}

// Events returns a channel replaying every event from the start of the
// stream. Each call creates an independent subscriber; the channel closes
// once the stream has ended and all buffered events have been delivered.
func (sr *StreamResult) Events() <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		next := 0
		for {
			sr.mu.Lock()
			for next >= len(sr.events) && !sr.done {
				sr.cond.Wait()
			}
			if next < len(sr.events) {
				evt := sr.events[next]
				next++
				sr.mu.Unlock()
				ch <- evt
				continue
			}
			sr.mu.Unlock()
			return
		}
	}()
	return ch
}

// TextStream returns a channel carrying only the text deltas of the stream.
func (sr *StreamResult) TextStream() <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for evt := range sr.Events() {
			if evt.Type == StreamTextDelta {
				ch <- evt.Delta
			}
		}
	}()
	return ch
}

// Response blocks until the stream completes and returns the final assembled
// response. It returns the stream error if the stream failed, or an error if
// the stream ended without producing a final response.
func (sr *StreamResult) Response() (*Response, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for !sr.done {
		sr.cond.Wait()
	}
	if sr.err != nil {
		return nil, sr.err
	}
	if sr.final == nil {
		return nil, &SDKError{Message: "stream ended without a final response"}
	}
	return sr.final, nil
}

// TotalUsage blocks until the stream completes and returns usage summed
// across every provider call the stream made.
func (sr *StreamResult) TotalUsage() Usage {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for !sr.done {
		sr.cond.Wait()
	}
	return sr.usage
}

// StreamAccumulator collects streaming events and builds a complete Response.
type StreamAccumulator struct {
	textParts      []string
	reasoningParts []string
	toolCalls      map[string]*ToolCall
	toolCallOrder  []string
	usage          *Usage
	finishReason   *FinishReason
	mu             sync.Mutex
}

// NewStreamAccumulator creates a new StreamAccumulator ready to process events.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		toolCalls: make(map[string]*ToolCall),
	}
}

// Process ingests a single StreamEvent, updating the accumulator's internal state.
func (a *StreamAccumulator) Process(event StreamEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Type {
	case StreamTextDelta:
		a.textParts = append(a.textParts, event.Delta)

	case StreamReasonDelta:
		a.reasoningParts = append(a.reasoningParts, event.ReasoningDelta)

	case StreamToolStart, StreamToolEnd:
		// The start event carries the id and name; the end event repeats them
		// with the fully assembled arguments. Later events win.
		if event.ToolCall != nil {
			tc := *event.ToolCall
			if _, seen := a.toolCalls[tc.ID]; !seen {
				a.toolCallOrder = append(a.toolCallOrder, tc.ID)
			}
			a.toolCalls[tc.ID] = &tc
		}

	case StreamToolDelta:
		// Argument fragments are ignored; the complete call arrives on ToolEnd.

	case StreamFinish:
		if event.Usage != nil {
			u := *event.Usage
			a.usage = &u
		}
		if event.FinishReason != nil {
			fr := *event.FinishReason
			a.finishReason = &fr
		}
	}
}

// Response constructs a complete Response from the accumulated stream events.
func (a *StreamAccumulator) Response() *Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	var parts []ContentPart

	reasoning := ""
	for _, r := range a.reasoningParts {
		reasoning += r
	}
	if reasoning != "" {
		parts = append(parts, ThinkingPart(reasoning, ""))
	}

	fullText := ""
	for _, t := range a.textParts {
		fullText += t
	}
	if fullText != "" {
		parts = append(parts, TextPart(fullText))
	}

	for _, id := range a.toolCallOrder {
		if tc, ok := a.toolCalls[id]; ok {
			parts = append(parts, ContentPart{
				Kind: ContentToolCall,
				ToolCall: &ToolCallData{
					ID:        tc.ID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
					Type:      "function",
				},
			})
		}
	}

	resp := &Response{
		Message: Message{
			Role:    RoleAssistant,
			Content: parts,
		},
	}

	if a.usage != nil {
		resp.Usage = *a.usage
	}
	if a.finishReason != nil {
		resp.FinishReason = *a.finishReason
	}

	return resp
}

// resolveClient returns the client to use for the generate call. There is no
// process-global fallback; every call supplies its own Client.
func resolveClient(opts GenerateOptions) (*Client, error) {
	if opts.Client == nil {
		return nil, &ConfigurationError{
			SDKError: SDKError{
				Message: "no client available: set Client in GenerateOptions",
			},
		}
	}
	return opts.Client, nil
}

// buildMessages constructs the message list from GenerateOptions.
func buildMessages(opts GenerateOptions) ([]Message, error) {
	hasPrompt := opts.Prompt != ""
	hasMessages := len(opts.Messages) > 0

	if hasPrompt && hasMessages {
		return nil, &ConfigurationError{
			SDKError: SDKError{
				Message: "cannot set both Prompt and Messages in GenerateOptions; use one or the other",
			},
		}
	}

	var messages []Message

	// Prepend system message if set
	if opts.System != "" {
		messages = append(messages, SystemMessage(opts.System))
	}

	if hasPrompt {
		messages = append(messages, UserMessage(opts.Prompt))
	} else if hasMessages {
		messages = append(messages, opts.Messages...)
	}

	return messages, nil
}

// buildRequest constructs a Request from GenerateOptions and the current message list.
func buildRequest(opts GenerateOptions, messages []Message) Request {
	req := Request{
		Model:           opts.Model,
		Messages:        messages,
		Provider:        opts.Provider,
		ToolChoice:      opts.ToolChoice,
		ResponseFormat:  opts.ResponseFormat,
		Temperature:     opts.Temperature,
		TopP:            opts.TopP,
		MaxTokens:       opts.MaxTokens,
		StopSequences:   opts.StopSequences,
		ReasoningEffort: opts.ReasoningEffort,
		ProviderOptions: opts.ProviderOptions,
	}

	// Convert Tool definitions to ToolDefinitions for the request
	if len(opts.Tools) > 0 {
		defs := make([]ToolDefinition, len(opts.Tools))
		for i, t := range opts.Tools {
			defs[i] = t.ToolDefinition
		}
		req.Tools = defs
	}

	return req
}

// buildToolMap creates a lookup map from tool name to Tool for quick access.
func buildToolMap(tools []Tool) map[string]*Tool {
	m := make(map[string]*Tool, len(tools))
	for i := range tools {
		m[tools[i].Name] = &tools[i]
	}
	return m
}

// toolResultContent renders an executor return value as tool-result text.
// Nil becomes empty content, strings pass through, and anything else is
// JSON-encoded.
func toolResultContent(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.RawMessage:
		return string(val)
	case []byte:
		return string(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// executeToolsConcurrently runs all tool calls in parallel, returning results
// in the same order as the input calls. Executor errors and panics become
// is_error results rather than failing the loop.
func executeToolsConcurrently(toolCalls []ToolCallData, toolMap map[string]*Tool) []ToolResult {
	results := make([]ToolResult, len(toolCalls))
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call ToolCallData) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = ToolResult{
						ToolCallID: call.ID,
						Content:    fmt.Sprintf("tool %s panicked: %v", call.Name, r),
						IsError:    true,
					}
				}
			}()

			tool, found := toolMap[call.Name]
			if !found {
				results[idx] = ToolResult{
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("Unknown tool %s", call.Name),
					IsError:    true,
				}
				return
			}

			if tool.Execute == nil {
				// Passive tool in a round with active ones; the caller sees
				// an empty result for it.
				results[idx] = ToolResult{
					ToolCallID: call.ID,
					Content:    "",
					IsError:    false,
				}
				return
			}

			value, err := tool.Execute(call.Arguments)
			if err != nil {
				results[idx] = ToolResult{
					ToolCallID: call.ID,
					Content:    err.Error(),
					IsError:    true,
				}
				return
			}

			results[idx] = ToolResult{
				ToolCallID: call.ID,
				Content:    toolResultContent(value),
				IsError:    false,
			}
		}(i, tc)
	}

	wg.Wait()
	return results
}

// hasActiveTools checks whether any of the tool calls reference tools with Execute handlers.
func hasActiveTools(toolCalls []ToolCallData, toolMap map[string]*Tool) bool {
	for _, tc := range toolCalls {
		if tool, found := toolMap[tc.Name]; found && tool.Execute != nil {
			return true
		}
		// Unknown tools are treated as active (they get error results)
		if _, found := toolMap[tc.Name]; !found {
			return true
		}
	}
	return false
}

// toolResultsMessage packs every result from one round into a single
// tool-role message, one content part per tool call, so providers see one
// result turn per assistant turn.
func toolResultsMessage(results []ToolResult) Message {
	parts := make([]ContentPart, len(results))
	for i, tr := range results {
		parts[i] = ToolResultPart(tr.ToolCallID, tr.Content, tr.IsError)
	}
	return Message{Role: RoleTool, Content: parts}
}

// stepResultFromResponse extracts a StepResult from a Response.
func stepResultFromResponse(resp *Response) StepResult {
	return StepResult{
		Text:         resp.TextContent(),
		Reasoning:    resp.Reasoning(),
		ToolCalls:    resp.ToolCalls(),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Response:     resp,
		Warnings:     resp.Warnings,
	}
}

// completeWithRetry performs one provider call under the loop's retry policy
// and an optional per-step timeout. Retries are immediate; only server
// Retry-After hints introduce a delay.
func completeWithRetry(cancel *cancellation, client *Client, req Request, maxRetries int, timeout *TimeoutConfig) (*Response, error) {
	callCtx := cancel.ctx
	stop := func() {}
	if timeout != nil && timeout.PerStep > 0 {
		var cancelStep context.CancelFunc
		callCtx, cancelStep = context.WithTimeoutCause(cancel.ctx, timeout.PerStep, &RequestTimeoutError{SDKError: SDKError{
			Message: fmt.Sprintf("provider call exceeded per-step timeout of %s", timeout.PerStep),
		}})
		stop = cancelStep
	}
	defer stop()

	policy := RetryPolicy{
		MaxRetries:        maxRetries,
		BackoffMultiplier: 2.0,
	}

	var resp *Response
	err := Retry(callCtx, policy, func() error {
		var completeErr error
		resp, completeErr = client.Complete(callCtx, req)
		return completeErr
	})
	if err != nil {
		return nil, cancel.classify(callCtx, err)
	}
	return resp, nil
}

// Generate performs a completion request with an optional tool-execution
// loop. Each round calls the provider, executes any requested active tools
// concurrently, appends the assistant message plus a single tool-result
// message, and continues until the model stops requesting tools, a stop
// condition fires, or the round limit is reached. With MaxToolRounds set to
// n the loop makes at most n+1 provider calls.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	client, err := resolveClient(opts)
	if err != nil {
		return nil, err
	}

	messages, err := buildMessages(opts)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	maxToolRounds := opts.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = 1
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	cancel, err := newCancellation(ctx, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cancel.stop()

	toolMap := buildToolMap(opts.Tools)
	var steps []StepResult
	var totalUsage Usage

	for round := 0; ; round++ {
		if ctxErr := cancel.ctx.Err(); ctxErr != nil {
			return nil, cancel.classify(cancel.ctx, ctxErr)
		}

		resp, err := completeWithRetry(cancel, client, buildRequest(opts, messages), maxRetries, opts.Timeout)
		if err != nil {
			return nil, err
		}

		step := stepResultFromResponse(resp)
		totalUsage = totalUsage.Add(resp.Usage)

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 || resp.FinishReason.Reason != FinishToolCalls {
			// Final text response
			steps = append(steps, step)
			break
		}

		if !hasActiveTools(toolCalls, toolMap) {
			// Every requested tool is passive; the caller handles them.
			steps = append(steps, step)
			break
		}

		step.ToolResults = executeToolsConcurrently(toolCalls, toolMap)
		steps = append(steps, step)

		if opts.StopWhen != nil && opts.StopWhen(steps) {
			break
		}
		if round >= maxToolRounds {
			break
		}

		messages = append(messages, resp.Message)
		messages = append(messages, toolResultsMessage(step.ToolResults))
	}

	// Build the final result from the last step
	lastStep := steps[len(steps)-1]
	result := &GenerateResult{
		Text:         lastStep.Text,
		Reasoning:    lastStep.Reasoning,
		ToolCalls:    lastStep.ToolCalls,
		ToolResults:  lastStep.ToolResults,
		FinishReason: lastStep.FinishReason,
		Usage:        lastStep.Usage,
		TotalUsage:   totalUsage,
		Steps:        steps,
		Response:     lastStep.Response,
	}

	return result, nil
}

// StreamGenerate performs a streaming completion request with the same
// tool-execution loop as Generate. Provider events from every round are
// appended to the returned StreamResult as they arrive; subscribers can
// attach at any time and replay the full sequence.
func StreamGenerate(ctx context.Context, opts GenerateOptions) (*StreamResult, error) {
	client, err := resolveClient(opts)
	if err != nil {
		return nil, err
	}

	messages, err := buildMessages(opts)
	if err != nil {
		return nil, err
	}

	maxToolRounds := opts.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = 1
	}

	cancel, err := newCancellation(ctx, opts.Timeout)
	if err != nil {
		return nil, err
	}

	toolMap := buildToolMap(opts.Tools)
	sr := newStreamResult()

	go func() {
		defer cancel.stop()

		var steps []StepResult
		var totalUsage Usage

		for round := 0; ; round++ {
			events, err := client.Stream(cancel.ctx, buildRequest(opts, messages))
			if err != nil {
				sr.finish(nil, totalUsage, cancel.classify(cancel.ctx, err))
				return
			}

			acc := NewStreamAccumulator()
			for evt := range events {
				if evt.Type == StreamErrorEvt {
					streamErr := evt.Error
					if streamErr == nil {
						streamErr = &SDKError{Message: "stream reported an error"}
					}
					sr.append(evt)
					sr.finish(nil, totalUsage, cancel.classify(cancel.ctx, streamErr))
					return
				}
				acc.Process(evt)
				sr.append(evt)
			}

			if ctxErr := cancel.ctx.Err(); ctxErr != nil {
				sr.finish(nil, totalUsage, cancel.classify(cancel.ctx, ctxErr))
				return
			}

			resp := acc.Response()
			step := stepResultFromResponse(resp)
			totalUsage = totalUsage.Add(resp.Usage)

			toolCalls := resp.ToolCalls()
			if len(toolCalls) == 0 || resp.FinishReason.Reason != FinishToolCalls {
				sr.finish(resp, totalUsage, nil)
				return
			}

			if !hasActiveTools(toolCalls, toolMap) {
				sr.finish(resp, totalUsage, nil)
				return
			}

			step.ToolResults = executeToolsConcurrently(toolCalls, toolMap)
			steps = append(steps, step)

			if opts.StopWhen != nil && opts.StopWhen(steps) {
				sr.finish(resp, totalUsage, nil)
				return
			}
			if round >= maxToolRounds {
				sr.finish(resp, totalUsage, nil)
				return
			}

			messages = append(messages, resp.Message)
			messages = append(messages, toolResultsMessage(step.ToolResults))
		}
	}()

	return sr, nil
}

// objectToolName is the synthetic tool presented to providers that have no
// native JSON-schema response format.
const objectToolName = "json"

// GenerateObject requests structured output conforming to schema and returns
// the result with Output set to the parsed object. Providers with a native
// JSON-schema response format receive the schema directly and the response
// text is parsed. The anthropic provider has no such format, so the schema is
// presented as a single mandatory tool and the object is read from the tool
// call arguments. Both paths return NoObjectGeneratedError when no valid
// object can be extracted.
func GenerateObject(ctx context.Context, opts GenerateOptions, schema json.RawMessage) (*GenerateResult, error) {
	client, err := resolveClient(opts)
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == "" {
		provider = client.DefaultProvider()
	}
	if provider == "anthropic" {
		return generateObjectViaTool(ctx, opts, schema)
	}
	return generateObjectViaSchema(ctx, opts, schema)
}

func generateObjectViaSchema(ctx context.Context, opts GenerateOptions, schema json.RawMessage) (*GenerateResult, error) {
	opts.ResponseFormat = &ResponseFormat{
		Type:       "json_schema",
		JSONSchema: schema,
		Strict:     true,
	}

	result, err := Generate(ctx, opts)
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		return nil, &NoObjectGeneratedError{
			SDKError: SDKError{
				Message: fmt.Sprintf("failed to parse response as JSON: %s", err.Error()),
				Cause:   err,
			},
		}
	}

	result.Output = parsed
	return result, nil
}

func generateObjectViaTool(ctx context.Context, opts GenerateOptions, schema json.RawMessage) (*GenerateResult, error) {
	opts.ResponseFormat = nil
	opts.Tools = []Tool{{
		ToolDefinition: ToolDefinition{
			Name:        objectToolName,
			Description: "Respond with a JSON object matching the required schema.",
			Parameters:  schema,
		},
	}}
	opts.ToolChoice = &ToolChoice{Mode: ToolChoiceNamed, ToolName: objectToolName}

	result, err := Generate(ctx, opts)
	if err != nil {
		return nil, err
	}

	for _, tc := range result.ToolCalls {
		if tc.Name != objectToolName {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal(tc.Arguments, &parsed); err != nil {
			return nil, &NoObjectGeneratedError{
				SDKError: SDKError{
					Message: fmt.Sprintf("tool call arguments are not a JSON object: %s", err.Error()),
					Cause:   err,
				},
			}
		}
		result.Output = parsed
		return result, nil
	}

	return nil, &NoObjectGeneratedError{
		SDKError: SDKError{
			Message: fmt.Sprintf("model did not call the %s tool", objectToolName),
		},
	}
}
