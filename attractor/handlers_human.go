// ABOUTME: Wait for human handler for the attractor pipeline runner.
// ABOUTME: Presents choices derived from outgoing edges to a human via the Interviewer interface.
package attractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WaitForHumanHandler handles human gate nodes (shape=hexagon).
// It presents choices derived from outgoing edges to a human via the
// Interviewer interface and returns their selection as a preferred label
// for the edge selector to route on.
//
// Optional node attributes:
//   - timeout: duration string; how long to wait for an answer
//   - default_choice: label selected automatically when the timeout fires
//   - reminder_interval: duration string, parsed and recorded for frontends
type WaitForHumanHandler struct {
	// Interviewer is the human interaction frontend. If nil, the handler
	// returns a failure indicating no interviewer is available.
	Interviewer Interviewer
}

// Type returns the handler type string "wait.human".
func (h *WaitForHumanHandler) Type() string {
	return "wait.human"
}

// Execute presents choices to a human and returns their selection.
// Choices are derived from outgoing edges of the node. A skipped or
// unmatched answer fails the node rather than guessing a branch.
func (h *WaitForHumanHandler) Execute(ctx context.Context, node *Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The engine publishes the graph under _graph so gate handlers can see
	// their outgoing edges without widening the handler signature.
	var edges []*Edge
	if graphVal := pctx.Get("_graph"); graphVal != nil {
		if g, ok := graphVal.(*Graph); ok {
			edges = g.OutgoingEdges(node.ID)
		}
	}

	if len(edges) == 0 {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "No outgoing edges for human gate: " + node.ID,
		}, nil
	}

	options := make([]string, 0, len(edges))
	for _, e := range edges {
		options = append(options, humanGateLabel(e))
	}

	if h.Interviewer == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "No interviewer available for human gate: " + node.ID,
		}, nil
	}

	var timeout time.Duration
	if raw := node.Attr("timeout", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return &Outcome{
				Status:        StatusFail,
				FailureReason: fmt.Sprintf("invalid timeout %q: %v", raw, err),
			}, nil
		}
		timeout = d
	} else if rawMs := node.Attr("timeout_ms", ""); rawMs != "" {
		d, err := time.ParseDuration(rawMs + "ms")
		if err != nil {
			return &Outcome{
				Status:        StatusFail,
				FailureReason: fmt.Sprintf("invalid timeout_ms %q: %v", rawMs, err),
			}, nil
		}
		timeout = d
	}

	// reminder_interval is validated here so a bad value fails loudly, but
	// re-prompting is up to the interviewer frontend.
	if raw := node.Attr("reminder_interval", ""); raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			return &Outcome{
				Status:        StatusFail,
				FailureReason: fmt.Sprintf("invalid reminder_interval %q: %v", raw, err),
			}, nil
		}
	}

	question := node.Attr("prompt", "")
	if question == "" {
		question = node.Attr("label", "")
	}
	if question == "" {
		question = "Select an option:"
	}
	question = ExpandContextVariables(question, pctx)

	askCtx := WithNodeID(ctx, node.ID)
	if timeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(askCtx, timeout)
		defer cancel()
	}

	started := time.Now()
	answer, err := h.Interviewer.Ask(askCtx, question, options)
	responseTimeMs := time.Since(started).Milliseconds()

	if err != nil {
		// Cancellation aborts the pipeline; a deadline on a gate with a
		// timeout attribute resolves through default_choice instead.
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if timeout > 0 && (errors.Is(err, context.DeadlineExceeded) || errors.Is(askCtx.Err(), context.DeadlineExceeded)) {
			return h.resolveTimeout(node, edges, options, timeout, responseTimeMs)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "Interviewer error: " + err.Error(),
		}, nil
	}

	if strings.EqualFold(strings.TrimSpace(answer), AnswerSkipped) {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "human skipped",
		}, nil
	}

	matched, ok := MatchOption(answer, options)
	if !ok {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "human skipped/invalid",
		}, nil
	}

	return humanGateSuccess(edges, options, matched, map[string]any{
		"human.timed_out":        false,
		"human.response_time_ms": responseTimeMs,
	}, ""), nil
}

// resolveTimeout applies the default_choice after the wait deadline passed.
// No default, or a default matching no edge, fails the gate.
func (h *WaitForHumanHandler) resolveTimeout(node *Node, edges []*Edge, options []string, timeout time.Duration, responseTimeMs int64) (*Outcome, error) {
	updates := map[string]any{
		"human.timed_out":        true,
		"human.response_time_ms": responseTimeMs,
	}

	def := node.Attr("default_choice", "")
	if def == "" {
		return &Outcome{
			Status:         StatusFail,
			FailureReason:  fmt.Sprintf("human gate timed out after %s with no default_choice", timeout),
			ContextUpdates: updates,
		}, nil
	}

	matched, ok := MatchOption(def, options)
	if !ok {
		return &Outcome{
			Status:         StatusFail,
			FailureReason:  fmt.Sprintf("human gate timed out and default_choice %q matches no outgoing edge", def),
			ContextUpdates: updates,
		}, nil
	}

	note := fmt.Sprintf("timed out after %s; selected default", timeout)
	return humanGateSuccess(edges, options, matched, updates, note), nil
}

// humanGateSuccess builds the SUCCESS outcome for a resolved selection:
// preferred label plus suggested target for the edge selector, and the
// selection recorded in context for downstream conditions.
func humanGateSuccess(edges []*Edge, options []string, matched string, updates map[string]any, note string) *Outcome {
	var selectedEdge *Edge
	for i, opt := range options {
		if opt == matched {
			selectedEdge = edges[i]
			break
		}
	}

	selectedLabel := humanGateLabel(selectedEdge)
	selectedKey := AcceleratorKey(selectedLabel)
	if selectedKey == "" {
		selectedKey = NormalizeLabel(selectedLabel)
	}

	updates["human.gate.selected"] = selectedKey
	updates["human.gate.label"] = selectedLabel

	notes := "Human selected: " + selectedLabel
	if note != "" {
		notes = "Human gate " + note + ": " + selectedLabel
	}

	return &Outcome{
		Status:           StatusSuccess,
		PreferredLabel:   selectedLabel,
		SuggestedNextIDs: []string{selectedEdge.To},
		Notes:            notes,
		ContextUpdates:   updates,
	}
}

// humanGateLabel returns the label a human sees for an edge, falling back
// to the target node ID when the edge carries no label.
func humanGateLabel(e *Edge) string {
	if label := e.Attr("label", ""); label != "" {
		return label
	}
	return e.To
}
