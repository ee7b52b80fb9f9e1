// ABOUTME: Checkpoint serialization for persisting execution state to disk.
// ABOUTME: Supports atomic JSON save/load for resuming pipeline runs from a known point.
package attractor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CheckpointVersion is the format version written into new checkpoints.
// Load rejects checkpoints with a different version.
const CheckpointVersion = 1

// Checkpoint is a serializable snapshot of execution state.
type Checkpoint struct {
	Version          int                 `json:"version"`
	GraphFingerprint string              `json:"graph_fingerprint"`
	Timestamp        time.Time           `json:"timestamp"`
	CurrentNode      string              `json:"current_node"`
	CompletedNodes   []string            `json:"completed_nodes"`
	NodeRetries      map[string]int      `json:"node_retries"`
	NodeOutcomes     map[string]*Outcome `json:"node_outcomes,omitempty"`
	ContextValues    map[string]any      `json:"context_values"`
	Logs             []string            `json:"logs"`
}

// GraphFingerprint computes a stable identity for a graph so a checkpoint
// can detect that it is being resumed against a different pipeline. It
// hashes the graph name, the goal attribute, and the node count; cosmetic
// edits (labels, prompts, styling) deliberately do not invalidate a resume.
func GraphFingerprint(g *Graph) string {
	goal := ""
	if g.Attrs != nil {
		goal = g.Attrs["goal"]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\n%s\n%d", g.Name, goal, len(g.Nodes))))
	return hex.EncodeToString(sum[:])
}

// NewCheckpoint creates a checkpoint from the current execution state.
func NewCheckpoint(g *Graph, ctx *Context, currentNode string, completedNodes []string, nodeRetries map[string]int, nodeOutcomes map[string]*Outcome) *Checkpoint {
	completed := make([]string, len(completedNodes))
	copy(completed, completedNodes)
	retries := make(map[string]int, len(nodeRetries))
	for k, v := range nodeRetries {
		retries[k] = v
	}
	outcomes := make(map[string]*Outcome, len(nodeOutcomes))
	for k, v := range nodeOutcomes {
		outcomes[k] = v
	}
	return &Checkpoint{
		Version:          CheckpointVersion,
		GraphFingerprint: GraphFingerprint(g),
		Timestamp:        time.Now(),
		CurrentNode:      currentNode,
		CompletedNodes:   completed,
		NodeRetries:      retries,
		NodeOutcomes:     outcomes,
		ContextValues:    ctx.Snapshot(),
		Logs:             ctx.Logs(),
	}
}

// Save writes the checkpoint as JSON to the given path. The write goes
// through a temp file and rename so a crash mid-write never leaves a
// truncated checkpoint behind.
func (cp *Checkpoint) Save(path string) error {
	return writeJSONAtomic(path, cp)
}

// LoadCheckpoint deserializes a checkpoint from JSON at the given path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (want %d)", cp.Version, CheckpointVersion)
	}
	return &cp, nil
}

// Matches reports whether the checkpoint was taken from the given graph.
func (cp *Checkpoint) Matches(g *Graph) bool {
	return cp.GraphFingerprint == GraphFingerprint(g)
}

// RestoreContext rebuilds a Context from the checkpointed values and logs.
func (cp *Checkpoint) RestoreContext() *Context {
	ctx := NewContextFrom(cp.ContextValues)
	for _, line := range cp.Logs {
		ctx.AppendLog(line)
	}
	return ctx
}

// LastCompleted returns the most recently completed node ID, or "" when
// the checkpoint predates any completion.
func (cp *Checkpoint) LastCompleted() string {
	if len(cp.CompletedNodes) == 0 {
		return ""
	}
	return cp.CompletedNodes[len(cp.CompletedNodes)-1]
}
