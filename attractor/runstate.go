// ABOUTME: Defines RunState types and the RunStateStore interface for tracking pipeline run lifecycle.
// ABOUTME: Provides ULID-based run ID generation and the core data model for persistent run tracking.
package attractor

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunState represents the full state of a single pipeline run.
type RunState struct {
	ID             string         `json:"id"`
	PipelineFile   string         `json:"pipeline_file"`
	Status         string         `json:"status"` // "running", "completed", "failed", "cancelled"
	Source         string         `json:"source,omitempty"`
	SourceHash     string         `json:"source_hash,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CurrentNode    string         `json:"current_node"`
	CompletedNodes []string       `json:"completed_nodes"`
	Context        map[string]any `json:"context"`
	Events         []EngineEvent  `json:"events"`
	Error          string         `json:"error,omitempty"`
}

// RunStateStore is the interface for persisting and retrieving pipeline run state.
type RunStateStore interface {
	Create(state *RunState) error
	Get(id string) (*RunState, error)
	Update(state *RunState) error
	List() ([]*RunState, error)
	AddEvent(id string, event EngineEvent) error
}

// GenerateRunID produces a ULID string. ULIDs sort lexicographically by
// creation time, so run directories list in chronological order.
func GenerateRunID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate run ID: %w", err)
	}
	return id.String(), nil
}
