// ABOUTME: RunDirectory manages the per-run directory layout for pipeline executions.
// ABOUTME: Node log directories sit directly under the run root next to manifest.json and checkpoint.json.
package attractor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunDirectory represents the directory layout for a single pipeline run.
// Layout: <BaseDir>/manifest.json, <BaseDir>/checkpoint.json, and one
// <BaseDir>/<nodeId>/ directory per executed node holding prompt.md,
// response.md, and outcome.json.
type RunDirectory struct {
	BaseDir string
	RunID   string
}

// RunManifest is the graph metadata written to manifest.json when a run starts.
type RunManifest struct {
	RunID       string `json:"run_id"`
	Pipeline    string `json:"pipeline"`
	Goal        string `json:"goal,omitempty"`
	NodeCount   int    `json:"node_count"`
	Fingerprint string `json:"fingerprint"`
	StartedAt   string `json:"started_at"`
}

// NewRunDirectory creates a new run directory at baseDir/runID.
func NewRunDirectory(baseDir, runID string) (*RunDirectory, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir must not be empty")
	}
	if runID == "" {
		return nil, fmt.Errorf("runID must not be empty")
	}

	rd := &RunDirectory{
		BaseDir: filepath.Join(baseDir, runID),
		RunID:   runID,
	}

	if err := os.MkdirAll(rd.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return rd, nil
}

// NodeDir returns the path for a node's log directory.
func (rd *RunDirectory) NodeDir(nodeID string) string {
	return filepath.Join(rd.BaseDir, sanitizeNodeID(nodeID))
}

// EnsureNodeDir creates the directory for a node if it doesn't exist.
func (rd *RunDirectory) EnsureNodeDir(nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("nodeID must not be empty")
	}
	return os.MkdirAll(rd.NodeDir(nodeID), 0o755)
}

// WriteNodeArtifact writes data to a file within a node's directory.
func (rd *RunDirectory) WriteNodeArtifact(nodeID, filename string, data []byte) error {
	if nodeID == "" {
		return fmt.Errorf("nodeID must not be empty")
	}
	if filename == "" {
		return fmt.Errorf("filename must not be empty")
	}
	if err := rd.EnsureNodeDir(nodeID); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(rd.NodeDir(nodeID), filename), data, 0o644)
}

// ReadNodeArtifact reads data from a file within a node's directory.
func (rd *RunDirectory) ReadNodeArtifact(nodeID, filename string) ([]byte, error) {
	return os.ReadFile(filepath.Join(rd.NodeDir(nodeID), filename))
}

// ListNodeArtifacts returns the filenames of all artifacts for a node.
func (rd *RunDirectory) ListNodeArtifacts(nodeID string) ([]string, error) {
	dir := rd.NodeDir(nodeID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CheckpointPath returns the path of the run's checkpoint file.
func (rd *RunDirectory) CheckpointPath() string {
	return filepath.Join(rd.BaseDir, "checkpoint.json")
}

// SaveCheckpoint atomically writes the checkpoint to checkpoint.json in the
// run directory.
func (rd *RunDirectory) SaveCheckpoint(cp *Checkpoint) error {
	return cp.Save(rd.CheckpointPath())
}

// LoadCheckpoint loads the checkpoint from checkpoint.json in the run directory.
func (rd *RunDirectory) LoadCheckpoint() (*Checkpoint, error) {
	return LoadCheckpoint(rd.CheckpointPath())
}

// WriteManifest atomically writes the run manifest to manifest.json.
func (rd *RunDirectory) WriteManifest(graph *Graph) error {
	m := RunManifest{
		RunID:       rd.RunID,
		Pipeline:    graph.Name,
		Goal:        graph.Attrs["goal"],
		NodeCount:   len(graph.Nodes),
		Fingerprint: GraphFingerprint(graph),
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	return writeJSONAtomic(filepath.Join(rd.BaseDir, "manifest.json"), m)
}

// WriteOutcome atomically writes a node's outcome to outcome.json in the
// node's directory.
func (rd *RunDirectory) WriteOutcome(nodeID string, outcome *Outcome) error {
	if nodeID == "" {
		return fmt.Errorf("nodeID must not be empty")
	}
	if err := rd.EnsureNodeDir(nodeID); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(rd.NodeDir(nodeID), "outcome.json"), outcome)
}

// WritePrompt writes a prompt to prompt.md in a node's directory.
func (rd *RunDirectory) WritePrompt(nodeID, prompt string) error {
	if nodeID == "" {
		return fmt.Errorf("nodeID must not be empty")
	}
	return rd.WriteNodeArtifact(nodeID, "prompt.md", []byte(prompt))
}

// WriteResponse writes a response to response.md in a node's directory.
func (rd *RunDirectory) WriteResponse(nodeID, response string) error {
	if nodeID == "" {
		return fmt.Errorf("nodeID must not be empty")
	}
	return rd.WriteNodeArtifact(nodeID, "response.md", []byte(response))
}
