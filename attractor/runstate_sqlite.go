// ABOUTME: SQLite-backed implementation of RunStateStore for pipeline run persistence.
// ABOUTME: Stores run metadata, context, and the append-only event log in a single database file.
package attractor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteRunStateStore implements RunStateStore.
var _ RunStateStore = (*SQLiteRunStateStore)(nil)

// SQLiteRunStateStore is a SQLite-backed RunStateStore. All runs share one
// database file, which makes cross-run queries and retention pruning cheap
// compared to scanning per-run directories.
type SQLiteRunStateStore struct {
	db *sql.DB
}

// NewSQLiteRunStateStore opens or creates a run-state database at the given
// path and ensures the schema exists. Timestamps are stored as UTC text so
// that SQL string comparisons order runs chronologically.
func NewSQLiteRunStateStore(path string) (*SQLiteRunStateStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline_file TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_hash TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			completed_at TEXT,
			current_node TEXT NOT NULL DEFAULT '',
			completed_nodes TEXT NOT NULL DEFAULT '[]',
			context TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			node_id TEXT NOT NULL DEFAULT '',
			data TEXT,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRunStateStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteRunStateStore) Close() error {
	return s.db.Close()
}

// Create persists a new RunState. Returns an error if a run with the same ID
// already exists.
func (s *SQLiteRunStateStore) Create(state *RunState) error {
	nodesJSON, ctxJSON, err := encodeRunFields(state)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (id, pipeline_file, status, source, source_hash, started_at,
			completed_at, current_node, completed_nodes, context, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		state.ID,
		state.PipelineFile,
		state.Status,
		state.Source,
		state.SourceHash,
		state.StartedAt.UTC().Format(timeFormat),
		completedAtText(state.CompletedAt),
		state.CurrentNode,
		nodesJSON,
		ctxJSON,
		state.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q already exists", state.ID)
	}

	for _, evt := range state.Events {
		if err := s.insertEvent(state.ID, evt); err != nil {
			return err
		}
	}

	return nil
}

// Get loads a RunState by ID, including its full event log.
// Returns an error if the run does not exist.
func (s *SQLiteRunStateStore) Get(id string) (*RunState, error) {
	row := s.db.QueryRow(
		`SELECT id, pipeline_file, status, source, source_hash, started_at,
			completed_at, current_node, completed_nodes, context, error
		 FROM runs WHERE id = ?`, id)

	var (
		state       RunState
		startedAt   string
		completedAt sql.NullString
		nodesJSON   string
		ctxJSON     string
	)
	err := row.Scan(&state.ID, &state.PipelineFile, &state.Status, &state.Source,
		&state.SourceHash, &startedAt, &completedAt, &state.CurrentNode,
		&nodesJSON, &ctxJSON, &state.Error)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %q: %w", id, err)
	}

	state.StartedAt, err = time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for %q: %w", id, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(timeFormat, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at for %q: %w", id, err)
		}
		state.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(nodesJSON), &state.CompletedNodes); err != nil {
		return nil, fmt.Errorf("parse completed_nodes for %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &state.Context); err != nil {
		return nil, fmt.Errorf("parse context for %q: %w", id, err)
	}

	state.Events, err = s.loadEvents(id)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Update overwrites the metadata and context of an existing run. The event
// log is append-only and untouched here; use AddEvent for events.
func (s *SQLiteRunStateStore) Update(state *RunState) error {
	nodesJSON, ctxJSON, err := encodeRunFields(state)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE runs SET pipeline_file = ?, status = ?, source = ?, source_hash = ?,
			started_at = ?, completed_at = ?, current_node = ?, completed_nodes = ?,
			context = ?, error = ?
		 WHERE id = ?`,
		state.PipelineFile,
		state.Status,
		state.Source,
		state.SourceHash,
		state.StartedAt.UTC().Format(timeFormat),
		completedAtText(state.CompletedAt),
		state.CurrentNode,
		nodesJSON,
		ctxJSON,
		state.Error,
		state.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q not found", state.ID)
	}

	return nil
}

// List returns all stored runs ordered by start time ascending.
func (s *SQLiteRunStateStore) List() ([]*RunState, error) {
	rows, err := s.db.Query("SELECT id FROM runs ORDER BY started_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	_ = rows.Close()

	results := make([]*RunState, 0, len(ids))
	for _, id := range ids {
		state, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		results = append(results, state)
	}

	return results, nil
}

// AddEvent appends an EngineEvent to the run's event log.
// Returns an error if the run does not exist.
func (s *SQLiteRunStateStore) AddEvent(id string, event EngineEvent) error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM runs WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("check run %q: %w", id, err)
	}

	return s.insertEvent(id, event)
}

// Prune deletes all runs whose start time is older than the given duration
// ago. Event rows cascade with their run. Returns the number of runs pruned.
func (s *SQLiteRunStateStore) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(timeFormat)

	res, err := s.db.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(n), nil
}

// insertEvent writes one event row for the given run.
func (s *SQLiteRunStateStore) insertEvent(runID string, event EngineEvent) error {
	var data any
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = string(encoded)
	}

	_, err := s.db.Exec(
		"INSERT INTO events (run_id, type, node_id, data, timestamp) VALUES (?, ?, ?, ?, ?)",
		runID, string(event.Type), event.NodeID, data,
		event.Timestamp.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// loadEvents returns a run's events in insertion order.
func (s *SQLiteRunStateStore) loadEvents(runID string) ([]EngineEvent, error) {
	rows, err := s.db.Query(
		"SELECT type, node_id, data, timestamp FROM events WHERE run_id = ? ORDER BY seq ASC",
		runID)
	if err != nil {
		return nil, fmt.Errorf("query events for %q: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	events := []EngineEvent{}
	for rows.Next() {
		var (
			evt       EngineEvent
			evtType   string
			data      sql.NullString
			timestamp string
		)
		if err := rows.Scan(&evtType, &evt.NodeID, &data, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		evt.Type = EngineEventType(evtType)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &evt.Data); err != nil {
				return nil, fmt.Errorf("parse event data: %w", err)
			}
		}
		evt.Timestamp, err = time.Parse(timeFormat, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		events = append(events, evt)
	}

	return events, rows.Err()
}

// encodeRunFields marshals the JSON-encoded columns of a run row.
// Nil slices and maps encode as their empty forms.
func encodeRunFields(state *RunState) (nodesJSON, ctxJSON string, err error) {
	nodes := state.CompletedNodes
	if nodes == nil {
		nodes = []string{}
	}
	nodesBytes, err := json.Marshal(nodes)
	if err != nil {
		return "", "", fmt.Errorf("marshal completed_nodes: %w", err)
	}

	ctx := state.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctxBytes, err := json.Marshal(ctx)
	if err != nil {
		return "", "", fmt.Errorf("marshal context: %w", err)
	}

	return string(nodesBytes), string(ctxBytes), nil
}

// completedAtText renders an optional completion time as a nullable column value.
func completedAtText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
