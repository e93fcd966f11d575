package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/driftwatch/core"

	_ "modernc.org/sqlite"
)

// Compile-time check.
var _ core.Sink = (*SQLite)(nil)

// schemaSQL keeps identity columns queryable and the full artifact as a
// JSON payload, so rows round-trip without a column per metric.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	scenario   TEXT NOT NULL,
	model      TEXT NOT NULL,
	branch     TEXT NOT NULL,
	turn       INTEGER NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);

CREATE TABLE IF NOT EXISTS probes (
	run_id         TEXT NOT NULL,
	scenario       TEXT NOT NULL,
	model          TEXT NOT NULL,
	branch         TEXT NOT NULL,
	turn           INTEGER NOT NULL,
	question_index INTEGER NOT NULL,
	probe_index    INTEGER NOT NULL,
	ok             INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, scenario, model, branch, turn, question_index, probe_index)
);

CREATE TABLE IF NOT EXISTS transcripts (
	run_id     TEXT NOT NULL,
	scenario   TEXT NOT NULL,
	model      TEXT NOT NULL,
	branch     TEXT NOT NULL,
	status     TEXT NOT NULL,
	turns      INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, scenario, model, branch)
);
`

// SQLite persists run artifacts into a single database file, usable from
// any SQL tooling afterwards. The modernc.org driver is pure Go, so no
// cgo toolchain is needed.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and prepares the
// schema. Writes are upserts keyed on record id and probe coordinates, so
// re-running against the same file is safe.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time, multiple readers with WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Wait instead of immediately returning SQLITE_BUSY; branch executors
	// write concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// WriteRecord upserts the record by id.
func (s *SQLite) WriteRecord(rec *core.MetricRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO records (id, run_id, scenario, model, branch, turn, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload`,
		rec.ID, rec.RunID, rec.Scenario, rec.Model, rec.Branch,
		rec.Turn, string(rec.Status), string(payload), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

// WriteProbe upserts the probe result by its run coordinates.
func (s *SQLite) WriteProbe(pc core.ProbeContext, probe core.AnchorProbeResult) error {
	payload, err := json.Marshal(probe)
	if err != nil {
		return fmt.Errorf("marshal probe: %w", err)
	}

	ok := 0
	if probe.OK() {
		ok = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO probes (run_id, scenario, model, branch, turn, question_index, probe_index, ok, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scenario, model, branch, turn, question_index, probe_index) DO UPDATE SET
			ok = excluded.ok,
			payload = excluded.payload`,
		pc.RunID, pc.Scenario, pc.Model, pc.Branch,
		probe.Turn, probe.QuestionIndex, probe.ProbeIndex, ok, string(payload), probe.Timestamp)
	if err != nil {
		return fmt.Errorf("insert probe: %w", err)
	}

	return nil
}

// WriteTranscript upserts the branch transcript.
func (s *SQLite) WriteTranscript(t *core.Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO transcripts (run_id, scenario, model, branch, status, turns, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scenario, model, branch) DO UPDATE SET
			status = excluded.status,
			turns = excluded.turns,
			payload = excluded.payload`,
		t.RunID, t.Scenario, t.Model, t.Branch,
		string(t.Status), t.Turns, string(payload), t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Records returns all records of a run ordered by scenario, model, branch
// and turn.
func (s *SQLite) Records(runID string) ([]core.MetricRecord, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM records
		WHERE run_id = ?
		ORDER BY scenario, model, branch, turn`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []core.MetricRecord

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var rec core.MetricRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Probes returns all probe entries of a run ordered by scenario, model,
// branch, turn and probe coordinates.
func (s *SQLite) Probes(runID string) ([]ProbeEntry, error) {
	rows, err := s.db.Query(`
		SELECT scenario, model, branch, payload FROM probes
		WHERE run_id = ?
		ORDER BY scenario, model, branch, turn, question_index, probe_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}
	defer rows.Close()

	var entries []ProbeEntry

	for rows.Next() {
		var (
			scenario, model, branch string
			payload                 string
		)
		if err := rows.Scan(&scenario, &model, &branch, &payload); err != nil {
			return nil, fmt.Errorf("scan probe: %w", err)
		}

		var probe core.AnchorProbeResult
		if err := json.Unmarshal([]byte(payload), &probe); err != nil {
			return nil, fmt.Errorf("unmarshal probe: %w", err)
		}

		entries = append(entries, ProbeEntry{
			Context: core.ProbeContext{RunID: runID, Scenario: scenario, Model: model, Branch: branch},
			Probe:   probe,
		})
	}

	return entries, rows.Err()
}

// Transcripts returns all transcripts of a run ordered by scenario, model
// and branch.
func (s *SQLite) Transcripts(runID string) ([]core.Transcript, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM transcripts
		WHERE run_id = ?
		ORDER BY scenario, model, branch`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []core.Transcript

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}

		var t core.Transcript
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}

		transcripts = append(transcripts, t)
	}

	return transcripts, rows.Err()
}

// Runs lists the distinct run ids present in the database, newest first.
func (s *SQLite) Runs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT run_id, MAX(created_at) AS latest FROM records
		GROUP BY run_id
		ORDER BY latest DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string

	for rows.Next() {
		var runID, latest string
		if err := rows.Scan(&runID, &latest); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		runs = append(runs, runID)
	}

	return runs, rows.Err()
}
