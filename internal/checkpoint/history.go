package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anturkov/SQL-DB-CopyData/internal/report"
)

// History persists run outcomes in SQLite so past copies can be inspected
// without digging through logs.
type History struct {
	db *sql.DB
}

// Run is one recorded copy run.
type Run struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        string
	SourceDB      string
	DestinationDB string
	TablesTotal   int
	TablesFailed  int
	Error         string
}

// TableResult is the per-table outcome recorded with a run.
type TableResult struct {
	Table           string
	SourceRows      int64
	DestinationRows int64
	Failed          bool
}

const sqliteTimeFormat = "2006-01-02 15:04:05"

// New opens (creating if needed) the history database under dataDir.
func New(dataDir string) (*History, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return h, nil
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		source_db TEXT NOT NULL,
		destination_db TEXT NOT NULL,
		tables_total INTEGER DEFAULT 0,
		tables_failed INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS table_results (
		run_id TEXT REFERENCES runs(id),
		table_name TEXT NOT NULL,
		source_rows INTEGER,
		destination_rows INTEGER,
		failed INTEGER DEFAULT 0,
		PRIMARY KEY (run_id, table_name)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// RecordStart inserts a run in the running state.
func (h *History) RecordStart(runID, sourceDB, destinationDB string) error {
	_, err := h.db.Exec(`
		INSERT INTO runs (id, started_at, status, source_db, destination_db)
		VALUES (?, datetime('now'), 'running', ?, ?)
	`, runID, sourceDB, destinationDB)
	return err
}

// RecordReport finalizes a run from its report, storing per-table results.
func (h *History) RecordReport(rep *report.Report, status string) error {
	_, err := h.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'),
			tables_total = ?, tables_failed = ?
		WHERE id = ?
	`, status, len(rep.Counts), len(rep.FailedTables), rep.RunID)
	if err != nil {
		return err
	}

	failed := make(map[string]bool, len(rep.FailedTables))
	for _, name := range rep.FailedTables {
		failed[name] = true
	}

	for _, c := range rep.Counts {
		_, err := h.db.Exec(`
			INSERT INTO table_results (run_id, table_name, source_rows, destination_rows, failed)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, table_name) DO UPDATE SET
				source_rows = excluded.source_rows,
				destination_rows = excluded.destination_rows,
				failed = excluded.failed
		`, rep.RunID, c.Table, c.SourceRows, c.DestinationRows, failed[c.Table])
		if err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure finalizes a run that aborted before producing a report.
func (h *History) RecordFailure(runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := h.db.Exec(`
		UPDATE runs SET status = 'failed', completed_at = datetime('now'), error_message = ?
		WHERE id = ?
	`, msg, runID)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (h *History) RecentRuns(limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := h.db.Query(`
		SELECT id, started_at, completed_at, status, source_db, destination_db,
			tables_total, tables_failed, COALESCE(error_message, '')
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAtStr string
		var completedAtStr sql.NullString
		if err := rows.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status,
			&r.SourceDB, &r.DestinationDB, &r.TablesTotal, &r.TablesFailed, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(sqliteTimeFormat, startedAtStr)
		if completedAtStr.Valid {
			t, _ := time.Parse(sqliteTimeFormat, completedAtStr.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TableResults returns the per-table outcomes of one run.
func (h *History) TableResults(runID string) ([]TableResult, error) {
	rows, err := h.db.Query(`
		SELECT table_name, source_rows, destination_rows, failed
		FROM table_results WHERE run_id = ? ORDER BY table_name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TableResult
	for rows.Next() {
		var t TableResult
		if err := rows.Scan(&t.Table, &t.SourceRows, &t.DestinationRows, &t.Failed); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
