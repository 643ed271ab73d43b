package report

import (
	"fmt"
	"time"

	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
)

// Origin tags which side of the copy a row count was taken from.
type Origin int

const (
	OriginSource Origin = iota
	OriginDestination
)

// RowCount is one table's row count snapshot on one side.
type RowCount struct {
	Table  string
	Rows   int64
	Origin Origin
}

// TableCount pairs a table's source and destination counts for the report.
type TableCount struct {
	Table           string `json:"table"`
	SourceRows      int64  `json:"source_rows"`
	DestinationRows int64  `json:"destination_rows"`
}

// Merge pairs source and destination snapshots by table name, preserving the
// order of the source snapshot.
func Merge(source, destination []RowCount) []TableCount {
	destRows := make(map[string]int64, len(destination))
	for _, rc := range destination {
		destRows[rc.Table] = rc.Rows
	}

	counts := make([]TableCount, 0, len(source))
	for _, rc := range source {
		counts = append(counts, TableCount{
			Table:           rc.Table,
			SourceRows:      rc.Rows,
			DestinationRows: destRows[rc.Table],
		})
	}
	return counts
}

// Report is the descriptive outcome of one run: failed tables and per-table
// row counts, side by side. No verdict is computed; interpreting mismatches
// is the caller's job.
type Report struct {
	RunID         string
	SourceDB      string
	DestinationDB string
	StartedAt     time.Time
	Duration      time.Duration
	FailedTables  []string
	Counts        []TableCount
}

// Render prints the report in the run log.
func (r *Report) Render() {
	if len(r.FailedTables) == 0 {
		logging.Info("All tables transferred, 0 failures")
	} else {
		logging.Warn("%d tables failed to transfer:", len(r.FailedTables))
		for _, name := range r.FailedTables {
			logging.Warn("  %s", name)
		}
	}

	logging.Println()
	logging.Println("Row Counts (source -> destination):")
	logging.Println("-----------------------------------")
	for _, c := range r.Counts {
		marker := ""
		if c.SourceRows != c.DestinationRows {
			marker = "  <-- mismatch"
		}
		logging.Print("%-40s %12d %12d%s\n", c.Table, c.SourceRows, c.DestinationRows, marker)
	}
	logging.Println("-----------------------------------")
	logging.Print("Run %s finished in %s\n", r.RunID, r.Duration.Round(time.Second))
}

// Result is the machine-readable run outcome for --output-json.
type Result struct {
	RunID           string       `json:"run_id"`
	Status          string       `json:"status"`
	SourceDB        string       `json:"source_database"`
	DestinationDB   string       `json:"destination_database"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	TablesTotal     int          `json:"tables_total"`
	TablesFailed    int          `json:"tables_failed"`
	FailedTables    []string     `json:"failed_tables,omitempty"`
	Tables          []TableCount `json:"tables,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// ResultOf converts a report into the JSON result shape.
func ResultOf(r *Report) *Result {
	status := "success"
	if len(r.FailedTables) > 0 {
		status = fmt.Sprintf("completed_with_%d_failures", len(r.FailedTables))
	}
	return &Result{
		RunID:           r.RunID,
		Status:          status,
		SourceDB:        r.SourceDB,
		DestinationDB:   r.DestinationDB,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.StartedAt.Add(r.Duration),
		DurationSeconds: r.Duration.Seconds(),
		TablesTotal:     len(r.Counts),
		TablesFailed:    len(r.FailedTables),
		FailedTables:    r.FailedTables,
		Tables:          r.Counts,
	}
}
