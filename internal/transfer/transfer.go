package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anturkov/SQL-DB-CopyData/internal/catalog"
	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
	"github.com/anturkov/SQL-DB-CopyData/internal/progress"
)

// Database is the statement-execution surface the engine needs.
type Database interface {
	Exec(ctx context.Context, stmt string) error
}

// Options controls a transfer phase.
type Options struct {
	// SourceDB is the database the copy selects from.
	SourceDB string
	// Workers is the number of tables transferred concurrently. 1 preserves
	// strictly sequential behavior.
	Workers int
}

// Result is the outcome of one table's copy. A nil Err means every source row
// reached the destination.
type Result struct {
	Table    catalog.TableName
	Duration time.Duration
	Err      error
}

// Run copies every table, one INSERT..SELECT per table. Failures are isolated:
// a failed table is recorded and the remaining tables still transfer. Results
// come back in table order regardless of worker count.
func Run(ctx context.Context, db Database, tables []catalog.TableDescriptor, opts Options, tracker *progress.Tracker) []Result {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(tables))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range tables {
		select {
		case <-ctx.Done():
			// Remaining tables are marked failed with the context error so
			// the report still covers the full discovered set.
			for j := i; j < len(tables); j++ {
				results[j] = Result{Table: tables[j].TableName, Err: ctx.Err()}
			}
			wg.Wait()
			return results
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			d := &tables[i]
			if tracker != nil {
				tracker.StartTable(d.String())
			}

			start := time.Now()
			err := copyTable(ctx, db, opts.SourceDB, d)
			results[i] = Result{Table: d.TableName, Duration: time.Since(start), Err: err}

			if err != nil {
				logging.Warn("Transfer failed for %s: %v", d.String(), err)
			} else {
				logging.Debug("Copied %s in %s", d.String(), results[i].Duration.Round(time.Millisecond))
			}
			if tracker != nil {
				tracker.TableDone()
			}
		}(i)
	}

	wg.Wait()
	return results
}

// copyTable performs one table's transfer: identity override on, cross-database
// INSERT..SELECT, identity override off. The override is always switched back
// off once it has been switched on, even when the insert fails.
func copyTable(ctx context.Context, db Database, sourceDB string, d *catalog.TableDescriptor) error {
	stmt, err := mssql.InsertSelect(sourceDB, d.Schema, d.Name, d.InsertColumns, d.SelectColumns)
	if err != nil {
		return err
	}

	if d.HasIdentity {
		if err := db.Exec(ctx, mssql.SetIdentityInsert(d.Schema, d.Name, true)); err != nil {
			return fmt.Errorf("enabling identity insert: %w", err)
		}
	}

	copyErr := db.Exec(ctx, stmt)
	if copyErr != nil {
		copyErr = fmt.Errorf("copying rows: %w", copyErr)
	}

	if d.HasIdentity {
		if err := db.Exec(ctx, mssql.SetIdentityInsert(d.Schema, d.Name, false)); err != nil && copyErr == nil {
			copyErr = fmt.Errorf("disabling identity insert: %w", err)
		}
	}

	return copyErr
}

// FailedTables returns the qualified names of tables whose copy errored,
// in table order. An empty slice signals full success.
func FailedTables(results []Result) []string {
	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Table.String())
		}
	}
	return failed
}
