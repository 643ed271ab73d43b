package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anturkov/SQL-DB-CopyData/internal/catalog"
	"github.com/anturkov/SQL-DB-CopyData/internal/config"
	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
	"github.com/anturkov/SQL-DB-CopyData/internal/progress"
	"github.com/anturkov/SQL-DB-CopyData/internal/report"
	"github.com/anturkov/SQL-DB-CopyData/internal/transfer"
)

// ErrDestinationNotEmpty aborts a run whose destination already holds rows.
// The pipeline only ever appends; re-running against a populated destination
// would duplicate data.
var ErrDestinationNotEmpty = errors.New("destination database is not empty")

// Database is the server surface the pipeline drives. *mssql.Pool satisfies it.
type Database interface {
	Exec(ctx context.Context, stmt string) error
	RowCount(ctx context.Context, database, schema, table string) (int64, error)
	ObjectNames(ctx context.Context, database string) (map[string]bool, error)
}

// Snapshotter supplies the source metadata snapshot. *catalog.Reader
// satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// ObjectFailure records one constraint or trigger the pipeline could not
// switch.
type ObjectFailure struct {
	Name  string
	Table catalog.TableName
	Kind  catalog.ConstraintKind
	Err   error
}

// PhaseError aggregates the failures of one suspension or restoration phase.
type PhaseError struct {
	Phase    string
	Failures []ObjectFailure
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %d objects failed", e.Phase, len(e.Failures))
}

// Pipeline runs one source-to-destination copy end to end.
type Pipeline struct {
	cfg     *config.Config
	db      Database
	catalog Snapshotter

	runID   string
	started time.Time
}

// New builds a pipeline for one run. The database handle must be connected
// in the destination database context: constraint and trigger DDL only works
// against the current database.
func New(cfg *config.Config, db Database, snap Snapshotter) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		db:      db,
		catalog: snap,
		runID:   uuid.NewString(),
	}
}

// RunID identifies this run in logs, history, and notifications.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Run executes the full pipeline: snapshot, pre-flight, suspension, transfer,
// restoration, verification. Once the transfer has run, restoration is always
// attempted. Fatal failures in any phase abort without a report; a fatal
// restoration failure means the destination needs inspection, so no
// verification counts are offered that might suggest otherwise.
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	p.started = time.Now()
	logging.Info("Run %s: copying %s -> %s", p.runID, p.cfg.Source, p.cfg.Destination)

	snap, err := p.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading source catalog: %w", err)
	}

	if err := p.preflight(ctx, snap); err != nil {
		return nil, err
	}

	if err := p.suspend(ctx, snap); err != nil {
		// Deliberately no compensating re-enable here: objects already
		// switched off stay off so the operator sees the exact state the
		// run aborted in.
		return nil, err
	}

	results := p.transfer(ctx, snap)
	failed := transfer.FailedTables(results)

	if err := p.restore(ctx, snap); err != nil {
		return nil, err
	}

	return p.verify(ctx, snap, failed), nil
}

// preflight checks the destination before anything is modified: objects
// missing on either side are worth a warning, a non-empty destination is
// fatal.
func (p *Pipeline) preflight(ctx context.Context, snap *catalog.Snapshot) error {
	sourceObjs, err := p.db.ObjectNames(ctx, p.cfg.Source)
	if err != nil {
		return fmt.Errorf("listing source objects: %w", err)
	}
	destObjs, err := p.db.ObjectNames(ctx, p.cfg.Destination)
	if err != nil {
		return fmt.Errorf("listing destination objects: %w", err)
	}

	for name := range sourceObjs {
		if !destObjs[name] {
			logging.Warn("Object %s exists in source but not in destination", name)
		}
	}
	for name := range destObjs {
		if !sourceObjs[name] {
			logging.Warn("Object %s exists in destination but not in source", name)
		}
	}

	var total int64
	for i := range snap.Tables {
		t := &snap.Tables[i]
		count, err := p.db.RowCount(ctx, p.cfg.Destination, t.Schema, t.Name)
		if err != nil {
			// The table likely does not exist in the destination. The parity
			// warning above already flagged it; its transfer will fail on its
			// own and show up in the report.
			logging.Warn("Could not count rows in destination table %s: %v", t.String(), err)
			continue
		}
		total += count
	}
	if total > 0 {
		return fmt.Errorf("%w: %d rows present across %d tables", ErrDestinationNotEmpty, total, len(snap.Tables))
	}

	logging.Info("Pre-flight passed: destination %s is empty", p.cfg.Destination)
	return nil
}

// suspend switches off check constraints, then foreign keys, then triggers.
// Objects within a phase are attempted independently, but any failure in a
// phase stops the run before the next phase: copying with integrity
// enforcement half-disabled is worse than not copying at all.
func (p *Pipeline) suspend(ctx context.Context, snap *catalog.Snapshot) error {
	phases := []struct {
		name    string
		objects []catalog.Constraint
	}{
		{"suspending check constraints", snap.Checks},
		{"suspending foreign keys", snap.ForeignKeys},
		{"suspending triggers", snap.Triggers},
	}

	for _, phase := range phases {
		failures := p.switchAll(ctx, phase.objects, false)
		logging.Info("%s: %d done, %d failed", phase.name, len(phase.objects)-len(failures), len(failures))
		if len(failures) > 0 {
			return &PhaseError{Phase: phase.name, Failures: failures}
		}
	}
	return nil
}

// restore switches triggers, then foreign keys, then check constraints back
// on. Under the warn policy only the final check-constraint phase is fatal:
// re-enabling WITH CHECK is what re-validates every copied row, so a failure
// there must not pass silently. Under strict, any failure is fatal.
func (p *Pipeline) restore(ctx context.Context, snap *catalog.Snapshot) error {
	strict := p.cfg.Copy.RestoreFailurePolicy == config.RestorePolicyStrict

	phases := []struct {
		name    string
		objects []catalog.Constraint
		fatal   bool
	}{
		{"restoring triggers", snap.Triggers, strict},
		{"restoring foreign keys", snap.ForeignKeys, strict},
		{"restoring check constraints", snap.Checks, true},
	}

	var firstErr error
	for _, phase := range phases {
		failures := p.switchAll(ctx, phase.objects, true)
		logging.Info("%s: %d done, %d failed", phase.name, len(phase.objects)-len(failures), len(failures))
		if len(failures) == 0 {
			continue
		}
		if phase.fatal && firstErr == nil {
			firstErr = &PhaseError{Phase: phase.name, Failures: failures}
		}
	}
	return firstErr
}

// switchAll flips every object in one direction, attempting all of them even
// when some fail.
func (p *Pipeline) switchAll(ctx context.Context, objects []catalog.Constraint, enable bool) []ObjectFailure {
	var failures []ObjectFailure
	for _, c := range objects {
		if err := p.db.Exec(ctx, switchStmt(c, enable)); err != nil {
			logging.Warn("Switching %s %s on %s failed: %v", c.Kind, c.Name, c.Table.String(), err)
			failures = append(failures, ObjectFailure{Name: c.Name, Table: c.Table, Kind: c.Kind, Err: err})
		}
	}
	return failures
}

// switchStmt builds the enable or disable statement for one object.
func switchStmt(c catalog.Constraint, enable bool) string {
	switch c.Kind {
	case catalog.KindTrigger:
		if enable {
			return mssql.EnableTrigger(c.Table.Schema, c.Table.Name, c.Name)
		}
		return mssql.DisableTrigger(c.Table.Schema, c.Table.Name, c.Name)
	default:
		// Check constraints and foreign keys share the ALTER TABLE form.
		if enable {
			return mssql.EnableCheckConstraint(c.Table.Schema, c.Table.Name, c.Name)
		}
		return mssql.DisableCheckConstraint(c.Table.Schema, c.Table.Name, c.Name)
	}
}

// transfer copies every discovered table.
func (p *Pipeline) transfer(ctx context.Context, snap *catalog.Snapshot) []transfer.Result {
	tracker := progress.New(len(snap.Tables))

	opts := transfer.Options{
		SourceDB: p.cfg.Source,
		Workers:  p.cfg.Copy.Workers,
	}
	logging.Info("Transferring %d tables with %d workers", len(snap.Tables), opts.Workers)
	results := transfer.Run(ctx, p.db, snap.Tables, opts, tracker)
	tracker.Finish()
	logging.Info("Transfer finished: %d of %d tables processed", tracker.Done(), len(snap.Tables))
	return results
}

// verify counts rows on both sides and assembles the run report. Counting is
// descriptive only; a count that cannot be taken is recorded as -1 rather
// than failing the run.
func (p *Pipeline) verify(ctx context.Context, snap *catalog.Snapshot, failed []string) *report.Report {
	source := make([]report.RowCount, 0, len(snap.Tables))
	dest := make([]report.RowCount, 0, len(snap.Tables))

	for i := range snap.Tables {
		t := &snap.Tables[i]
		source = append(source, report.RowCount{
			Table:  t.String(),
			Rows:   p.countOrWarn(ctx, p.cfg.Source, t),
			Origin: report.OriginSource,
		})
		dest = append(dest, report.RowCount{
			Table:  t.String(),
			Rows:   p.countOrWarn(ctx, p.cfg.Destination, t),
			Origin: report.OriginDestination,
		})
	}

	return &report.Report{
		RunID:         p.runID,
		SourceDB:      p.cfg.Source,
		DestinationDB: p.cfg.Destination,
		StartedAt:     p.started,
		Duration:      time.Since(p.started),
		FailedTables:  failed,
		Counts:        report.Merge(source, dest),
	}
}

func (p *Pipeline) countOrWarn(ctx context.Context, database string, t *catalog.TableDescriptor) int64 {
	count, err := p.db.RowCount(ctx, database, t.Schema, t.Name)
	if err != nil {
		logging.Warn("Could not count rows in %s.%s: %v", database, t.String(), err)
		return -1
	}
	return count
}
