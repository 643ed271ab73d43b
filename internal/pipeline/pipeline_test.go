package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/anturkov/SQL-DB-CopyData/internal/catalog"
	"github.com/anturkov/SQL-DB-CopyData/internal/config"
	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
)

func init() {
	logging.SetLevel(logging.LevelError)
}

type fakeServer struct {
	mu    sync.Mutex
	stmts []string

	// failStmts fails any Exec whose statement contains the substring.
	failStmts []string
	// rows maps "database|schema.table" to a row count; missing keys error.
	rows map[string]int64
	// objects maps database name to its object set.
	objects map[string]map[string]bool
}

func (f *fakeServer) Exec(_ context.Context, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, stmt)
	for _, s := range f.failStmts {
		if strings.Contains(stmt, s) {
			return fmt.Errorf("statement rejected: %s", stmt)
		}
	}
	return nil
}

func (f *fakeServer) RowCount(_ context.Context, database, schema, table string) (int64, error) {
	key := database + "|" + schema + "." + table
	count, ok := f.rows[key]
	if !ok {
		return 0, fmt.Errorf("no such table %s", key)
	}
	return count, nil
}

func (f *fakeServer) ObjectNames(_ context.Context, database string) (map[string]bool, error) {
	objs, ok := f.objects[database]
	if !ok {
		return nil, fmt.Errorf("no such database %s", database)
	}
	return objs, nil
}

func (f *fakeServer) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

type fakeCatalog struct {
	snap *catalog.Snapshot
	err  error
}

func (f *fakeCatalog) Snapshot(context.Context) (*catalog.Snapshot, error) {
	return f.snap, f.err
}

func testConfig(policy string) *config.Config {
	return &config.Config{
		Source:      "Prod",
		Destination: "Staging",
		Copy: config.CopyConfig{
			Workers:              1,
			RestoreFailurePolicy: policy,
		},
	}
}

func testSnapshot() *catalog.Snapshot {
	return &catalog.Snapshot{
		SourceDB: "Prod",
		Tables: []catalog.TableDescriptor{
			{
				TableName:     catalog.TableName{Schema: "dbo", Name: "Orders"},
				InsertColumns: []string{"Id", "Total"},
				SelectColumns: []string{"[Id]", "[Total]"},
				HasIdentity:   true,
			},
			{
				TableName:     catalog.TableName{Schema: "dbo", Name: "Items"},
				InsertColumns: []string{"Id"},
				SelectColumns: []string{"[Id]"},
			},
		},
		Checks:      []catalog.Constraint{{Name: "CK_Total", Table: catalog.TableName{Schema: "dbo", Name: "Orders"}, Kind: catalog.KindCheckConstraint}},
		ForeignKeys: []catalog.Constraint{{Name: "FK_Items_Orders", Table: catalog.TableName{Schema: "dbo", Name: "Items"}, Kind: catalog.KindForeignKey}},
		Triggers:    []catalog.Constraint{{Name: "TR_Audit", Table: catalog.TableName{Schema: "dbo", Name: "Orders"}, Kind: catalog.KindTrigger}},
	}
}

func emptyDestServer() *fakeServer {
	return &fakeServer{
		rows: map[string]int64{
			"Prod|dbo.Orders":    100,
			"Prod|dbo.Items":     50,
			"Staging|dbo.Orders": 0,
			"Staging|dbo.Items":  0,
		},
		objects: map[string]map[string]bool{
			"Prod":    {"Orders": true, "Items": true},
			"Staging": {"Orders": true, "Items": true},
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	srv := emptyDestServer()
	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(rep.FailedTables) != 0 {
		t.Errorf("expected no failed tables, got %v", rep.FailedTables)
	}
	if len(rep.Counts) != 2 {
		t.Errorf("expected counts for 2 tables, got %d", len(rep.Counts))
	}

	stmts := srv.statements()
	ordered := []string{
		"NOCHECK CONSTRAINT [CK_Total]",
		"NOCHECK CONSTRAINT [FK_Items_Orders]",
		"DISABLE TRIGGER [dbo].[TR_Audit]",
		"INSERT INTO [dbo].[Orders]",
		"ENABLE TRIGGER [dbo].[TR_Audit]",
		"WITH CHECK CHECK CONSTRAINT [FK_Items_Orders]",
		"WITH CHECK CHECK CONSTRAINT [CK_Total]",
	}
	last := -1
	for _, want := range ordered {
		idx := indexContaining(stmts, want)
		if idx < 0 {
			t.Fatalf("statement containing %q never issued; got %v", want, stmts)
		}
		if idx <= last {
			t.Errorf("statement %q issued out of order", want)
		}
		last = idx
	}
}

func TestRunAbortsWhenDestinationNotEmpty(t *testing.T) {
	srv := emptyDestServer()
	srv.rows["Staging|dbo.Items"] = 3

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	rep, err := p.Run(context.Background())
	if !errors.Is(err, ErrDestinationNotEmpty) {
		t.Fatalf("expected ErrDestinationNotEmpty, got %v", err)
	}
	if rep != nil {
		t.Error("expected nil report on pre-flight abort")
	}
	if len(srv.statements()) != 0 {
		t.Errorf("nothing should be executed before the emptiness guard, got %v", srv.statements())
	}
}

func TestRunSuspensionFailureStopsBeforeTransfer(t *testing.T) {
	srv := emptyDestServer()
	srv.failStmts = []string{"NOCHECK CONSTRAINT [FK_Items_Orders]"}

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	_, err := p.Run(context.Background())

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected PhaseError, got %v", err)
	}
	if phaseErr.Phase != "suspending foreign keys" {
		t.Errorf("unexpected phase %q", phaseErr.Phase)
	}
	if len(phaseErr.Failures) != 1 || phaseErr.Failures[0].Name != "FK_Items_Orders" {
		t.Errorf("unexpected failures: %+v", phaseErr.Failures)
	}

	for _, stmt := range srv.statements() {
		if strings.Contains(stmt, "INSERT INTO") {
			t.Errorf("no data should transfer after a suspension failure, saw %q", stmt)
		}
		if strings.Contains(stmt, "DISABLE TRIGGER") {
			t.Errorf("trigger phase must not start after the FK phase failed, saw %q", stmt)
		}
		// No compensating rollback: nothing gets re-enabled on abort.
		if strings.Contains(stmt, "WITH CHECK CHECK CONSTRAINT") || strings.Contains(stmt, "ENABLE TRIGGER") {
			t.Errorf("aborted suspension must not re-enable objects, saw %q", stmt)
		}
	}
}

func TestRunRestorationAlwaysAttempted(t *testing.T) {
	srv := emptyDestServer()
	srv.failStmts = []string{"INSERT INTO [dbo].[Orders]"}

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("table failures alone must not fail the run: %v", err)
	}
	if len(rep.FailedTables) != 1 || rep.FailedTables[0] != "dbo.Orders" {
		t.Errorf("expected dbo.Orders failed, got %v", rep.FailedTables)
	}

	stmts := srv.statements()
	for _, want := range []string{
		"ENABLE TRIGGER [dbo].[TR_Audit]",
		"WITH CHECK CHECK CONSTRAINT [FK_Items_Orders]",
		"WITH CHECK CHECK CONSTRAINT [CK_Total]",
	} {
		if indexContaining(stmts, want) < 0 {
			t.Errorf("restoration statement containing %q not issued", want)
		}
	}

	// The second table still transferred.
	if indexContaining(stmts, "INSERT INTO [dbo].[Items]") < 0 {
		t.Errorf("remaining tables should transfer after one fails, got %v", stmts)
	}
}

func TestRunRestorePolicyWarn(t *testing.T) {
	srv := emptyDestServer()
	srv.failStmts = []string{"ENABLE TRIGGER [dbo].[TR_Audit]"}

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("trigger restore failure should warn under the warn policy, got %v", err)
	}
	if rep == nil {
		t.Fatal("expected a report")
	}

	// FK and check restoration still ran after the trigger failure.
	stmts := srv.statements()
	if indexContaining(stmts, "WITH CHECK CHECK CONSTRAINT [CK_Total]") < 0 {
		t.Errorf("check restoration should still run, got %v", stmts)
	}
}

func TestRunRestorePolicyStrict(t *testing.T) {
	srv := emptyDestServer()
	srv.failStmts = []string{"ENABLE TRIGGER [dbo].[TR_Audit]"}

	p := New(testConfig(config.RestorePolicyStrict), srv, &fakeCatalog{snap: testSnapshot()})
	rep, err := p.Run(context.Background())

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("expected PhaseError under strict policy, got %v", err)
	}
	if phaseErr.Phase != "restoring triggers" {
		t.Errorf("unexpected phase %q", phaseErr.Phase)
	}
	if rep != nil {
		t.Error("no report should be produced after a fatal restoration failure")
	}
}

func TestRunCheckRestorationFatalUnderWarnPolicy(t *testing.T) {
	srv := emptyDestServer()
	srv.failStmts = []string{"CHECK CHECK CONSTRAINT [CK_Total]"}

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	_, err := p.Run(context.Background())

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("check restoration failures are fatal even under warn, got %v", err)
	}
	if phaseErr.Phase != "restoring check constraints" {
		t.Errorf("unexpected phase %q", phaseErr.Phase)
	}
}

func TestRunSnapshotFailure(t *testing.T) {
	srv := emptyDestServer()
	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{err: errors.New("login failed")})

	_, err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reading source catalog") {
		t.Fatalf("expected catalog error, got %v", err)
	}
	if len(srv.statements()) != 0 {
		t.Errorf("nothing should run after a failed snapshot, got %v", srv.statements())
	}
}

func TestRunMissingDestinationTableDoesNotAbort(t *testing.T) {
	srv := emptyDestServer()
	delete(srv.rows, "Staging|dbo.Items")
	delete(srv.objects["Staging"], "Items")

	p := New(testConfig(config.RestorePolicyWarn), srv, &fakeCatalog{snap: testSnapshot()})
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("a missing destination table should not abort pre-flight: %v", err)
	}

	// Its verification count is recorded as unknown.
	for _, c := range rep.Counts {
		if c.Table == "dbo.Items" && c.DestinationRows != -1 {
			t.Errorf("expected -1 destination count for dbo.Items, got %d", c.DestinationRows)
		}
	}
}

func indexContaining(stmts []string, substr string) int {
	for i, s := range stmts {
		if strings.Contains(s, substr) {
			return i
		}
	}
	return -1
}
