package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
)

// Reader extracts source database metadata. All queries go through the
// destination-context connection using three-part names, so the whole
// snapshot comes from one instance and one login.
type Reader struct {
	db       *sql.DB
	sourceDB string
}

// NewReader creates a catalog reader for the given source database.
func NewReader(pool *mssql.Pool, sourceDB string) *Reader {
	return &Reader{db: pool.DB(), sourceDB: sourceDB}
}

// Snapshot reads tables, columns, constraints, and triggers in one pass.
// Any metadata query failure is fatal; no partial snapshot is returned.
func (r *Reader) Snapshot(ctx context.Context) (*Snapshot, error) {
	tables, err := r.loadTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tables: %w", err)
	}
	if err := r.loadColumns(ctx, tables); err != nil {
		return nil, fmt.Errorf("loading columns: %w", err)
	}

	descriptors, err := BuildDescriptors(tables)
	if err != nil {
		return nil, fmt.Errorf("validating identifiers: %w", err)
	}
	snap := &Snapshot{
		SourceDB: r.sourceDB,
		Tables:   descriptors,
	}

	if snap.Checks, err = r.loadChecks(ctx); err != nil {
		return nil, fmt.Errorf("loading check constraints: %w", err)
	}
	if snap.ForeignKeys, err = r.loadForeignKeys(ctx); err != nil {
		return nil, fmt.Errorf("loading foreign keys: %w", err)
	}
	if snap.Triggers, err = r.loadTriggers(ctx); err != nil {
		return nil, fmt.Errorf("loading triggers: %w", err)
	}
	for _, objects := range [][]Constraint{snap.Checks, snap.ForeignKeys, snap.Triggers} {
		if err := validateConstraints(objects); err != nil {
			return nil, fmt.Errorf("validating identifiers: %w", err)
		}
	}

	logging.Info("Discovered %d tables, %d check constraints, %d foreign keys, %d triggers in %s",
		len(snap.Tables), len(snap.Checks), len(snap.ForeignKeys), len(snap.Triggers), r.sourceDB)

	return snap, nil
}

func (r *Reader) loadTables(ctx context.Context) ([]Table, error) {
	query := fmt.Sprintf(`
		SELECT s.name, t.name
		FROM %[1]s.sys.tables t
		JOIN %[1]s.sys.schemas s ON t.schema_id = s.schema_id
		WHERE t.is_ms_shipped = 0
		ORDER BY s.name, t.name
	`, mssql.QuoteIdent(r.sourceDB))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// loadColumns fills every table's non-computed columns in catalog order.
// Tables whose columns are all computed keep an empty column list.
func (r *Reader) loadColumns(ctx context.Context, tables []Table) error {
	query := fmt.Sprintf(`
		SELECT s.name, t.name, c.name, ty.name, c.is_identity
		FROM %[1]s.sys.columns c
		JOIN %[1]s.sys.tables t ON c.object_id = t.object_id
		JOIN %[1]s.sys.schemas s ON t.schema_id = s.schema_id
		JOIN %[1]s.sys.types ty ON c.user_type_id = ty.user_type_id
		WHERE t.is_ms_shipped = 0
		  AND c.is_computed = 0
		ORDER BY s.name, t.name, c.column_id
	`, mssql.QuoteIdent(r.sourceDB))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	byName := make(map[TableName]*Table, len(tables))
	for i := range tables {
		byName[tables[i].TableName] = &tables[i]
	}

	for rows.Next() {
		var tn TableName
		var col Column
		var isIdentity bool
		if err := rows.Scan(&tn.Schema, &tn.Name, &col.Name, &col.DataType, &isIdentity); err != nil {
			return fmt.Errorf("scanning column: %w", err)
		}
		col.IsIdentity = isIdentity
		if t, ok := byName[tn]; ok {
			t.Columns = append(t.Columns, col)
		}
	}
	return rows.Err()
}

func (r *Reader) loadChecks(ctx context.Context) ([]Constraint, error) {
	query := fmt.Sprintf(`
		SELECT cc.name, s.name, t.name
		FROM %[1]s.sys.check_constraints cc
		JOIN %[1]s.sys.tables t ON cc.parent_object_id = t.object_id
		JOIN %[1]s.sys.schemas s ON t.schema_id = s.schema_id
		WHERE cc.is_disabled = 0
		  AND t.is_ms_shipped = 0
		ORDER BY s.name, t.name, cc.name
	`, mssql.QuoteIdent(r.sourceDB))
	return r.loadConstraints(ctx, query, KindCheckConstraint)
}

func (r *Reader) loadForeignKeys(ctx context.Context) ([]Constraint, error) {
	query := fmt.Sprintf(`
		SELECT fk.name, s.name, t.name
		FROM %[1]s.sys.foreign_keys fk
		JOIN %[1]s.sys.tables t ON fk.parent_object_id = t.object_id
		JOIN %[1]s.sys.schemas s ON t.schema_id = s.schema_id
		WHERE fk.is_disabled = 0
		  AND t.is_ms_shipped = 0
		ORDER BY s.name, t.name, fk.name
	`, mssql.QuoteIdent(r.sourceDB))
	return r.loadConstraints(ctx, query, KindForeignKey)
}

func (r *Reader) loadTriggers(ctx context.Context) ([]Constraint, error) {
	query := fmt.Sprintf(`
		SELECT tr.name, s.name, t.name
		FROM %[1]s.sys.triggers tr
		JOIN %[1]s.sys.tables t ON tr.parent_id = t.object_id
		JOIN %[1]s.sys.schemas s ON t.schema_id = s.schema_id
		WHERE tr.is_disabled = 0
		  AND tr.is_ms_shipped = 0
		  AND tr.parent_class = 1
		ORDER BY s.name, t.name, tr.name
	`, mssql.QuoteIdent(r.sourceDB))
	return r.loadConstraints(ctx, query, KindTrigger)
}

func (r *Reader) loadConstraints(ctx context.Context, query string, kind ConstraintKind) ([]Constraint, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %ss: %w", kind, err)
	}
	defer rows.Close()

	var cons []Constraint
	for rows.Next() {
		c := Constraint{Kind: kind}
		if err := rows.Scan(&c.Name, &c.Table.Schema, &c.Table.Name); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		cons = append(cons, c)
	}
	return cons, rows.Err()
}
