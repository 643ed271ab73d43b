package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anturkov/SQL-DB-CopyData/internal/config"
	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	_ "github.com/microsoft/go-mssqldb"
)

// Pool manages SQL Server connections for one database context. The copy
// pipeline opens a single pool against the destination database and reaches
// the source through three-part names.
type Pool struct {
	db       *sql.DB
	database string
}

// NewPool opens a connection pool against the given database.
func NewPool(cfg *config.Config, database string) (*Pool, error) {
	db, err := sql.Open("sqlserver", cfg.DSN(database))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	// Configure connection pool. The pipeline is mostly sequential; a handful
	// of connections covers the parallel transfer phase.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to SQL Server: %s:%d/%s", cfg.Server.Host, cfg.Server.Port, database)

	return &Pool{db: db, database: database}, nil
}

// Close closes all connections.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Database returns the database this pool is connected to.
func (p *Pool) Database() string {
	return p.database
}

// Exec runs a single statement.
func (p *Pool) Exec(ctx context.Context, stmt string) error {
	_, err := p.db.ExecContext(ctx, stmt)
	return err
}

// RowCount returns the row count of a table in the given database.
func (p *Pool) RowCount(ctx context.Context, database, schema, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", QualifyTableInDB(database, schema, table))
	err := p.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// ObjectNames returns the names of all non-system objects in the given
// database: tables, views, procedures, functions, and triggers.
func (p *Pool) ObjectNames(ctx context.Context, database string) (map[string]bool, error) {
	query := fmt.Sprintf(`
		SELECT name
		FROM %s.sys.objects
		WHERE is_ms_shipped = 0
		  AND type IN ('U', 'V', 'P', 'FN', 'IF', 'TF', 'TR')
	`, QuoteIdent(database))

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying objects in %s: %w", database, err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning object name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// DatabaseExists checks whether the database exists on the instance.
func (p *Pool) DatabaseExists(ctx context.Context, database string) (bool, error) {
	var exists int
	err := p.db.QueryRowContext(ctx,
		"SELECT 1 FROM sys.databases WHERE name = @name",
		sql.Named("name", database)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
