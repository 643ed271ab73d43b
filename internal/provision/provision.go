package provision

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
)

// Provisioner prepares the instance for a copy run: validates that both
// databases exist, checks the login's privileges, and can stamp out the
// destination as a structural clone of the source. It runs against a pool
// connected to any database on the instance, usually master, since the
// destination may not exist yet.
type Provisioner struct {
	pool *mssql.Pool
}

// New wraps an open pool.
func New(pool *mssql.Pool) *Provisioner {
	return &Provisioner{pool: pool}
}

// EnsureDatabases verifies that source exists, and destination too unless
// clone mode is going to create it.
func (p *Provisioner) EnsureDatabases(ctx context.Context, source, destination string, clone bool) error {
	exists, err := p.pool.DatabaseExists(ctx, source)
	if err != nil {
		return fmt.Errorf("checking source database: %w", err)
	}
	if !exists {
		return fmt.Errorf("source database %q does not exist", source)
	}

	exists, err = p.pool.DatabaseExists(ctx, destination)
	if err != nil {
		return fmt.Errorf("checking destination database: %w", err)
	}
	if clone {
		if exists {
			return fmt.Errorf("destination database %q already exists; refusing to clone over it", destination)
		}
		return nil
	}
	if !exists {
		return fmt.Errorf("destination database %q does not exist", destination)
	}
	return nil
}

// CheckPrivileges verifies the login can disable constraints and triggers in
// the destination. sysadmin always qualifies; otherwise membership in the
// destination's db_owner or db_ddladmin role is required.
func (p *Provisioner) CheckPrivileges(ctx context.Context, destination string) error {
	var sysadmin sql.NullInt64
	err := p.pool.DB().QueryRowContext(ctx,
		"SELECT IS_SRVROLEMEMBER('sysadmin')").Scan(&sysadmin)
	if err != nil {
		return fmt.Errorf("checking server role: %w", err)
	}
	if sysadmin.Valid && sysadmin.Int64 == 1 {
		return nil
	}

	// IS_ROLEMEMBER evaluates in the current database context, so the check
	// has to hop into the destination.
	var owner, ddladmin sql.NullInt64
	roleQuery := fmt.Sprintf(
		"EXEC %s.sys.sp_executesql N'SELECT IS_ROLEMEMBER(''db_owner''), IS_ROLEMEMBER(''db_ddladmin'')'",
		mssql.QuoteIdent(destination))
	if err := p.pool.DB().QueryRowContext(ctx, roleQuery).Scan(&owner, &ddladmin); err != nil {
		return fmt.Errorf("checking database roles in %s: %w", destination, err)
	}
	if (owner.Valid && owner.Int64 == 1) || (ddladmin.Valid && ddladmin.Int64 == 1) {
		return nil
	}
	return fmt.Errorf("login lacks the privileges to alter constraints in %q (needs sysadmin, db_owner, or db_ddladmin)", destination)
}

// CloneDestination creates the destination as a schema-only clone of the
// source. DBCC CLONEDATABASE produces a read-only database, so the clone is
// flipped to read-write afterwards.
func (p *Provisioner) CloneDestination(ctx context.Context, source, destination string) error {
	logging.Info("Cloning %s schema into new database %s", source, destination)

	clone := fmt.Sprintf("DBCC CLONEDATABASE (%s, %s) WITH NO_STATISTICS, NO_QUERYSTORE",
		mssql.QuoteIdent(source), mssql.QuoteIdent(destination))
	if err := p.pool.Exec(ctx, clone); err != nil {
		return fmt.Errorf("cloning database: %w", err)
	}

	readWrite := fmt.Sprintf("ALTER DATABASE %s SET READ_WRITE WITH ROLLBACK IMMEDIATE",
		mssql.QuoteIdent(destination))
	if err := p.pool.Exec(ctx, readWrite); err != nil {
		return fmt.Errorf("making clone writable: %w", err)
	}

	exists, err := p.pool.DatabaseExists(ctx, destination)
	if err != nil {
		return fmt.Errorf("verifying clone: %w", err)
	}
	if !exists {
		return fmt.Errorf("clone of %q did not produce database %q", source, destination)
	}
	return nil
}

// RecoveryModel returns the destination's current recovery model.
func (p *Provisioner) RecoveryModel(ctx context.Context, database string) (string, error) {
	var model string
	err := p.pool.DB().QueryRowContext(ctx,
		"SELECT recovery_model_desc FROM sys.databases WHERE name = @name",
		sql.Named("name", database)).Scan(&model)
	if err != nil {
		return "", fmt.Errorf("reading recovery model of %s: %w", database, err)
	}
	return model, nil
}

// SetRecoveryModel switches a database's recovery model. The bulk insert
// phase runs leaner under SIMPLE; callers are expected to restore the prior
// model afterwards.
func (p *Provisioner) SetRecoveryModel(ctx context.Context, database, model string) error {
	switch strings.ToUpper(model) {
	case "SIMPLE", "FULL", "BULK_LOGGED":
	default:
		return fmt.Errorf("invalid recovery model %q", model)
	}
	stmt := fmt.Sprintf("ALTER DATABASE %s SET RECOVERY %s",
		mssql.QuoteIdent(database), strings.ToUpper(model))
	if err := p.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("setting recovery model of %s: %w", database, err)
	}
	logging.Debug("Recovery model of %s set to %s", database, strings.ToUpper(model))
	return nil
}
