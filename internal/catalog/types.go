package catalog

import (
	"fmt"

	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
)

// TableName is a schema-qualified table name.
type TableName struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String returns the qualified schema.table form.
func (t TableName) String() string {
	return t.Schema + "." + t.Name
}

// Column is one non-computed column of a user table, in catalog order.
type Column struct {
	Name       string
	DataType   string
	IsIdentity bool
}

// IsXML reports whether the column needs an explicit conversion on read.
func (c Column) IsXML() bool {
	return c.DataType == "xml"
}

// Table is the raw catalog shape of one user table.
type Table struct {
	TableName
	Columns []Column
}

// ConstraintKind classifies the integrity-enforcing objects the pipeline
// suspends and restores.
type ConstraintKind int

const (
	KindCheckConstraint ConstraintKind = iota
	KindForeignKey
	KindTrigger
)

// String returns a readable kind name for logs.
func (k ConstraintKind) String() string {
	switch k {
	case KindCheckConstraint:
		return "check constraint"
	case KindForeignKey:
		return "foreign key"
	case KindTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// Constraint is one enabled check constraint, foreign key, or trigger,
// with its owning table.
type Constraint struct {
	Name  string
	Table TableName
	Kind  ConstraintKind
}

// TableDescriptor carries everything the transfer engine needs for one table.
// Built once per run, immutable thereafter.
type TableDescriptor struct {
	TableName
	// InsertColumns is the plain column-name list used as insert targets.
	InsertColumns []string
	// SelectColumns mirrors InsertColumns as quoted expressions; xml columns
	// are wrapped in an explicit conversion.
	SelectColumns []string
	HasIdentity   bool
}

// Snapshot is the full metadata picture of the source database, taken once
// at the start of a run. The table set it holds is exactly the set every
// later phase operates on.
type Snapshot struct {
	SourceDB    string
	Tables      []TableDescriptor
	Checks      []Constraint
	ForeignKeys []Constraint
	Triggers    []Constraint
}

// BuildDescriptors turns raw catalog tables into transfer descriptors.
// The insertion list is the non-computed column names; the selection list is
// the same columns quoted, with xml columns wrapped in an explicit conversion
// so assignment compatibility is guaranteed on copy. Every identifier is
// validated before it can reach a statement builder.
func BuildDescriptors(tables []Table) ([]TableDescriptor, error) {
	descriptors := make([]TableDescriptor, 0, len(tables))
	for _, t := range tables {
		if err := mssql.ValidateIdentifier(t.Schema); err != nil {
			return nil, fmt.Errorf("schema of table %s: %w", t.Name, err)
		}
		if err := mssql.ValidateIdentifier(t.Name); err != nil {
			return nil, fmt.Errorf("table in schema %s: %w", t.Schema, err)
		}

		d := TableDescriptor{TableName: t.TableName}
		for _, col := range t.Columns {
			if err := mssql.ValidateIdentifier(col.Name); err != nil {
				return nil, fmt.Errorf("column of table %s: %w", t.String(), err)
			}
			d.InsertColumns = append(d.InsertColumns, col.Name)
			if col.IsXML() {
				d.SelectColumns = append(d.SelectColumns, mssql.ConvertXMLColumn(col.Name))
			} else {
				d.SelectColumns = append(d.SelectColumns, mssql.QuoteIdent(col.Name))
			}
			if col.IsIdentity {
				d.HasIdentity = true
			}
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// validateConstraints checks every constraint and owning-table name before
// any of them is built into a DDL statement.
func validateConstraints(objects []Constraint) error {
	for _, c := range objects {
		if err := mssql.ValidateIdentifier(c.Name); err != nil {
			return fmt.Errorf("%s on %s: %w", c.Kind, c.Table.String(), err)
		}
		if err := mssql.ValidateIdentifier(c.Table.Schema); err != nil {
			return fmt.Errorf("schema owning %s %s: %w", c.Kind, c.Name, err)
		}
		if err := mssql.ValidateIdentifier(c.Table.Name); err != nil {
			return fmt.Errorf("table owning %s %s: %w", c.Kind, c.Name, err)
		}
	}
	return nil
}
