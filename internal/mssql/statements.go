package mssql

import (
	"fmt"
	"strings"
)

// Statement builders for the suspend/copy/restore phases. All statements are
// built from catalog-discovered identifiers and run in the destination
// database context; the source database is reached via three-part names.

// DisableCheckConstraint suspends a check or foreign-key constraint.
func DisableCheckConstraint(schema, table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s NOCHECK CONSTRAINT %s",
		QualifyTable(schema, table), QuoteIdent(constraint))
}

// EnableCheckConstraint re-enables a check or foreign-key constraint and
// re-validates existing rows, so the constraint comes back trusted.
func EnableCheckConstraint(schema, table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s WITH CHECK CHECK CONSTRAINT %s",
		QualifyTable(schema, table), QuoteIdent(constraint))
}

// DisableTrigger suspends a DML trigger.
func DisableTrigger(schema, table, trigger string) string {
	return fmt.Sprintf("DISABLE TRIGGER %s.%s ON %s",
		QuoteIdent(schema), QuoteIdent(trigger), QualifyTable(schema, table))
}

// EnableTrigger re-enables a DML trigger.
func EnableTrigger(schema, table, trigger string) string {
	return fmt.Sprintf("ENABLE TRIGGER %s.%s ON %s",
		QuoteIdent(schema), QuoteIdent(trigger), QualifyTable(schema, table))
}

// SetIdentityInsert toggles identity-value override for a table.
func SetIdentityInsert(schema, table string, on bool) string {
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("SET IDENTITY_INSERT %s %s", QualifyTable(schema, table), state)
}

// InsertSelect builds the cross-database copy statement for one table:
// insert into the destination table (current context) selecting every row
// from the same table in the source database.
func InsertSelect(sourceDB, schema, table string, insertCols, selectCols []string) (string, error) {
	if len(insertCols) == 0 {
		return "", fmt.Errorf("table %s.%s has no insertable columns", schema, table)
	}
	if len(insertCols) != len(selectCols) {
		return "", fmt.Errorf("table %s.%s: insert list has %d columns, select list has %d",
			schema, table, len(insertCols), len(selectCols))
	}

	quoted := make([]string, len(insertCols))
	for i, col := range insertCols {
		quoted[i] = QuoteIdent(col)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		QualifyTable(schema, table),
		strings.Join(quoted, ", "),
		strings.Join(selectCols, ", "),
		QualifyTableInDB(sourceDB, schema, table)), nil
}

// ConvertXMLColumn wraps an xml column in a conversion through
// NVARCHAR(MAX). Inserting the text form lets the destination column
// re-validate it on assignment, which also works when the two columns are
// bound to different xml schema collections.
func ConvertXMLColumn(column string) string {
	return fmt.Sprintf("CONVERT(NVARCHAR(MAX), %s)", QuoteIdent(column))
}
