package mssql

import (
	"fmt"
	"strings"
)

// QuoteIdent safely quotes a SQL Server identifier, escaping embedded ].
func QuoteIdent(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// QualifyTable returns a two-part quoted table name for statements running in
// the current database context.
func QualifyTable(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// QualifyTableInDB returns a three-part quoted table name.
func QualifyTableInDB(database, schema, table string) string {
	return QuoteIdent(database) + "." + QualifyTable(schema, table)
}

// ValidateIdentifier rejects identifiers that could not have come from the
// catalog. Identifiers are always bracket-quoted before use; this is a second
// line against control characters and absurd lengths.
func ValidateIdentifier(ident string) error {
	if ident == "" {
		return fmt.Errorf("empty identifier")
	}
	if len(ident) > 128 {
		return fmt.Errorf("identifier exceeds 128 characters: %.32s...", ident)
	}
	for _, r := range ident {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("identifier contains control character: %q", ident)
		}
	}
	return nil
}
