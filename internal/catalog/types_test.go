package catalog

import (
	"reflect"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, tables []Table) []TableDescriptor {
	t.Helper()
	descs, err := BuildDescriptors(tables)
	if err != nil {
		t.Fatalf("BuildDescriptors() error: %v", err)
	}
	return descs
}

func TestBuildDescriptors(t *testing.T) {
	t.Run("plain table", func(t *testing.T) {
		tables := []Table{
			{
				TableName: TableName{Schema: "dbo", Name: "Orders"},
				Columns: []Column{
					{Name: "ID", DataType: "int", IsIdentity: true},
					{Name: "Customer", DataType: "nvarchar"},
				},
			},
		}

		descs := mustBuild(t, tables)
		if len(descs) != 1 {
			t.Fatalf("got %d descriptors, want 1", len(descs))
		}

		d := descs[0]
		if !d.HasIdentity {
			t.Error("HasIdentity = false, want true")
		}
		if !reflect.DeepEqual(d.InsertColumns, []string{"ID", "Customer"}) {
			t.Errorf("InsertColumns = %v", d.InsertColumns)
		}
		if !reflect.DeepEqual(d.SelectColumns, []string{"[ID]", "[Customer]"}) {
			t.Errorf("SelectColumns = %v", d.SelectColumns)
		}
	})

	t.Run("xml column converted in select list only", func(t *testing.T) {
		tables := []Table{
			{
				TableName: TableName{Schema: "dbo", Name: "Docs"},
				Columns: []Column{
					{Name: "ID", DataType: "int"},
					{Name: "Payload", DataType: "xml"},
				},
			},
		}

		d := mustBuild(t, tables)[0]
		if d.HasIdentity {
			t.Error("HasIdentity = true, want false")
		}
		if d.InsertColumns[1] != "Payload" {
			t.Errorf("insert list must keep the bare column name, got %q", d.InsertColumns[1])
		}
		if d.SelectColumns[1] != "CONVERT(NVARCHAR(MAX), [Payload])" {
			t.Errorf("select list missing conversion, got %q", d.SelectColumns[1])
		}
	})

	t.Run("zero-column table keeps empty lists", func(t *testing.T) {
		tables := []Table{
			{TableName: TableName{Schema: "dbo", Name: "AllComputed"}},
		}

		d := mustBuild(t, tables)[0]
		if len(d.InsertColumns) != 0 || len(d.SelectColumns) != 0 {
			t.Errorf("expected empty column lists, got %v / %v", d.InsertColumns, d.SelectColumns)
		}
	})

	t.Run("column order preserved", func(t *testing.T) {
		tables := []Table{
			{
				TableName: TableName{Schema: "dbo", Name: "T"},
				Columns: []Column{
					{Name: "C", DataType: "int"},
					{Name: "A", DataType: "int"},
					{Name: "B", DataType: "int"},
				},
			},
		}

		d := mustBuild(t, tables)[0]
		if !reflect.DeepEqual(d.InsertColumns, []string{"C", "A", "B"}) {
			t.Errorf("catalog order not preserved: %v", d.InsertColumns)
		}
	})

	t.Run("invalid identifiers rejected", func(t *testing.T) {
		cases := map[string][]Table{
			"column with control character": {
				{
					TableName: TableName{Schema: "dbo", Name: "T"},
					Columns:   []Column{{Name: "bad\ncol", DataType: "int"}},
				},
			},
			"empty schema": {
				{TableName: TableName{Schema: "", Name: "T"}},
			},
			"overlong table name": {
				{TableName: TableName{Schema: "dbo", Name: strings.Repeat("x", 129)}},
			},
		}
		for name, tables := range cases {
			if _, err := BuildDescriptors(tables); err == nil {
				t.Errorf("%s: expected error, got none", name)
			}
		}
	})
}

func TestValidateConstraints(t *testing.T) {
	good := []Constraint{
		{Name: "CK_Total", Table: TableName{Schema: "dbo", Name: "Orders"}, Kind: KindCheckConstraint},
	}
	if err := validateConstraints(good); err != nil {
		t.Errorf("expected valid constraints to pass, got %v", err)
	}

	bad := []Constraint{
		{Name: "CK\x00zero", Table: TableName{Schema: "dbo", Name: "Orders"}, Kind: KindCheckConstraint},
	}
	if err := validateConstraints(bad); err == nil {
		t.Error("expected control character in constraint name to be rejected")
	}

	badTable := []Constraint{
		{Name: "TR_Audit", Table: TableName{Schema: "dbo", Name: ""}, Kind: KindTrigger},
	}
	if err := validateConstraints(badTable); err == nil {
		t.Error("expected empty owning-table name to be rejected")
	}
}

func TestConstraintKindString(t *testing.T) {
	cases := map[ConstraintKind]string{
		KindCheckConstraint: "check constraint",
		KindForeignKey:      "foreign key",
		KindTrigger:         "trigger",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
