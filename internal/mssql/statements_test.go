package mssql

import (
	"strings"
	"testing"
)

func TestQuoteIdent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Orders", "[Orders]"},
		{"dbo", "[dbo]"},
		{"weird]name", "[weird]]name]"},
		{"with space", "[with space]"},
	}

	for _, tc := range cases {
		if got := QuoteIdent(tc.in); got != tc.want {
			t.Errorf("QuoteIdent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQualify(t *testing.T) {
	if got := QualifyTable("dbo", "Orders"); got != "[dbo].[Orders]" {
		t.Errorf("QualifyTable = %q", got)
	}
	if got := QualifyTableInDB("Prod", "dbo", "Orders"); got != "[Prod].[dbo].[Orders]" {
		t.Errorf("QualifyTableInDB = %q", got)
	}
}

func TestValidateIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "plain", in: "Orders", wantErr: false},
		{name: "with bracket", in: "odd]name", wantErr: false},
		{name: "empty", in: "", wantErr: true},
		{name: "newline", in: "bad\nname", wantErr: true},
		{name: "too long", in: strings.Repeat("x", 129), wantErr: true},
		{name: "max length", in: strings.Repeat("x", 128), wantErr: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateIdentifier(tc.in)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr = %v", tc.in, err, tc.wantErr)
			}
		})
	}
}

func TestConstraintStatements(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "disable check",
			got:  DisableCheckConstraint("dbo", "Orders", "CK_Orders_Qty"),
			want: "ALTER TABLE [dbo].[Orders] NOCHECK CONSTRAINT [CK_Orders_Qty]",
		},
		{
			name: "enable check revalidates",
			got:  EnableCheckConstraint("dbo", "Orders", "CK_Orders_Qty"),
			want: "ALTER TABLE [dbo].[Orders] WITH CHECK CHECK CONSTRAINT [CK_Orders_Qty]",
		},
		{
			name: "disable fk uses same form",
			got:  DisableCheckConstraint("sales", "OrderLines", "FK_OrderLines_Orders"),
			want: "ALTER TABLE [sales].[OrderLines] NOCHECK CONSTRAINT [FK_OrderLines_Orders]",
		},
		{
			name: "disable trigger",
			got:  DisableTrigger("dbo", "Orders", "trg_audit"),
			want: "DISABLE TRIGGER [dbo].[trg_audit] ON [dbo].[Orders]",
		},
		{
			name: "enable trigger",
			got:  EnableTrigger("dbo", "Orders", "trg_audit"),
			want: "ENABLE TRIGGER [dbo].[trg_audit] ON [dbo].[Orders]",
		},
		{
			name: "identity insert on",
			got:  SetIdentityInsert("dbo", "Orders", true),
			want: "SET IDENTITY_INSERT [dbo].[Orders] ON",
		},
		{
			name: "identity insert off",
			got:  SetIdentityInsert("dbo", "Orders", false),
			want: "SET IDENTITY_INSERT [dbo].[Orders] OFF",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got  %q\nwant %q", tc.got, tc.want)
			}
		})
	}
}

func TestInsertSelect(t *testing.T) {
	t.Run("plain columns", func(t *testing.T) {
		stmt, err := InsertSelect("Prod", "dbo", "Orders",
			[]string{"ID", "Name"},
			[]string{"[ID]", "[Name]"})
		if err != nil {
			t.Fatalf("InsertSelect() error: %v", err)
		}
		want := "INSERT INTO [dbo].[Orders] ([ID], [Name]) SELECT [ID], [Name] FROM [Prod].[dbo].[Orders]"
		if stmt != want {
			t.Errorf("got  %q\nwant %q", stmt, want)
		}
	})

	t.Run("xml conversion in select list only", func(t *testing.T) {
		stmt, err := InsertSelect("Prod", "dbo", "Docs",
			[]string{"ID", "Payload"},
			[]string{"[ID]", ConvertXMLColumn("Payload")})
		if err != nil {
			t.Fatalf("InsertSelect() error: %v", err)
		}
		if !strings.Contains(stmt, "INSERT INTO [dbo].[Docs] ([ID], [Payload])") {
			t.Errorf("insert list should not carry the conversion: %q", stmt)
		}
		if !strings.Contains(stmt, "SELECT [ID], CONVERT(NVARCHAR(MAX), [Payload])") {
			t.Errorf("select list missing conversion: %q", stmt)
		}
	})

	t.Run("zero columns is an error", func(t *testing.T) {
		_, err := InsertSelect("Prod", "dbo", "Empty", nil, nil)
		if err == nil {
			t.Fatal("expected error for table with no insertable columns")
		}
		if !strings.Contains(err.Error(), "no insertable columns") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("mismatched lists", func(t *testing.T) {
		_, err := InsertSelect("Prod", "dbo", "T", []string{"A", "B"}, []string{"[A]"})
		if err == nil {
			t.Fatal("expected error for mismatched column lists")
		}
	})
}
