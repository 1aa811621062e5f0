package migrate

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("CREATE TABLE a (x INT);\n\nCREATE INDEX b ON a (x);\n;")
	if len(got) != 2 {
		t.Fatalf("got %d statements, want 2: %v", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x INT)" {
		t.Errorf("first statement = %q", got[0])
	}
}

func TestSplitStatements_Empty(t *testing.T) {
	if got := SplitStatements("  \n ; ; "); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

// The embedded schema must split into individually executable statements
// covering every catalog table.
func TestSchemaStatements(t *testing.T) {
	stmts := SplitStatements(schema)
	if len(stmts) == 0 {
		t.Fatal("embedded schema produced no statements")
	}

	tables := []string{"countries", "service_zones", "service_areas", "postal_code_ranges", "load_runs"}
	for _, table := range tables {
		found := false
		for _, stmt := range stmts {
			if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+table) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("schema has no CREATE TABLE for %s", table)
		}
	}

	for _, stmt := range stmts {
		if !strings.HasPrefix(stmt, "CREATE") {
			t.Errorf("unexpected statement kind: %.40q", stmt)
		}
		if strings.Contains(stmt, "IF NOT EXISTS") == false {
			t.Errorf("statement is not idempotent: %.40q", stmt)
		}
	}
}

// Postal rows must only reference countries the catalog knows about, so
// the ranges table carries a foreign key into countries. The countries
// table is created by an earlier statement in the bundle.
func TestSchemaPostalCountryReference(t *testing.T) {
	stmts := SplitStatements(schema)
	var postal, countriesIdx, postalIdx int
	postalIdx = -1
	countriesIdx = -1
	for i, stmt := range stmts {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS countries") {
			countriesIdx = i
		}
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS postal_code_ranges") {
			postalIdx = i
			if strings.Contains(stmt, "REFERENCES countries (iso2)") {
				postal++
			}
		}
	}
	if postal != 1 {
		t.Error("postal_code_ranges.country_iso2 must reference countries(iso2)")
	}
	if countriesIdx == -1 || postalIdx == -1 || countriesIdx > postalIdx {
		t.Error("countries must be created before postal_code_ranges")
	}
}

func TestSchemaNaturalKeyIndex(t *testing.T) {
	if !strings.Contains(schema, "NULLS NOT DISTINCT") {
		t.Error("natural key index must treat NULL service_area values as equal")
	}
}
