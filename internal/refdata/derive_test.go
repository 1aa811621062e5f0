package refdata

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func testDerivationIndex() *DerivationIndex {
	return &DerivationIndex{
		byCity: map[string]map[string]string{
			"DE": {"HAMBURG": "HAM", "BERLIN": "BER"},
			"BR": {"RIO DE JANEIRO": "RIO"},
		},
		zoneOf: map[string]string{
			"DE/HAM": "Z1",
			"BR/RIO": "Z9",
			// BER has no zone link
		},
	}
}

func TestDerivationIndex_Resolve(t *testing.T) {
	idx := testDerivationIndex()

	tests := []struct {
		name     string
		country  string
		city     string
		wantArea string
		wantZone string
		wantOK   bool
	}{
		{"hit with zone", "DE", "HAMBURG", "HAM", "Z1", true},
		{"hit without zone", "DE", "BERLIN", "BER", "", true},
		{"lowercase country normalized", "de", "HAMBURG", "HAM", "Z1", true},
		{"multi word city", "BR", "RIO DE JANEIRO", "RIO", "Z9", true},
		{"unknown city", "DE", "MUNICH", "", "", false},
		{"unknown country", "FR", "PARIS", "", "", false},
		{"empty city", "DE", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			area, zone, ok := idx.Resolve(tt.country, tt.city)
			if ok != tt.wantOK || area != tt.wantArea || zone != tt.wantZone {
				t.Errorf("Resolve(%q, %q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.country, tt.city, area, zone, ok, tt.wantArea, tt.wantZone, tt.wantOK)
			}
		})
	}
}

func TestDerivationIndex_NilSafe(t *testing.T) {
	var idx *DerivationIndex
	if _, _, ok := idx.Resolve("DE", "HAMBURG"); ok {
		t.Error("nil index resolved a city")
	}
}

func TestDerivationIndex_Areas(t *testing.T) {
	if got := testDerivationIndex().Areas(); got != 3 {
		t.Errorf("Areas() = %d, want 3", got)
	}
}

// recordingDB captures the last query and its arguments and returns an
// empty result set.
type recordingDB struct {
	query string
	args  []any
}

func (r *recordingDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (r *recordingDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.query = sql
	r.args = args
	return emptyRows{}, nil
}

func (r *recordingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

func TestBuildDerivationIndex_NormalizesCountryFilter(t *testing.T) {
	db := &recordingDB{}
	if _, err := BuildDerivationIndex(context.Background(), db, []string{" de ", "fr"}); err != nil {
		t.Fatalf("BuildDerivationIndex() error = %v", err)
	}

	if !strings.Contains(db.query, "country_iso2 = ANY($1)") {
		t.Errorf("query missing country filter: %q", db.query)
	}
	if len(db.args) != 1 {
		t.Fatalf("query args = %d, want 1", len(db.args))
	}
	if got, want := db.args[0], []string{"DE", "FR"}; !reflect.DeepEqual(got, want) {
		t.Errorf("country filter arg = %v, want %v", got, want)
	}
}

func TestBuildDerivationIndex_NoFilter(t *testing.T) {
	db := &recordingDB{}
	if _, err := BuildDerivationIndex(context.Background(), db, nil); err != nil {
		t.Fatalf("BuildDerivationIndex() error = %v", err)
	}
	if strings.Contains(db.query, "WHERE") {
		t.Errorf("unfiltered query should have no WHERE clause: %q", db.query)
	}
	if len(db.args) != 0 {
		t.Errorf("query args = %d, want 0", len(db.args))
	}
}
