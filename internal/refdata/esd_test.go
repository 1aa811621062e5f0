package refdata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/parcelworks/refgateway/internal/metrics"
)

func TestParseESDLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    esdRecord
		wantOK  bool
		wantErr bool
	}{
		{
			name:   "zone with description",
			line:   "ZONE|DE|Z1|Northern metro",
			want:   esdRecord{kind: "ZONE", country: "DE", code: "Z1", text: "Northern metro"},
			wantOK: true,
		},
		{
			name:   "zone without description",
			line:   "ZONE|DE|Z2",
			want:   esdRecord{kind: "ZONE", country: "DE", code: "Z2"},
			wantOK: true,
		},
		{
			name:   "area with zone and city hint",
			line:   "AREA|DE|HAM|Z1|Hamburg",
			want:   esdRecord{kind: "AREA", country: "DE", code: "HAM", zoneRef: "Z1", text: "HAMBURG"},
			wantOK: true,
		},
		{
			name:   "area with empty zone link",
			line:   "AREA|DE|BER||Berlin",
			want:   esdRecord{kind: "AREA", country: "DE", code: "BER", text: "BERLIN"},
			wantOK: true,
		},
		{
			name:   "lowercase kind and codes normalized",
			line:   "zone|de|z1|desc",
			want:   esdRecord{kind: "ZONE", country: "DE", code: "Z1", text: "desc"},
			wantOK: true,
		},
		{
			name:   "city hint whitespace collapsed and uppercased",
			line:   "AREA|BR|RIO|Z9|Rio   de  Janeiro",
			want:   esdRecord{kind: "AREA", country: "BR", code: "RIO", zoneRef: "Z9", text: "RIO DE JANEIRO"},
			wantOK: true,
		},
		{name: "blank line", line: "   "},
		{name: "comment line", line: "# header comment"},
		{name: "unknown kind", line: "ROUTE|DE|X", wantErr: true},
		{name: "zone too few fields", line: "ZONE|DE", wantErr: true},
		{name: "zone bad country", line: "ZONE|DEU|Z1", wantErr: true},
		{name: "area missing code", line: "AREA|DE||Z1|Hamburg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseESDLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseESDLine(%q) err = nil, want error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseESDLine(%q) err = %v", tt.line, err)
			}
			if ok != tt.wantOK {
				t.Fatalf("parseESDLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseESDLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

// Every loader observes its run metrics on the way out, including runs
// that fail before touching the database.
func TestLoaderRunsObserved(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.feed")

	before := testutil.CollectAndCount(metrics.RunSeconds)
	if _, err := LoadESD(context.Background(), nil, missing); !errors.Is(err, ErrInputMissing) {
		t.Fatalf("LoadESD() error = %v, want ErrInputMissing", err)
	}
	if _, err := LoadCountries(context.Background(), nil, nil, missing); !errors.Is(err, ErrInputMissing) {
		t.Fatalf("LoadCountries() error = %v, want ErrInputMissing", err)
	}

	after := testutil.CollectAndCount(metrics.RunSeconds)
	if after != before+2 {
		t.Errorf("run duration series = %d after two failed runs, want %d", after, before+2)
	}
}
