package refdata

import (
	"os"
	"path/filepath"
	"testing"
)

func writeISOFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const isoHeader = `"ISO Country Code","ISO Short Name","ISO Full Name","DHL Internal Short Name"` + "\n"

func TestLoadISOIndex_PicksNewestExport(t *testing.T) {
	dir := t.TempDir()
	writeISOFile(t, dir, "iso_countries_20250101.csv", isoHeader+`US,"United States (old)","",""`+"\n")
	writeISOFile(t, dir, "iso_countries_20250601.csv", isoHeader+`US,"United States of America","",""`+"\n")

	idx := LoadISOIndex(dir)
	if got, want := idx.NameFor("US"), "UNITED STATES OF AMERICA"; got != want {
		t.Errorf("NameFor(US) = %q, want %q", got, want)
	}
}

func TestLoadISOIndex_NamePreference(t *testing.T) {
	dir := t.TempDir()
	writeISOFile(t, dir, "iso.csv", isoHeader+
		`DE,"Germany","Federal Republic of Germany","GERMANY-DHL"`+"\n"+
		`VE,"","Bolivarian Republic of Venezuela",""`+"\n"+
		`XX,"","","Internal Only"`+"\n")

	idx := LoadISOIndex(dir)
	tests := []struct {
		iso2 string
		want string
	}{
		{"DE", "GERMANY"},                          // short name wins
		{"VE", "BOLIVARIAN REPUBLIC OF VENEZUELA"}, // falls back to full name
		{"XX", "INTERNAL ONLY"},                    // falls back to internal short name
	}
	for _, tt := range tests {
		if got := idx.NameFor(tt.iso2); got != tt.want {
			t.Errorf("NameFor(%q) = %q, want %q", tt.iso2, got, tt.want)
		}
	}
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
}

func TestLoadISOIndex_MissingDirDegradesToIdentity(t *testing.T) {
	idx := LoadISOIndex(filepath.Join(t.TempDir(), "nope"))

	if got := idx.NameFor("fr"); got != "FR" {
		t.Errorf("NameFor(fr) = %q, want identity FR", got)
	}
	if got := idx.NameFor(""); got != "" {
		t.Errorf("NameFor(empty) = %q, want empty", got)
	}
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0", idx.Len())
	}
}

func TestNameFor_NormalizesInput(t *testing.T) {
	dir := t.TempDir()
	writeISOFile(t, dir, "iso.csv", isoHeader+`JP,"Japan","",""`+"\n")

	idx := LoadISOIndex(dir)
	if got := idx.NameFor("  jp "); got != "JAPAN" {
		t.Errorf("NameFor('  jp ') = %q, want JAPAN", got)
	}
}

func TestLoadISOIndex_BOMInHeader(t *testing.T) {
	dir := t.TempDir()
	content := string([]byte{0xEF, 0xBB, 0xBF}) + isoHeader + `BR,"Brazil","",""` + "\n"
	writeISOFile(t, dir, "iso.csv", content)

	idx := LoadISOIndex(dir)
	if got := idx.NameFor("BR"); got != "BRAZIL" {
		t.Errorf("NameFor(BR) = %q, want BRAZIL", got)
	}
}
