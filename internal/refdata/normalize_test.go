package refdata

import "testing"

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"us", "US"},
		{"  de ", "DE"},
		{"JP", "JP"},
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollapseSpace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"New  York", "New York"},
		{"  Rio   de   Janeiro  ", "Rio de Janeiro"},
		{"Tokyo", "Tokyo"},
		{"\tSan\tJose\n", "San Jose"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CollapseSpace(tt.in); got != tt.want {
			t.Errorf("CollapseSpace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalPostal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"v6b  1a1", "V6B 1A1"},
		{" 33101 ", "33101"},
		{"ec1a 1bb", "EC1A 1BB"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalPostal(tt.in); got != tt.want {
			t.Errorf("CanonicalPostal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComparePostal(t *testing.T) {
	tests := []struct {
		name    string
		country string
		a, b    string
		want    int
	}{
		{"numeric ascending", "US", "33101", "33199", -1},
		{"numeric equal", "US", "33101", "33101", 0},
		{"alphanumeric ascending", "CA", "V6B 1A1", "V6B 1A9", -1},
		{"descending", "DE", "80999", "80331", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComparePostal(tt.country, tt.a, tt.b); got != tt.want {
				t.Errorf("ComparePostal(%q, %q, %q) = %d, want %d", tt.country, tt.a, tt.b, got, tt.want)
			}
		})
	}
}
