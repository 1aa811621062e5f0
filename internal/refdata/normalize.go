package refdata

import "strings"

// NormalizeCode trims and uppercases a lookup code (ISO-2, zone, area).
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CollapseSpace trims a free-text value and collapses internal whitespace
// runs to single spaces. Used for city and state names.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalPostal normalizes a postal code for storage and comparison:
// trimmed, uppercased, internal whitespace collapsed. "v6b  1a1" → "V6B 1A1".
func CanonicalPostal(s string) string {
	return strings.ToUpper(CollapseSpace(s))
}

// ComparePostal orders two canonicalized postal codes for a given country.
// The default collation is lexicographic on the canonical string, which holds
// for both purely numeric (US "33101") and alphanumeric (CA "V6B 1A1")
// formats. Country-specific collations hook in here if one ever diverges.
func ComparePostal(country, a, b string) int {
	return strings.Compare(a, b)
}

// nullIfEmpty maps "" to nil so empty CSV cells become SQL NULLs.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
