package refdata

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ISOIndex resolves an ISO-2 country code to its canonical uppercase name.
// It is populated once from the newest ISO country CSV export and is
// immutable afterwards, so concurrent readers need no locking.
type ISOIndex struct {
	names map[string]string
}

// iso CSV columns of interest. Name resolution prefers the short name and
// falls back through the full name to the carrier-internal short name.
const (
	isoColCode          = "ISO Country Code"
	isoColShortName     = "ISO Short Name"
	isoColFullName      = "ISO Full Name"
	isoColInternalShort = "DHL Internal Short Name"
)

var (
	defaultISO     *ISOIndex
	defaultISOOnce sync.Once
)

// DefaultISOIndex returns the process-wide index, loading it from dir on
// first call. Subsequent calls ignore dir and return the cached index;
// reloading requires a process restart.
func DefaultISOIndex(dir string) *ISOIndex {
	defaultISOOnce.Do(func() {
		defaultISO = LoadISOIndex(dir)
	})
	return defaultISO
}

// LoadISOIndex builds an index from the newest ISO CSV in dir.
//
// Export filenames embed a timestamp suffix, so the lexicographically
// greatest candidate is the most recent one. A missing or unreadable file
// yields an empty index: every lookup then degrades to identity, so NameFor
// never fails.
func LoadISOIndex(dir string) *ISOIndex {
	idx := &ISOIndex{names: make(map[string]string)}

	path := newestISOFile(dir)
	if path == "" {
		slog.Warn("no ISO country CSV found, lookups degrade to identity", "dir", dir)
		return idx
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("ISO country CSV unreadable, lookups degrade to identity", "path", path, "error", err)
		return idx
	}
	defer f.Close()

	r := csv.NewReader(newSanitizeReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		slog.Warn("ISO country CSV has no header", "path", path, "error", err)
		return idx
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	codeIdx, ok := col[strings.ToLower(isoColCode)]
	if !ok {
		slog.Warn("ISO country CSV missing code column", "path", path, "column", isoColCode)
		return idx
	}

	nameCols := []int{-1, -1, -1}
	for i, name := range []string{isoColShortName, isoColFullName, isoColInternalShort} {
		if pos, ok := col[strings.ToLower(name)]; ok {
			nameCols[i] = pos
		}
	}

	rows := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed row, skip
		}
		if codeIdx >= len(rec) {
			continue
		}
		code := NormalizeCode(rec[codeIdx])
		if code == "" {
			continue
		}
		name := ""
		for _, pos := range nameCols {
			if pos >= 0 && pos < len(rec) {
				if v := strings.TrimSpace(rec[pos]); v != "" {
					name = v
					break
				}
			}
		}
		if name == "" {
			continue
		}
		idx.names[code] = strings.ToUpper(name)
		rows++
	}

	slog.Info("ISO country index loaded", "path", filepath.Base(path), "countries", rows)
	return idx
}

// newestISOFile picks the lexicographically greatest CSV in dir.
func newestISOFile(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

// NameFor returns the canonical uppercase country name for an ISO-2 code.
// Input is trimmed and uppercased first. Empty input returns the empty
// string; an unknown code returns the code itself uppercased.
func (x *ISOIndex) NameFor(iso2 string) string {
	code := NormalizeCode(iso2)
	if code == "" {
		return ""
	}
	if name, ok := x.names[code]; ok {
		return name
	}
	return code
}

// Len reports how many countries the index holds.
func (x *ISOIndex) Len() int { return len(x.names) }
