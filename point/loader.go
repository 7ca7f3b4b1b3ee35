package point

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
)

// RequiredColumns are the header columns every definition source must carry.
// Extra columns are ignored.
var RequiredColumns = []string{"alias", "nodeid", "datatype", "initial", "folder", "writable"}

// LoaderConfig controls how the delimited source is read.
type LoaderConfig struct {
	// Delimiter between fields. Zero means comma.
	Delimiter rune
	// Charset of the source: "utf-8" (default), "latin-1"/"iso-8859-1" or
	// "windows-1252".
	Charset string
}

// LoadStats counts the outcome of one Load call. TotalRows always equals
// Loaded + Skipped + Duplicates + Errors.
type LoadStats struct {
	TotalRows  int
	Loaded     int
	Skipped    int
	Duplicates int
	Errors     int
}

// Loader reads point definitions from delimited files and accumulates them
// into a committed Set. A bad row is skipped and counted, never fatal; a
// missing file, missing required columns, or a post-load invariant violation
// is a StructuralError and leaves the previously committed set untouched.
type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
	set    *Set
}

// NewLoader creates a loader with an empty committed set.
func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	return &Loader{cfg: cfg, logger: logger, set: NewSet()}
}

// Definitions returns the committed definition set. Callers must not mutate
// it while a Load is in flight; the manager serializes access.
func (l *Loader) Definitions() *Set { return l.set }

// Reset drops all committed definitions.
func (l *Loader) Reset() { l.set = NewSet() }

// Load reads path and merges its rows into the committed set. Aliases already
// committed by a previous load count as duplicates (first definition wins).
func (l *Loader) Load(path string) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, &errors.StructuralError{Source: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			l.logger.Warn("failed to close definition source", "path", path, "error", cerr)
		}
	}()

	return l.LoadFrom(path, f)
}

// LoadFrom reads definitions from r, using source only for diagnostics.
func (l *Loader) LoadFrom(source string, r io.Reader) (LoadStats, error) {
	decoded, err := l.decode(r)
	if err != nil {
		return LoadStats{}, &errors.StructuralError{Source: source, Err: err}
	}

	cr := csv.NewReader(decoded)
	cr.Comma = l.cfg.Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return LoadStats{}, &errors.StructuralError{Source: source, Err: fmt.Errorf("read header: %w", err)}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return LoadStats{}, &errors.StructuralError{Source: source, Missing: missing}
	}

	// Stage against a copy so a failed load never disturbs the committed set.
	staged := l.set.Clone()
	var stats LoadStats
	row := 1 // header was row 1

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			stats.TotalRows++
			stats.Errors++
			l.logger.Warn("malformed row skipped", "source", source, "row", row, "error", err)
			continue
		}
		stats.TotalRows++

		raw := RawFields{
			Alias:    field(record, columns["alias"]),
			NodeID:   field(record, columns["nodeid"]),
			DataType: field(record, columns["datatype"]),
			Initial:  field(record, columns["initial"]),
			Folder:   field(record, columns["folder"]),
			Writable: field(record, columns["writable"]),
		}

		// Initial and writable have empty-value semantics (zero, false); the
		// identifying fields do not.
		if raw.Alias == "" || raw.NodeID == "" || raw.DataType == "" || raw.Folder == "" {
			stats.Skipped++
			l.logger.Warn("row with empty required field skipped", "source", source, "row", row, "alias", raw.Alias)
			continue
		}

		if staged.Contains(raw.Alias) {
			stats.Duplicates++
			l.logger.Warn("duplicate alias skipped, earlier definition retained",
				"source", source, "row", row, "alias", raw.Alias)
			continue
		}

		def, err := Cast(raw)
		if err != nil {
			stats.Errors++
			l.logger.Warn("row failed validation", "source", source, "row", row, "alias", raw.Alias, "error", err)
			continue
		}

		staged.Add(def)
		stats.Loaded++
	}

	if err := checkSetInvariants(staged); err != nil {
		l.logger.Error("post-load invariant violated, previous definitions kept",
			"source", source, "error", err)
		return stats, &errors.StructuralError{Source: source, Err: err}
	}

	l.set = staged
	l.logger.Info("definitions loaded",
		"source", source,
		"total_rows", stats.TotalRows,
		"loaded", stats.Loaded,
		"skipped", stats.Skipped,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors,
		"committed", l.set.Len())

	return stats, nil
}

func (l *Loader) decode(r io.Reader) (io.Reader, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(l.cfg.Charset)) {
	case "", "utf-8", "utf8":
		enc = unicode.UTF8
	case "latin-1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported charset %q", l.cfg.Charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// checkSetInvariants verifies the whole-set conditions a commit requires:
// non-empty unique aliases, supported types and non-nil, type-conformant
// initial values. Uniqueness is structural in Set; it is still asserted here
// so the commit gate does not depend on Set internals.
func checkSetInvariants(s *Set) error {
	seen := make(map[string]bool, s.Len())
	for _, d := range s.All() {
		if d.Alias == "" {
			return fmt.Errorf("definition with empty alias")
		}
		if seen[d.Alias] {
			return fmt.Errorf("duplicate alias %q in committed set", d.Alias)
		}
		seen[d.Alias] = true
		if d.Type == opcua.TypeNull {
			return fmt.Errorf("alias %q: %w", d.Alias, errors.ErrUnsupportedType)
		}
		if d.Initial == nil {
			return fmt.Errorf("alias %q: nil initial value", d.Alias)
		}
		if !d.Type.Conforms(d.Initial) {
			return fmt.Errorf("alias %q: initial value %T does not conform to %s", d.Alias, d.Initial, d.Type)
		}
	}
	return nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
