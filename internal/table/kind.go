package table

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind identifies the type of a result file.
type Kind int

const (
	KindOther Kind = iota
	KindInfections
	KindInfectionEvents
	KindRValues
	KindStrains
	KindInfectionsPerActivity
	KindByAge
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindInfections:
		return "infections"
	case KindInfectionEvents:
		return "infection-events"
	case KindRValues:
		return "r-values"
	case KindStrains:
		return "strains"
	case KindInfectionsPerActivity:
		return "infections-per-activity"
	case KindByAge:
		return "by-age"
	case KindManifest:
		return "manifest"
	default:
		return "other"
	}
}

// KindOf maps a result file name, with or without the run id prefix, to its
// kind. Unknown names map to KindOther.
func KindOf(name string) Kind {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	switch {
	case base == "_info.txt":
		return KindManifest
	case hasSegment(base, "infections.txt"):
		return KindInfections
	case hasSegment(base, "infectionEvents.txt"):
		return KindInfectionEvents
	case hasSegment(base, "rValues.txt"):
		return KindRValues
	case hasSegment(base, "strains.tsv"):
		return KindStrains
	case hasSegment(base, "infectionsPerActivity.txt"):
		return KindInfectionsPerActivity
	case strings.Contains(base, "ByAge.txt"):
		return KindByAge
	default:
		return KindOther
	}
}

// hasSegment reports whether name is seg or has seg as a dot separated
// component sequence, e.g. "run3.infections.txt.csv" contains "infections.txt".
func hasSegment(name, seg string) bool {
	return name == seg || strings.HasPrefix(name, seg+".") ||
		strings.HasSuffix(name, "."+seg) || strings.Contains(name, "."+seg+".")
}

// ColumnType is the expected type of a schema column.
type ColumnType int

const (
	String ColumnType = iota
	Float
	Integer
	Date
)

// Column is a required column of a schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema lists the columns a kind must provide. Extra columns are allowed.
type Schema []Column

// DateLayout is the ISO date format used in simulator output.
const DateLayout = "2006-01-02"

var schemas = map[Kind]Schema{
	KindInfections: {
		{"day", Integer},
		{"date", Date},
		{"district", String},
		{"nSusceptible", Float},
		{"nShowingSymptomsCumulative", Float},
		{"nSeriouslySick", Float},
		{"nCritical", Float},
		{"nTotalInfected", Float},
		{"nInfectedCumulative", Float},
		{"nContagiousCumulative", Float},
	},
	KindInfectionEvents: {
		{"time", Float},
		{"infector", String},
		{"infected", String},
	},
	KindRValues: {
		{"date", Date},
		{"rValue", Float},
		{"newContagious", Float},
	},
	KindStrains: {
		{"day", Integer},
		{"date", Date},
	},
	KindInfectionsPerActivity: {
		{"date", Date},
		{"activity", String},
		{"infections", Float},
		{"infectionsShare", Float},
	},
	KindManifest: {
		{"RunScript", String},
		{"Config", String},
		{"RunId", String},
		{"Output", String},
	},
}

// SchemaOf returns the schema for a kind. Kinds without a fixed layout
// return nil.
func SchemaOf(k Kind) Schema {
	return schemas[k]
}

// Validate checks that t satisfies the schema.
func (s Schema) Validate(t *Table) error {
	for _, c := range s {
		if !t.Has(c.Name) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, c.Name)
		}
		switch c.Type {
		case Float:
			if !t.IsNumeric(c.Name) {
				return fmt.Errorf("%w: %s", ErrNotNumeric, c.Name)
			}
		case Integer:
			if !t.IsInteger(c.Name) {
				return fmt.Errorf("column %s is not integer", c.Name)
			}
		case Date:
			if _, err := t.Dates(c.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadKind reads a table of the given kind and validates its schema.
func ReadKind(r io.Reader, k Kind) (*Table, error) {
	delim := Tab
	if k == KindManifest {
		delim = Semicolon
	}
	t, err := Read(r, delim)
	if err != nil {
		return nil, err
	}
	if err := SchemaOf(k).Validate(t); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTable, k, err)
	}
	t.Kind = k
	return t, nil
}

// Dates parses an ISO date column.
func (t *Table) Dates(name string) ([]time.Time, error) {
	col, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(col))
	for i, v := range col {
		d, err := ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("column %s row %d: %w", name, i, err)
		}
		out[i] = d
	}
	return out, nil
}

// ParseDate parses an ISO date. Timestamps are truncated to the date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}
