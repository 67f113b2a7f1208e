// Package table holds delimited result tables as read from simulation output
// archives and reference data files. Cells are kept as text so tables can be
// written back unchanged; numeric views are parsed on demand.
package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Delimiters used by the simulator and the reference data.
const (
	Tab       = '\t'
	Semicolon = ';'
	Comma     = ','
)

var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrNotNumeric is returned when a column is expected to be numeric.
	ErrNotNumeric = errors.New("column is not numeric")
	// ErrInvalidTable is returned by ReadKind when a parsed table does not
	// satisfy the schema of its kind.
	ErrInvalidTable = errors.New("invalid table")
)

// Table is a column-major text table.
type Table struct {
	Kind    Kind
	header  []string
	index   map[string]int
	columns [][]string
	rows    int
}

// New creates an empty table with the given header.
func New(header ...string) *Table {
	t := &Table{index: make(map[string]int, len(header))}
	for _, h := range header {
		t.addColumn(h, nil)
	}
	return t
}

// Read parses a delimited table with a header line.
func Read(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := New(header...)
	if len(t.header) != len(header) {
		return nil, fmt.Errorf("duplicate column names in header %v", header)
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && rec[0] == "" && len(header) > 1 {
			continue
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(rec))
		}
		for i, v := range rec {
			t.columns[i] = append(t.columns[i], v)
		}
		t.rows++
	}

	return t, nil
}

// Write serialises the table with the given delimiter. Lines end with \n.
// Cells are written as they are; only a cell holding the delimiter, a line
// break or a leading quote is quoted, so Read gives back the same text.
func (t *Table) Write(w io.Writer, delim rune) error {
	bw := bufio.NewWriter(w)
	writeRecord(bw, t.header, delim)
	rec := make([]string, len(t.header))
	for r := 0; r < t.rows; r++ {
		for c := range t.header {
			rec[c] = t.columns[c][r]
		}
		writeRecord(bw, rec, delim)
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, rec []string, delim rune) {
	for i, v := range rec {
		if i > 0 {
			w.WriteRune(delim)
		}
		if needsQuotes(v, delim) || (len(rec) == 1 && v == "") {
			w.WriteByte('"')
			w.WriteString(strings.ReplaceAll(v, `"`, `""`))
			w.WriteByte('"')
		} else {
			w.WriteString(v)
		}
	}
	w.WriteByte('\n')
}

func needsQuotes(v string, delim rune) bool {
	return strings.HasPrefix(v, `"`) || strings.ContainsRune(v, delim) || strings.ContainsAny(v, "\r\n")
}

// AppendRow adds one row. The number of values must match the header.
func (t *Table) AppendRow(values ...string) error {
	if len(values) != len(t.header) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.header))
	}
	for i, v := range values {
		t.columns[i] = append(t.columns[i], v)
	}
	t.rows++
	return nil
}

// Header returns the column names in order.
func (t *Table) Header() []string {
	out := make([]string, len(t.header))
	copy(out, t.header)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Strings returns the raw cells of a column.
func (t *Table) Strings(name string) ([]string, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return t.columns[i], nil
}

// Cell returns a single raw cell, or "" when the column does not exist.
func (t *Table) Cell(name string, row int) string {
	i, ok := t.index[name]
	if !ok {
		return ""
	}
	return t.columns[i][row]
}

// Floats parses a column as float64. Empty cells become NaN.
func (t *Table) Floats(name string) ([]float64, error) {
	col, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(col))
	for i, v := range col {
		f, ok := ParseFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s row %d value %q", ErrNotNumeric, name, i, v)
		}
		out[i] = f
	}
	return out, nil
}

// Ints parses a column as integers.
func (t *Table) Ints(name string) ([]int64, error) {
	col, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(col))
	for i, v := range col {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s row %d: %w", name, i, err)
		}
		out[i] = n
	}
	return out, nil
}

// IsNumeric reports whether every cell of the column parses as a number.
// Empty cells count as missing values.
func (t *Table) IsNumeric(name string) bool {
	col, err := t.Strings(name)
	if err != nil {
		return false
	}
	for _, v := range col {
		if _, ok := ParseFloat(v); !ok {
			return false
		}
	}
	return true
}

// IsInteger reports whether every cell of the column is an integer literal.
func (t *Table) IsInteger(name string) bool {
	col, err := t.Strings(name)
	if err != nil {
		return false
	}
	for _, v := range col {
		if _, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
			return false
		}
	}
	return true
}

// SetStrings adds or replaces a column. The length must match the table
// unless the table has no columns yet.
func (t *Table) SetStrings(name string, values []string) error {
	if len(t.header) > 0 && len(values) != t.rows {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), t.rows)
	}
	if len(t.header) == 0 {
		t.rows = len(values)
	}
	col := make([]string, len(values))
	copy(col, values)
	if i, ok := t.index[name]; ok {
		t.columns[i] = col
		return nil
	}
	t.addColumn(name, col)
	return nil
}

// SetFloats adds or replaces a numeric column. NaN is written as an empty cell.
func (t *Table) SetFloats(name string, values []float64) error {
	col := make([]string, len(values))
	for i, v := range values {
		col[i] = FormatFloat(v)
	}
	return t.SetStrings(name, col)
}

// SetConst adds or replaces a column holding the same value in every row.
func (t *Table) SetConst(name, value string) error {
	col := make([]string, t.rows)
	for i := range col {
		col[i] = value
	}
	return t.SetStrings(name, col)
}

// Drop removes columns; unknown names are ignored.
func (t *Table) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	header := t.header[:0:0]
	columns := t.columns[:0:0]
	for i, h := range t.header {
		if drop[h] {
			continue
		}
		header = append(header, h)
		columns = append(columns, t.columns[i])
	}
	t.header = header
	t.columns = columns
	t.reindex()
}

// Select returns a new table holding only the given rows in that order.
func (t *Table) Select(rows []int) *Table {
	out := New(t.header...)
	out.Kind = t.Kind
	for c := range t.columns {
		col := make([]string, len(rows))
		for i, r := range rows {
			col[i] = t.columns[c][r]
		}
		out.columns[c] = col
	}
	out.rows = len(rows)
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var rows []int
	for r := 0; r < t.rows; r++ {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return t.Select(rows)
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n > t.rows {
		n = t.rows
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return t.Select(rows)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	return t.Head(t.rows)
}

// Concat stacks tables vertically. The header is the union of all headers in
// order of first appearance; cells of missing columns are empty.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		for _, h := range t.header {
			if !out.Has(h) {
				out.addColumn(h, nil)
			}
		}
	}
	for _, t := range tables {
		for c, h := range out.header {
			i, ok := t.index[h]
			if ok {
				out.columns[c] = append(out.columns[c], t.columns[i]...)
				continue
			}
			out.columns[c] = append(out.columns[c], make([]string, t.rows)...)
		}
		out.rows += t.rows
	}
	if len(tables) > 0 {
		out.Kind = tables[0].Kind
	}
	return out
}

func (t *Table) addColumn(name string, col []string) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if _, ok := t.index[name]; ok {
		return
	}
	if col == nil {
		col = make([]string, t.rows)
	}
	t.index[name] = len(t.header)
	t.header = append(t.header, name)
	t.columns = append(t.columns, col)
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.header))
	for i, h := range t.header {
		t.index[h] = i
	}
}

// ParseFloat parses a numeric cell. Empty cells are NaN.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatFloat renders a value in the shortest exact form; NaN is empty.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
