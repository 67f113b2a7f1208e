package table

import (
	"math"
	"sort"
	"strings"
)

// Group is a set of rows sharing the same values in the key columns.
type Group struct {
	Key  []string
	Rows []int
}

// GroupBy partitions the rows by the given columns. Cells that parse to the
// same number fall into one group, so "1" and "1.0" are equal; the key keeps
// the text of the first row. Groups are ordered by key, comparing
// numerically when both cells are numbers. Rows keep their original order
// within a group.
func (t *Table) GroupBy(columns ...string) ([]Group, error) {
	cols := make([][]string, len(columns))
	for i, c := range columns {
		col, err := t.Strings(c)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	byKey := make(map[string]int)
	var groups []Group
	for r := 0; r < t.rows; r++ {
		key := make([]string, len(cols))
		norm := make([]string, len(cols))
		for i, col := range cols {
			key[i] = col[r]
			norm[i] = groupCell(col[r])
		}
		k := strings.Join(norm, "\x00")
		idx, ok := byKey[k]
		if !ok {
			idx = len(groups)
			byKey[k] = idx
			groups = append(groups, Group{Key: key})
		}
		groups[idx].Rows = append(groups[idx].Rows, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return CompareKeys(groups[i].Key, groups[j].Key) < 0
	})
	return groups, nil
}

// groupCell is the identity of a cell for grouping: numbers in canonical
// form, anything else verbatim.
func groupCell(s string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	if f, ok := ParseFloat(s); ok && !math.IsNaN(f) {
		return FormatFloat(f)
	}
	return s
}

// CompareKeys orders two keys cell by cell.
func CompareKeys(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := CompareCells(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// CompareCells compares numerically when both cells are numbers and
// lexically otherwise.
func CompareCells(a, b string) int {
	fa, okA := ParseFloat(a)
	fb, okB := ParseFloat(b)
	if okA && okB && strings.TrimSpace(a) != "" && strings.TrimSpace(b) != "" {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return strings.Compare(a, b)
	}
	return strings.Compare(a, b)
}
