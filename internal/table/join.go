package table

import "time"

// JoinKey normalizes a join cell so that "1" matches "1.0" and a timestamp
// matches its date.
func JoinKey(s string) string {
	if f, ok := ParseFloat(s); ok && s != "" {
		return FormatFloat(f)
	}
	if len(s) >= len(DateLayout) {
		if d, err := ParseDate(s); err == nil {
			return d.Format(DateLayout)
		}
	}
	return s
}

// JoinColumns copies columns of other into t where t.on equals other.on.
// The first matching row of other wins; rows without a match stay empty.
// Copied columns are named prefix+name.
func (t *Table) JoinColumns(other *Table, on string, cols []string, prefix string) error {
	left, err := t.Strings(on)
	if err != nil {
		return err
	}
	right, err := other.Strings(on)
	if err != nil {
		return err
	}
	rows := make(map[string]int, len(right))
	for i, v := range right {
		k := JoinKey(v)
		if _, ok := rows[k]; !ok {
			rows[k] = i
		}
	}

	for _, c := range cols {
		src, err := other.Strings(c)
		if err != nil {
			return err
		}
		col := make([]string, t.rows)
		for i, v := range left {
			if r, ok := rows[JoinKey(v)]; ok {
				col[i] = src[r]
			}
		}
		if err := t.SetStrings(prefix+c, col); err != nil {
			return err
		}
	}
	return nil
}

// DateIndex maps each date to its first row.
func DateIndex(dates []time.Time) map[time.Time]int {
	idx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		if _, ok := idx[d]; !ok {
			idx[d] = i
		}
	}
	return idx
}
