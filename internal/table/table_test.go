package table

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	in := "day\tdate\tx\n1\t2020-03-01\t1.5\n2\t2020-03-02\t\n"
	tbl, err := Read(strings.NewReader(in), Tab)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"day", "date", "x"}, tbl.Header())

	x, err := tbl.Floats("x")
	require.NoError(t, err)
	assert.Equal(t, 1.5, x[0])
	assert.True(t, math.IsNaN(x[1]))

	var buf bytes.Buffer
	require.NoError(t, tbl.Write(&buf, Tab))
	assert.Equal(t, in, buf.String())
}

func TestWrite_CellsUnchanged(t *testing.T) {
	testCases := []struct {
		name  string
		cells []string
		delim rune
		want  string
	}{
		{"leading_space", []string{"1", " a"}, Tab, "x\tl\n1\t a\n"},
		{"inner_quote", []string{"1", `say "hi"`}, Tab, "x\tl\n1\tsay \"hi\"\n"},
		{"comma_in_tsv", []string{"1", "a,b"}, Tab, "x\tl\n1\ta,b\n"},
		{"leading_quote", []string{"1", `"q`}, Tab, "x\tl\n1\t\"\"\"q\"\n"},
		{"delimiter_in_cell", []string{"1", "a,b"}, Comma, "x,l\n1,\"a,b\"\n"},
		{"line_break", []string{"1", "a\nb"}, Tab, "x\tl\n1\t\"a\nb\"\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := New("x", "l")
			require.NoError(t, tbl.AppendRow(tc.cells...))

			var buf bytes.Buffer
			require.NoError(t, tbl.Write(&buf, tc.delim))
			assert.Equal(t, tc.want, buf.String())

			back, err := Read(strings.NewReader(buf.String()), tc.delim)
			require.NoError(t, err)
			got, err := back.Strings("l")
			require.NoError(t, err)
			assert.Equal(t, []string{tc.cells[1]}, got)
		})
	}
}

func TestWrite_SingleEmptyColumn(t *testing.T) {
	tbl := New("x")
	require.NoError(t, tbl.AppendRow(""))
	require.NoError(t, tbl.AppendRow("1"))

	var buf bytes.Buffer
	require.NoError(t, tbl.Write(&buf, Tab))
	back, err := Read(&buf, Tab)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Len())
}

func TestRead_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"ragged_row", "a\tb\n1\n"},
		{"duplicate_header", "a\ta\n1\t2\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.input), Tab)
			assert.Error(t, err)
		})
	}
}

func TestNumericDetection(t *testing.T) {
	tbl := New("i", "f", "s", "blank")
	require.NoError(t, tbl.AppendRow("1", "1.5", "a", ""))
	require.NoError(t, tbl.AppendRow("2", "NaN", "2", ""))

	assert.True(t, tbl.IsInteger("i"))
	assert.True(t, tbl.IsNumeric("i"))
	assert.False(t, tbl.IsInteger("f"))
	assert.True(t, tbl.IsNumeric("f"))
	assert.False(t, tbl.IsNumeric("s"))
	assert.True(t, tbl.IsNumeric("blank"))
	assert.False(t, tbl.IsNumeric("missing"))

	_, err := tbl.Floats("s")
	assert.True(t, errors.Is(err, ErrNotNumeric))
	_, err = tbl.Floats("missing")
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestSetColumns(t *testing.T) {
	tbl := New("a")
	require.NoError(t, tbl.AppendRow("x"))
	require.NoError(t, tbl.AppendRow("y"))

	require.NoError(t, tbl.SetFloats("b", []float64{1, math.NaN()}))
	require.NoError(t, tbl.SetConst("c", "k"))
	assert.Error(t, tbl.SetFloats("d", []float64{1}))

	b, _ := tbl.Strings("b")
	assert.Equal(t, []string{"1", ""}, b)
	c, _ := tbl.Strings("c")
	assert.Equal(t, []string{"k", "k"}, c)

	tbl.Drop("a", "nope")
	assert.Equal(t, []string{"b", "c"}, tbl.Header())
	assert.Equal(t, "k", tbl.Cell("c", 1))
}

func TestConcat_UnionOfColumns(t *testing.T) {
	a := New("x", "y")
	require.NoError(t, a.AppendRow("1", "2"))
	b := New("y", "z")
	require.NoError(t, b.AppendRow("3", "4"))

	out := Concat(a, b)
	assert.Equal(t, []string{"x", "y", "z"}, out.Header())
	assert.Equal(t, 2, out.Len())

	x, _ := out.Strings("x")
	y, _ := out.Strings("y")
	z, _ := out.Strings("z")
	if diff := cmp.Diff([][]string{{"1", ""}, {"2", "3"}, {"", "4"}}, [][]string{x, y, z}); diff != "" {
		t.Errorf("concat mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterAndHead(t *testing.T) {
	tbl := New("v")
	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, tbl.AppendRow(v))
	}

	even := tbl.Filter(func(r int) bool { return r%2 == 1 })
	got, _ := even.Strings("v")
	assert.Equal(t, []string{"2", "4"}, got)

	assert.Equal(t, 2, tbl.Head(2).Len())
	assert.Equal(t, 4, tbl.Head(10).Len())
}

func TestGroupBy_NumericOrder(t *testing.T) {
	tbl := New("p", "seed")
	for _, row := range [][]string{{"10", "1"}, {"2", "1"}, {"10", "2"}, {"b", "1"}, {"2", "2"}} {
		require.NoError(t, tbl.AppendRow(row...))
	}

	groups, err := tbl.GroupBy("p")
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, []string{"2"}, groups[0].Key)
	assert.Equal(t, []int{1, 4}, groups[0].Rows)
	assert.Equal(t, []string{"10"}, groups[1].Key)
	assert.Equal(t, []int{0, 2}, groups[1].Rows)
	assert.Equal(t, []string{"b"}, groups[2].Key)

	_, err = tbl.GroupBy("missing")
	assert.Error(t, err)
}

func TestGroupBy_EqualNumbers(t *testing.T) {
	tbl := New("beta", "ci", "seed")
	for _, row := range [][]string{{"1", "0.5", "1"}, {"1.0", "0.50", "2"}, {"1e0", ".5", "3"}, {"2", "0.5", "1"}, {"x", "0.5", "1"}, {"x ", "0.5", "2"}} {
		require.NoError(t, tbl.AppendRow(row...))
	}

	groups, err := tbl.GroupBy("beta", "ci")
	require.NoError(t, err)
	require.Len(t, groups, 4)

	assert.Equal(t, []string{"1", "0.5"}, groups[0].Key)
	assert.Equal(t, []int{0, 1, 2}, groups[0].Rows)
	assert.Equal(t, []string{"2", "0.5"}, groups[1].Key)
	assert.Equal(t, []int{4}, groups[2].Rows)
	assert.Equal(t, []int{5}, groups[3].Rows)
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		want Kind
	}{
		{"_info.txt", KindManifest},
		{"run1.infections.txt.csv", KindInfections},
		{"infections.txt", KindInfections},
		{"run1.infectionEvents.txt", KindInfectionEvents},
		{"3.rValues.txt.csv", KindRValues},
		{"run2.strains.tsv", KindStrains},
		{"run1.infectionsPerActivity.txt.tsv", KindInfectionsPerActivity},
		{"run1.post.infectionsByAge.txt", KindByAge},
		{"run1.post.criticalByAge.txt", KindByAge},
		{"metadata.yaml", KindOther},
		{"summaries/1.zip", KindOther},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.name))
		})
	}
}

func TestReadKind_ValidatesSchema(t *testing.T) {
	good := "date\trValue\tnewContagious\n2020-03-01\t1.2\t10\n"
	tbl, err := ReadKind(strings.NewReader(good), KindRValues)
	require.NoError(t, err)
	assert.Equal(t, KindRValues, tbl.Kind)

	missing := "date\trValue\n2020-03-01\t1.2\n"
	_, err = ReadKind(strings.NewReader(missing), KindRValues)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.True(t, errors.Is(err, ErrInvalidTable))

	badDate := "date\trValue\tnewContagious\n01.03.2020\t1.2\t10\n"
	_, err = ReadKind(strings.NewReader(badDate), KindRValues)
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = ReadKind(strings.NewReader("a\tb\n1\n"), KindRValues)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidTable))

	manifest := "RunScript;Config;RunId;Output;seed\nrun.sh;c.xml;run1;out;4711\n"
	tbl, err = ReadKind(strings.NewReader(manifest), KindManifest)
	require.NoError(t, err)
	assert.Equal(t, "4711", tbl.Cell("seed", 0))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2020-03-06 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, "2020-03-06", d.Format(DateLayout))

	_, err = ParseDate("06.03.2020")
	assert.Error(t, err)
}
