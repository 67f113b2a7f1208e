package metrics

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/reference"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func date(s string) time.Time {
	d, err := time.Parse(table.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPercentageError(t *testing.T) {
	pe, err := PercentageError([]float64{5, 25}, []float64{3, 20})
	require.NoError(t, err)
	require.Len(t, pe, 2)
	assert.InDelta(t, 2.0/15, pe[0], 1e-12)
	assert.InDelta(t, 0.2, pe[1], 1e-12)

	mape, err := MeanAbsolutePercentageError([]float64{5, 25}, []float64{3, 20})
	require.NoError(t, err)
	assert.InDelta(t, (2.0/15+0.2)/2*100, mape, 1e-9)

	_, err = PercentageError([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
	_, err = PercentageError(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMSLE(t *testing.T) {
	y := []float64{0, 1, 5, 12.5, 100}

	t.Run("identity", func(t *testing.T) {
		e, err := MSLE(y, y)
		require.NoError(t, err)
		assert.Equal(t, 0.0, e)
	})

	t.Run("longer_prediction_is_truncated", func(t *testing.T) {
		for k := 1; k <= 3; k++ {
			pred := append(append([]float64{}, y...), make([]float64, k)...)
			for i := len(y); i < len(pred); i++ {
				pred[i] = y[len(y)-1]
			}
			got, err := MSLE(y, pred)
			require.NoError(t, err)
			want, err := MSLE(y, pred[:len(y)])
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("shorter_prediction_is_edge_padded", func(t *testing.T) {
		got, err := MSLE([]float64{1, 2, 3}, []float64{1, 2})
		require.NoError(t, err)
		d := math.Log(4) - math.Log(3)
		assert.InDelta(t, d*d/3, got, 1e-12)
	})

	t.Run("value", func(t *testing.T) {
		got, err := MSLE([]float64{math.E - 1}, []float64{0})
		require.NoError(t, err)
		assert.InDelta(t, 1, got, 1e-12)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := MSLE([]float64{1, -1}, []float64{1, 1})
		assert.ErrorIs(t, err, ErrNegativeInput)
		_, err = MSLE([]float64{1}, []float64{-2})
		assert.ErrorIs(t, err, ErrNegativeInput)
		_, err = MSLE(nil, []float64{1})
		assert.ErrorIs(t, err, ErrEmptyInput)
		_, err = MSLE([]float64{1}, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
		_, err = MSLE([]float64{math.NaN()}, []float64{1})
		assert.Error(t, err)
	})
}

const eventsHeader = "time\tinfector\tinfected\tdistrict\tinfectionType\n"

func events(rows ...string) string {
	var sb strings.Builder
	sb.WriteString(eventsHeader)
	for _, r := range rows {
		sb.WriteString(r)
		sb.WriteString("\tBerlin\thome_home\n")
	}
	return sb.String()
}

func ev(day float64, infector, infected string) string {
	return fmt.Sprintf("%v\t%s\t%s", day*secondsPerDay, infector, infected)
}

func TestReinfectionNumber(t *testing.T) {
	log := events(
		ev(1, "a", "b"),
		ev(2, "a", "c"),
		ev(2.5, "a", "g"),
		ev(3, "b", "d"),
		ev(8, "c", "e"),
		ev(12, "d", "f"),
	)

	mean, sqErr, err := ReinfectionNumber(strings.NewReader(log), 2.5, 10)
	require.NoError(t, err)
	// b and c infect once in the window, g never infects, d only after it
	assert.InDelta(t, 2.0/3, mean, 1e-12)
	assert.InDelta(t, (2.0/3-2.5)*(2.0/3-2.5), sqErr, 1e-12)
}

func TestReinfectionNumber_Degenerate(t *testing.T) {
	testCases := []struct {
		name string
		log  string
	}{
		{"empty", events()},
		{"only_censored", events(ev(9, "a", "b"))},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mean, sqErr, err := ReinfectionNumber(strings.NewReader(tc.log), 2.5, 10)
			require.NoError(t, err)
			assert.Equal(t, 0.0, mean)
			assert.Equal(t, 2.5*2.5, sqErr)
		})
	}
}

func TestReinfectionNumber_InvalidLog(t *testing.T) {
	_, _, err := ReinfectionNumber(strings.NewReader("time\tinfected\n1\ta\n"), 2.5, 10)
	assert.ErrorIs(t, err, table.ErrMissingColumn)
}

func TestSecondaryInfections(t *testing.T) {
	got, err := SecondaryInfections(strings.NewReader(events(
		ev(1, "a", "b"),
		ev(2, "a", "c"),
		ev(2.5, "a", "g"),
		ev(3, "b", "d"),
		ev(8, "c", "e"),
		ev(12, "d", "f"),
	)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 3}, got)

	got, err = SecondaryInfections(strings.NewReader(events(ev(1, "a", "b"), ev(2, "a", "b"))))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, got)
}

func infectionsWithTotals(district string, totals []float64) string {
	return testutil.Infections("2020-03-01", district, testutil.SymptomsSeries(totals))
}

func TestInfectionRate(t *testing.T) {
	totals := []float64{10, 10, 20, 40, 80, 160, 320, 640}
	other := infectionsWithTotals("Munich", []float64{1, 1, 1, 1, 1, 1, 1, 1})
	data := infectionsWithTotals("Berlin", totals) + strings.SplitN(other, "\n", 2)[1]

	testCases := []struct {
		name     string
		target   float64
		interval int
		days     int
		wantMean float64
		wantMSE  float64
	}{
		{"doubling", 1.5, 1, 3, 2, 0.25},
		{"start_moved_back", 2, 1, 10, 13.0 / 7, 1.0 / 7},
		{"two_day_interval", 4, 2, 2, 3, 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mean, mse, err := InfectionRate(strings.NewReader(data), "Berlin", tc.target, tc.interval, tc.days)
			require.NoError(t, err)
			assert.InDelta(t, tc.wantMean, mean, 1e-12)
			assert.InDelta(t, tc.wantMSE, mse, 1e-12)
		})
	}

	_, _, err := InfectionRate(strings.NewReader(data), "Hamburg", 2, 3, 15)
	assert.Error(t, err)
}

const hospitalCSV = "Datum,Stationäre Behandlung,Intensivmedizin\n" +
	"03.03.2020,0.3,0.15\n" +
	"04.03.2020,0.6,0.3\n" +
	"05.03.2020,1,0.5\n" +
	"06.03.2020,1.5,0.75\n" +
	"07.03.2020,2.1,1.05\n" +
	"08.03.2020,3,2\n"

const casesCSV = "year,month,day,cases\n" +
	"2020,3,1,0\n" +
	"2020,3,2,1\n" +
	"2020,3,3,2\n" +
	"2020,3,4,3\n" +
	"2020,3,5,4\n" +
	"2020,3,6,5\n" +
	"2020,3,7,6\n"

func multiData(t *testing.T) *Data {
	t.Helper()
	sim := infectionsWithTotals("Berlin", []float64{0, 1, 3, 6, 10, 15, 21})
	d, err := ReadData(strings.NewReader(sim), "Berlin", strings.NewReader(hospitalCSV), strings.NewReader(casesCSV), 2)
	require.NoError(t, err)
	return d
}

func TestCalcMultiError(t *testing.T) {
	d := multiData(t)

	res, err := CalcMultiError(d, date("2020-03-03"), date("2020-03-07"), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Sick, 1e-12)
	assert.InDelta(t, 0, res.Critical, 1e-12)
	assert.InDelta(t, 0, res.Cases, 1e-12)
	assert.Equal(t, date("2020-03-07"), res.Peak)
	assert.InDelta(t, 2, res.DZ, 1e-12)
}

func TestCalcMultiError_AssumedDZ(t *testing.T) {
	d := multiData(t)

	res, err := CalcMultiError(d, date("2020-03-03"), date("2020-03-07"), 2)
	require.NoError(t, err)

	var want float64
	smoothed := []float64{1.5, 2.5, 3.5, 4.5, 5.5}
	for _, x := range smoothed {
		diff := math.Log1p(2*x) - math.Log1p(x)
		want += diff * diff
	}
	want /= float64(len(smoothed))
	assert.InDelta(t, want, res.Cases, 1e-12)
}

func TestCalcMultiError_EmptyWindow(t *testing.T) {
	d := multiData(t)
	_, err := CalcMultiError(d, date("2021-01-01"), date("2021-02-01"), 1)
	assert.Error(t, err)
}

func incidenceData(t *testing.T, ref string) *IncidenceData {
	t.Helper()
	cum := make([]float64, 14)
	for i := range cum {
		cum[i] = float64(7 * (i + 1))
	}
	sim := testutil.Infections("2021-01-04", "Köln", testutil.SymptomsSeries(cum))
	d, err := ReadIncidence(strings.NewReader(sim), "Köln", strings.NewReader(ref), 5)
	require.NoError(t, err)
	return d
}

func TestCalcIncidenceError(t *testing.T) {
	start, end := date("2021-01-04"), date("2021-01-31")

	t.Run("matching", func(t *testing.T) {
		d := incidenceData(t, "date,incidence\n2021-01-10,100\n2021-01-17,100\n")
		res, err := CalcIncidenceError(d, start, end, IncidenceOptions{Population: 49000})
		require.NoError(t, err)
		assert.Equal(t, []time.Time{date("2021-01-10"), date("2021-01-17")}, res.Weeks)
		assert.Equal(t, []float64{100, 100}, res.Sim)
		assert.InDelta(t, 0, res.Error, 1e-12)
	})

	t.Run("mismatch", func(t *testing.T) {
		d := incidenceData(t, "date,incidence\n2021-01-10,100\n2021-01-17,200\n")
		res, err := CalcIncidenceError(d, start, end, IncidenceOptions{Population: 49000})
		require.NoError(t, err)
		diff := math.Log(201) - math.Log(101)
		assert.InDelta(t, diff*diff/2, res.Error, 1e-12)
	})

	t.Run("weights", func(t *testing.T) {
		d := incidenceData(t, "date,incidence\n2021-01-10,100\n2021-01-17,200\n")
		res, err := CalcIncidenceError(d, start, end, IncidenceOptions{
			Population: 49000,
			SimWeights: map[time.Time]float64{date("2021-01-10"): 0.5},
			RefWeights: map[time.Time]float64{date("2021-01-10"): 0.5, date("2021-01-17"): 1},
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{50}, res.Sim)
		assert.Equal(t, []float64{50}, res.Ref)
		assert.InDelta(t, 0, res.Error, 1e-12)
	})

	t.Run("invalid_population", func(t *testing.T) {
		d := incidenceData(t, "date,incidence\n2021-01-10,100\n")
		_, err := CalcIncidenceError(d, start, end, IncidenceOptions{})
		assert.Error(t, err)
	})
}

func strainsTable() string {
	rows := [][]string{{"day", "date", "ALPHA", "WILD"}}
	d0 := date("2021-01-04")
	for i := 0; i < 14; i++ {
		alpha, wild := "1", "3"
		switch {
		case i == 2:
			alpha, wild = "0", "0"
		case i >= 7:
			wild = "1"
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), d0.AddDate(0, 0, i).Format(table.DateLayout), alpha, wild})
	}
	return testutil.TSV(rows...)
}

func TestCalcStrainError(t *testing.T) {
	ref, err := reference.ReadStrainShares(strings.NewReader("date,ALPHA\n2021-01-06,0.25\n2021-01-17,0.5\n"), "ALPHA")
	require.NoError(t, err)

	res, err := CalcStrainError(strings.NewReader(strainsTable()), "ALPHA", ref, date("2021-01-01"), date("2021-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date("2021-01-10"), date("2021-01-17")}, res.Weeks)
	assert.Equal(t, []float64{0.25, 0.5}, res.Sim)
	assert.Equal(t, []float64{0.25, 0.5}, res.Ref)
	assert.InDelta(t, 0, res.Error, 1e-12)

	sim, refByWeek := res.ByWeek()
	assert.Equal(t, 0.5, sim[date("2021-01-17")])
	assert.Equal(t, 0.25, refByWeek[date("2021-01-10")])

	_, err = CalcStrainError(strings.NewReader(strainsTable()), "BETA", ref, date("2021-01-01"), date("2021-01-31"))
	assert.Error(t, err)
}
