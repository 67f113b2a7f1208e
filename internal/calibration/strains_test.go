package calibration

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/db"
	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
	"github.com/matsim-org/matsim-episim-libs/internal/testutil"
)

func TestAnalyzeStrains(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "calibration-strain-2021-01-01.db"))
	require.NoError(t, err)
	// value, infectiousness; the median of the three best is trial 0
	seedStudy(t, store, "strain", "infectiousness", [][2]float64{{0.1, 1.5}, {0.2, 2}, {0.3, 1}, {0.8, 2.5}})
	require.NoError(t, store.Close())

	cum := make([]float64, 14)
	for i := range cum {
		cum[i] = float64(7 * (i + 1))
	}
	trialDir := filepath.Join("output-strain-2021-01-01", "0")
	writeFile(t, dir, filepath.Join(trialDir, "run_1", "run1.strains.tsv"), strainsTSV())
	writeFile(t, dir, filepath.Join(trialDir, "run_1", "run1.infections.txt"),
		testutil.Infections("2021-01-04", "Köln", testutil.SymptomsSeries(cum)))
	writeFile(t, dir, filepath.Join(trialDir, "run_1", "run1.rValues.txt.csv"), "ignored")
	writeFile(t, dir, "notes.txt", "ignored")

	got, err := AnalyzeStrains(fsutil.OSFileSystem{}, StrainOptions{Dir: dir, Population: 49000})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, got.Write(&buf, table.Comma))
	assert.Equal(t, "date,share,cases,trial,run\n"+
		"2021-01-10,0.25,100,strain-2021-01-01,1\n"+
		"2021-01-17,0.5,100,strain-2021-01-01,1\n", buf.String())
}

func TestAnalyzeStrains_From(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "calibration_2021-01-01.db"))
	require.NoError(t, err)
	seedStudy(t, store, "strain", "infectiousness", [][2]float64{{0.1, 1.5}})
	require.NoError(t, store.Close())

	cum := make([]float64, 14)
	for i := range cum {
		cum[i] = float64(7 * (i + 1))
	}
	runDir := filepath.Join("output-2021-01-01", "0", "run_2")
	writeFile(t, dir, filepath.Join(runDir, "run2.strains.tsv"), strainsTSV())
	writeFile(t, dir, filepath.Join(runDir, "run2.infections.txt"),
		testutil.Infections("2021-01-04", "Köln", testutil.SymptomsSeries(cum)))

	got, err := AnalyzeStrains(fsutil.OSFileSystem{}, StrainOptions{Dir: dir, Population: 49000, From: date("2021-01-11")})
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.Equal(t, "2021-01-17", got.Cell("date", 0))
	assert.Equal(t, "2", got.Cell("run", 0))
	assert.Equal(t, "2021-01-01", got.Cell("trial", 0))
}

func TestAnalyzeStrains_MissingOutput(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "calibration-x.db"))
	require.NoError(t, err)
	seedStudy(t, store, "strain", "infectiousness", [][2]float64{{0.1, 1.5}})
	require.NoError(t, store.Close())

	_, err = AnalyzeStrains(fsutil.OSFileSystem{}, StrainOptions{Dir: dir})
	assert.Error(t, err)
}
