package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

func TestWriteFile(t *testing.T) {
	df := table.New("day", "district")
	require.NoError(t, df.AppendRow("1", "Berlin"))

	path := filepath.Join(t.TempDir(), "result.csv")
	require.NoError(t, writeFile(path, df))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "day,district\n1,Berlin\n", string(data))
}

func TestWriteFile_CreateError(t *testing.T) {
	df := table.New("day")
	err := writeFile(filepath.Join(t.TempDir(), "missing", "result.csv"), df)
	assert.Error(t, err)
}

func TestParseCSVIntSlice(t *testing.T) {
	got, err := parseCSVIntSlice("0, 5,15")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5, 15}, got)

	got, err = parseCSVIntSlice("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseCSVIntSlice("1,x")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"alpha", "ci"}, splitList("alpha, ci"))
	assert.Nil(t, splitList(""))
}
