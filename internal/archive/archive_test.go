package archive

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-org/matsim-episim-libs/internal/fsutil"
	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
	"github.com/matsim-org/matsim-episim-libs/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const manifest = "RunScript;Config;RunId;Output;p;seed\n" +
	"run.sh;1.xml;run1;out;a;1\n" +
	"run.sh;2.xml;run2;out;a;2\n"

func entryKeys(a *Archive) []string {
	var out []string
	for _, e := range a.Entries {
		out = append(out, e.RunID+"|"+e.Kind)
	}
	return out
}

func TestOpen_FlatLayout(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	data := testutil.Zip(t,
		testutil.NamedFile{Name: ManifestName, Data: manifest},
		testutil.NamedFile{Name: MetadataName, Data: "readme: test batch\nparams:\n  - p\n"},
		testutil.NamedFile{Name: "run1.values.tsv", Data: "x\n1\n"},
		testutil.NamedFile{Name: "run2.values.tsv", Data: "x\n2\n"},
		testutil.NamedFile{Name: "notes.txt", Data: "hello"},
	)
	require.NoError(t, fsys.WriteFile("batch.zip", data, 0644))

	a, err := Open(fsys, "batch.zip")
	require.NoError(t, err)

	assert.Equal(t, []string{"run1", "run2"}, a.Manifest.RunIDs())
	assert.Equal(t, []string{"run1|values.tsv", "run2|values.tsv"}, entryKeys(a))

	require.NotNil(t, a.Metadata)
	assert.Equal(t, "test batch", a.Metadata.Lookup("readme"))
	assert.Empty(t, a.Metadata.Lookup("params"))
	assert.Empty(t, a.Metadata.Lookup("missing"))

	require.Len(t, a.Extras, 2)
	assert.Equal(t, MetadataName, a.Extras[0].Name)
	assert.Equal(t, "notes.txt", a.Extras[1].Name)

	e, ok := a.Find("run2", "values.tsv")
	require.True(t, ok)
	content, err := e.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "x\n2\n", string(content))
}

func TestOpen_NestedLayout(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	inner1 := testutil.Zip(t, testutil.NamedFile{Name: "run1.values.tsv", Data: "x\n1\n"})
	inner2 := testutil.Zip(t,
		testutil.NamedFile{Name: "run2.values.tsv", Data: "x\n2\n"},
		testutil.NamedFile{Name: "stray.values.tsv", Data: "x\n9\n"},
	)
	data := testutil.Zip(t,
		testutil.NamedFile{Name: ManifestName, Data: manifest},
		testutil.NamedFile{Name: "summaries/", Data: ""},
		testutil.NamedFile{Name: "summaries/run1.zip", Data: string(inner1)},
		testutil.NamedFile{Name: "summaries/run2.zip", Data: string(inner2)},
	)
	require.NoError(t, fsys.WriteFile("batch.zip", data, 0644))

	a, err := Open(fsys, "batch.zip")
	require.NoError(t, err)

	assert.Equal(t, []string{"run1|values.tsv", "run2|values.tsv"}, entryKeys(a))
	assert.Equal(t, "summaries/run2.zip", a.Entries[1].Nested)
	assert.Nil(t, a.Metadata)
	assert.Empty(t, a.Extras)
}

func TestOpen_DirectoryLayout(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("batch/_info.txt", []byte(manifest), 0644))
	data := testutil.Zip(t,
		testutil.NamedFile{Name: "run1.infections.txt.csv", Data: "x\n1\n"},
		testutil.NamedFile{Name: "run2.infections.txt.csv", Data: "x\n2\n"},
	)
	require.NoError(t, fsys.WriteFile("batch/summaries.zip", data, 0644))

	a, err := Open(fsys, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"run1|infections.txt.csv", "run2|infections.txt.csv"}, entryKeys(a))
}

func TestOpen_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		files []testutil.NamedFile
	}{
		{"no_manifest", []testutil.NamedFile{{Name: "run1.values.tsv", Data: "x\n1\n"}}},
		{"duplicate_run_id", []testutil.NamedFile{{Name: ManifestName, Data: manifest + "run.sh;3.xml;run1;out;b;1\n"}}},
		{"missing_manifest_column", []testutil.NamedFile{{Name: ManifestName, Data: "RunId;seed\nrun1;1\n"}}},
		{"bad_metadata", []testutil.NamedFile{{Name: ManifestName, Data: manifest}, {Name: MetadataName, Data: "a: [1,\n"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			require.NoError(t, fsys.WriteFile("batch.zip", testutil.Zip(t, tc.files...), 0644))
			_, err := Open(fsys, "batch.zip")
			assert.Error(t, err)
		})
	}

	_, err := Open(fsutil.NewMemoryFileSystem(), "missing.zip")
	assert.Error(t, err)
}

func TestBuild_RoundTrip(t *testing.T) {
	inner, err := Build(File{Name: "0.values.tsv", Data: []byte("x\n1.5\n")})
	require.NoError(t, err)
	data, err := Build(
		File{Name: ManifestName, Data: []byte("RunScript;Config;RunId;Output\nna;na;0;na\n")},
		File{Name: "summaries/0.zip", Data: inner},
	)
	require.NoError(t, err)

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("out.zip", data, 0644))

	a, err := Open(fsys, "out.zip")
	require.NoError(t, err)
	require.Len(t, a.Entries, 1)

	rc, err := a.Entries[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "x\n1.5\n", string(content))
}

func TestSplitName(t *testing.T) {
	id, kind := SplitName("summaries/run12.post.infectionsByAge.txt")
	assert.Equal(t, "run12", id)
	assert.Equal(t, "post.infectionsByAge.txt", kind)

	id, kind = SplitName("noext")
	assert.Equal(t, "noext", id)
	assert.Equal(t, "", kind)
}

func TestManifestBytes(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(manifest))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Row("run2"))
	assert.Equal(t, -1, m.Row("run9"))

	out, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, manifest, string(out))
}
