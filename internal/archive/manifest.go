package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// ManifestName is the name of the run manifest inside a batch archive.
const ManifestName = "_info.txt"

// Bookkeeping columns present in every manifest.
const (
	ColRunScript = "RunScript"
	ColConfig    = "Config"
	ColRunID     = "RunId"
	ColOutput    = "Output"
	ColSeed      = "seed"
)

// Manifest lists the runs of a batch, one row per run.
type Manifest struct {
	*table.Table
	rows map[string]int
}

// ReadManifest parses a semicolon separated manifest. RunId values must be
// unique.
func ReadManifest(r io.Reader) (*Manifest, error) {
	t, err := table.ReadKind(r, table.KindManifest)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return NewManifest(t)
}

// NewManifest wraps a manifest table and indexes it by RunId.
func NewManifest(t *table.Table) (*Manifest, error) {
	ids, err := t.Strings(ColRunID)
	if err != nil {
		return nil, err
	}
	rows := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := rows[id]; dup {
			return nil, fmt.Errorf("duplicate RunId %q in manifest", id)
		}
		rows[id] = i
	}
	return &Manifest{Table: t, rows: rows}, nil
}

// RunIDs returns the run ids in manifest order.
func (m *Manifest) RunIDs() []string {
	ids, _ := m.Strings(ColRunID)
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Row returns the manifest row of a run, or -1.
func (m *Manifest) Row(runID string) int {
	if i, ok := m.rows[runID]; ok {
		return i
	}
	return -1
}

// Contains reports whether runID is listed.
func (m *Manifest) Contains(runID string) bool {
	_, ok := m.rows[runID]
	return ok
}

// Bytes serialises the manifest.
func (m *Manifest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Write(&buf, table.Semicolon); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
