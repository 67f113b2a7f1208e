package aggregate

import (
	"strconv"

	"github.com/matsim-org/matsim-episim-libs/internal/archive"
	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

// excluded lists the manifest columns that do not identify a configuration.
var excluded = map[string]bool{
	archive.ColRunScript: true,
	archive.ColConfig:    true,
	archive.ColRunID:     true,
	archive.ColOutput:    true,
	archive.ColSeed:      true,
}

// Group is a set of runs sharing one configuration.
type Group struct {
	Index  int
	Key    []string
	RunIDs []string
}

// Grouping partitions the runs of a manifest by configuration.
type Grouping struct {
	// KeyColumns are the manifest columns that define a configuration, in
	// manifest order.
	KeyColumns []string
	Groups     []Group

	byRun map[string]int
}

// KeyColumns returns the configuration columns of a manifest.
func KeyColumns(m *archive.Manifest) []string {
	var cols []string
	for _, h := range m.Header() {
		if !excluded[h] {
			cols = append(cols, h)
		}
	}
	return cols
}

// GroupManifest groups the runs of m by all columns except the bookkeeping
// columns and seed. Groups are ordered by key and indexed from 0.
func GroupManifest(m *archive.Manifest) (*Grouping, error) {
	cols := KeyColumns(m)
	g := &Grouping{KeyColumns: cols, byRun: make(map[string]int)}

	ids := m.RunIDs()
	var groups []table.Group
	if len(cols) == 0 {
		rows := make([]int, len(ids))
		for i := range rows {
			rows[i] = i
		}
		groups = []table.Group{{Rows: rows}}
	} else {
		var err error
		if groups, err = m.GroupBy(cols...); err != nil {
			return nil, err
		}
	}

	for i, tg := range groups {
		if len(tg.Rows) == 0 {
			continue
		}
		group := Group{Index: i, Key: tg.Key}
		for _, r := range tg.Rows {
			group.RunIDs = append(group.RunIDs, ids[r])
			g.byRun[ids[r]] = i
		}
		g.Groups = append(g.Groups, group)
	}
	return g, nil
}

// GroupOf returns the group index of a run.
func (g *Grouping) GroupOf(runID string) (int, bool) {
	i, ok := g.byRun[runID]
	return i, ok
}

// MinRunID returns the smallest run id of a group, comparing numerically
// where possible.
func (grp Group) MinRunID() string {
	best := ""
	for i, id := range grp.RunIDs {
		if i == 0 || table.CompareCells(id, best) < 0 {
			best = id
		}
	}
	return best
}

// Manifest builds the reduced manifest with one row per group. RunId is the
// group index, seed is dropped and the bookkeeping columns are "na".
func (g *Grouping) Manifest() (*archive.Manifest, error) {
	header := append([]string{archive.ColRunScript, archive.ColConfig, archive.ColRunID, archive.ColOutput}, g.KeyColumns...)
	t := table.New(header...)
	t.Kind = table.KindManifest
	for _, grp := range g.Groups {
		row := append([]string{"na", "na", strconv.Itoa(grp.Index), "na"}, grp.Key...)
		if err := t.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	return archive.NewManifest(t)
}
