package metrics

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/matsim-org/matsim-episim-libs/internal/table"
)

const secondsPerDay = 86400

// censoredDays is the tail of the interval whose infections are not
// counted, since their transmission window is cut off.
const censoredDays = 4

// event is one row of an infection event log.
type event struct {
	infector, infected string
	time               float64
}

func readEvents(r io.Reader) ([]event, error) {
	t, err := table.ReadKind(r, table.KindInfectionEvents)
	if err != nil {
		return nil, fmt.Errorf("infection events: %w", err)
	}
	infector, _ := t.Strings("infector")
	infected, _ := t.Strings("infected")
	times, err := t.Floats("time")
	if err != nil {
		return nil, err
	}
	out := make([]event, t.Len())
	for i := range out {
		out[i] = event{infector: infector[i], infected: infected[i], time: times[i]}
	}
	return out, nil
}

// transmissionGraph links infectors to the persons they infected. The edge
// weight counts the infection events between the pair.
type transmissionGraph struct {
	g   *simple.WeightedDirectedGraph
	ids map[string]int64
}

func newTransmissionGraph() *transmissionGraph {
	return &transmissionGraph{
		g:   simple.NewWeightedDirectedGraph(0, 0),
		ids: make(map[string]int64),
	}
}

func (tg *transmissionGraph) node(person string) int64 {
	if id, ok := tg.ids[person]; ok {
		return id
	}
	n := tg.g.NewNode()
	tg.g.AddNode(n)
	tg.ids[person] = n.ID()
	return n.ID()
}

func (tg *transmissionGraph) add(ev event) {
	to := tg.node(ev.infected)
	if ev.infector == "" || ev.infector == ev.infected {
		return
	}
	from := tg.node(ev.infector)
	w := 1.0
	if e := tg.g.WeightedEdge(from, to); e != nil {
		w += e.Weight()
	}
	tg.g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(from), T: simple.Node(to), W: w})
}

// secondary returns the number of infections caused by person.
func (tg *transmissionGraph) secondary(person string) int {
	id, ok := tg.ids[person]
	if !ok {
		return 0
	}
	var n float64
	to := tg.g.From(id)
	for to.Next() {
		n += tg.g.WeightedEdge(id, to.Node().ID()).Weight()
	}
	return int(n)
}

// ReinfectionNumber estimates the mean number of secondary infections from
// an infection event log. Only events within the first days are used.
// Persons infected in the last four days of that interval are not relevant.
// Relevant persons that never infect anyone in the whole log count as zero,
// relevant infectors count with their infections inside the interval.
// It returns the mean and its squared error against target, or
// (0, target^2) when there is no relevant person.
func ReinfectionNumber(r io.Reader, target float64, days int) (mean, sqErr float64, err error) {
	events, err := readEvents(r)
	if err != nil {
		return 0, 0, err
	}

	limit := float64(days * secondsPerDay)
	relevantLimit := float64((days - censoredDays) * secondsPerDay)

	window := newTransmissionGraph()
	everInfects := make(map[string]bool)
	relevant := make(map[string]bool)
	var order []string
	for _, ev := range events {
		if ev.infector != "" {
			everInfects[ev.infector] = true
		}
		if ev.time <= relevantLimit && !relevant[ev.infected] {
			relevant[ev.infected] = true
			order = append(order, ev.infected)
		}
		if ev.time <= limit {
			window.add(ev)
		}
	}

	var counts []float64
	for _, p := range order {
		switch {
		case !everInfects[p]:
			counts = append(counts, 0)
		case window.secondary(p) > 0:
			counts = append(counts, float64(window.secondary(p)))
		}
	}
	if len(counts) == 0 {
		return 0, target * target, nil
	}

	var sum float64
	for _, c := range counts {
		sum += c
	}
	mean = sum / float64(len(counts))
	return mean, (mean - target) * (mean - target), nil
}

// SecondaryInfections returns the sorted number of secondary infections of
// every person in an infection event log, including zeros for persons that
// never infect anyone.
func SecondaryInfections(r io.Reader) ([]int, error) {
	events, err := readEvents(r)
	if err != nil {
		return nil, err
	}
	tg := newTransmissionGraph()
	for _, ev := range events {
		tg.add(ev)
	}
	out := make([]int, 0, len(tg.ids))
	for p := range tg.ids {
		out = append(out, tg.secondary(p))
	}
	sort.Ints(out)
	return out, nil
}
