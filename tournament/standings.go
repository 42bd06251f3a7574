package tournament

import (
	"sort"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// Points awarded per recorded outcome in standings-based formats.
const (
	PointsWin  = 2
	PointsDraw = 1
	PointsLoss = 0
)

// standing is one agent's row in a points table.
type standing struct {
	id     zkidentity.ShortID
	seed   int // join order
	points int
	wins   int
	losses int
	draws  int
}

// standingsTable accumulates results for Swiss, round-robin and
// pentathlon events.
type standingsTable struct {
	rows  map[zkidentity.ShortID]*standing
	order []zkidentity.ShortID
}

func newStandingsTable(roster []zkidentity.ShortID) *standingsTable {
	st := &standingsTable{rows: make(map[zkidentity.ShortID]*standing, len(roster))}
	for i, id := range roster {
		st.rows[id] = &standing{id: id, seed: i}
		st.order = append(st.order, id)
	}
	return st
}

// record applies one match outcome. A nil winner is a draw.
func (st *standingsTable) record(a, b zkidentity.ShortID, winner *zkidentity.ShortID) {
	ra, rb := st.rows[a], st.rows[b]
	if winner == nil {
		ra.points += PointsDraw
		rb.points += PointsDraw
		ra.draws++
		rb.draws++
		return
	}
	win, lose := ra, rb
	if *winner == b {
		win, lose = rb, ra
	}
	win.points += PointsWin
	win.wins++
	lose.losses++
}

// recordBye awards a full win without an opponent.
func (st *standingsTable) recordBye(id zkidentity.ShortID) {
	r := st.rows[id]
	r.points += PointsWin
	r.wins++
}

func (st *standingsTable) pointsOf(id zkidentity.ShortID) int {
	return st.rows[id].points
}

// ranked returns the table sorted by points, then by the supplied
// tie-break chain, then seed.
func (st *standingsTable) ranked(tieBreak func(a, b *standing) (bool, bool)) []zkidentity.ShortID {
	rows := make([]*standing, 0, len(st.order))
	for _, id := range st.order {
		rows = append(rows, st.rows[id])
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].points != rows[j].points {
			return rows[i].points > rows[j].points
		}
		if tieBreak != nil {
			if less, decided := tieBreak(rows[i], rows[j]); decided {
				return less
			}
		}
		return rows[i].seed < rows[j].seed
	})
	out := make([]zkidentity.ShortID, len(rows))
	for i, r := range rows {
		out[i] = r.id
	}
	return out
}
