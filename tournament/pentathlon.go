package tournament

import (
	"sort"

	"github.com/companyzero/bisonrelay/zkidentity"

	"github.com/kaustubh76/arenaforge/arena"
)

// DefaultPositionPoints is the per-event award table for pentathlon
// standings, best position first.
var DefaultPositionPoints = []int{10, 8, 6, 5, 4, 3, 2, 1}

// pentathlon runs the four base game types as independent round-robin
// mini-events. Each event's finishing positions convert to points; the
// agent with the highest total after the last event wins.
type pentathlon struct {
	roster   []zkidentity.ShortID
	points   []int
	ratingOf RatingFunc

	event  int // 0-based index into arena.BaseGameTypes
	inner  *roundRobin
	totals map[zkidentity.ShortID]int
	done   bool
}

func newPentathlon(roster []zkidentity.ShortID, points []int, ratingOf RatingFunc) *pentathlon {
	if len(points) == 0 {
		points = DefaultPositionPoints
	}
	return &pentathlon{
		roster:   roster,
		points:   points,
		ratingOf: ratingOf,
		totals:   make(map[zkidentity.ShortID]int, len(roster)),
	}
}

func (p *pentathlon) Start() ([]Pairing, error) {
	p.event = 0
	p.inner = newRoundRobin(p.roster)
	pairings, err := p.inner.Start()
	if err != nil {
		return nil, err
	}
	return p.tag(pairings), nil
}

// tag stamps the current event's game type onto emitted pairings.
func (p *pentathlon) tag(pairings []Pairing) []Pairing {
	gt := arena.BaseGameTypes[p.event]
	for i := range pairings {
		pairings[i].GameType = gt
	}
	return pairings
}

func (p *pentathlon) RecordResult(slot int, winner *zkidentity.ShortID) error {
	return p.inner.RecordResult(slot, winner)
}

func (p *pentathlon) RoundComplete() bool { return p.inner.RoundComplete() }

func (p *pentathlon) AdvanceRound() ([]Pairing, error) {
	pairings, err := p.inner.AdvanceRound()
	if err != nil {
		return nil, err
	}
	if !p.inner.Completed() {
		return p.tag(pairings), nil
	}

	// Event finished: convert positions to points.
	for pos, id := range p.inner.FinalRanking() {
		if pos < len(p.points) {
			p.totals[id] += p.points[pos]
		}
	}

	if p.event+1 >= len(arena.BaseGameTypes) {
		p.done = true
		return nil, nil
	}
	p.event++
	p.inner = newRoundRobin(p.roster)
	pairings, err = p.inner.Start()
	if err != nil {
		return nil, err
	}
	return p.tag(pairings), nil
}

func (p *pentathlon) Completed() bool { return p.done }

func (p *pentathlon) Champion() *zkidentity.ShortID {
	if !p.done {
		return nil
	}
	ranking := p.FinalRanking()
	if len(ranking) == 0 {
		return nil
	}
	return &ranking[0]
}

// FinalRanking: total points across events, rating tie-break, then join
// order.
func (p *pentathlon) FinalRanking() []zkidentity.ShortID {
	out := append([]zkidentity.ShortID(nil), p.roster...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := p.totals[out[i]], p.totals[out[j]]
		if ti != tj {
			return ti > tj
		}
		if p.ratingOf != nil {
			ri, rj := p.ratingOf(out[i]), p.ratingOf(out[j])
			if ri != rj {
				return ri > rj
			}
		}
		return false
	})
	return out
}
