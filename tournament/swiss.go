package tournament

import (
	"fmt"
	"sort"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// swiss pairs agents with the closest current standings who have not met
// before, over a fixed number of rounds. Repeat pairings are allowed only
// when no fresh opponent exists.
type swiss struct {
	roster     []zkidentity.ShortID
	roundCount int
	ratingOf   RatingFunc

	table  *standingsTable
	played map[pairKey]bool

	round   int
	current []deSlot // reuse the simple slot shape; fromWin unused
}

type pairKey [2]zkidentity.ShortID

func keyFor(a, b zkidentity.ShortID) pairKey {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return pairKey{a, b}
			}
			return pairKey{b, a}
		}
	}
	return pairKey{a, b}
}

func newSwiss(roster []zkidentity.ShortID, roundCount int, ratingOf RatingFunc) *swiss {
	return &swiss{
		roster:     roster,
		roundCount: roundCount,
		ratingOf:   ratingOf,
		table:      newStandingsTable(roster),
		played:     make(map[pairKey]bool),
	}
}

func (sw *swiss) Start() ([]Pairing, error) {
	sw.round = 1
	return sw.pairRound()
}

// pairRound sorts by standings and greedily pairs each agent with the
// nearest-standing unpaired opponent it has not yet played, falling back
// to the nearest repeat only when every candidate is stale. An odd agent
// out receives a bye scored as a win.
func (sw *swiss) pairRound() ([]Pairing, error) {
	order := append([]zkidentity.ShortID(nil), sw.roster...)
	sort.SliceStable(order, func(i, j int) bool {
		pi, pj := sw.table.pointsOf(order[i]), sw.table.pointsOf(order[j])
		if pi != pj {
			return pi > pj
		}
		return sw.rating(order[i]) > sw.rating(order[j])
	})

	used := make(map[zkidentity.ShortID]bool, len(order))
	sw.current = sw.current[:0]
	var pairings []Pairing

	for i, a := range order {
		if used[a] {
			continue
		}
		pick := -1
		// Nearest fresh opponent first.
		for j := i + 1; j < len(order); j++ {
			b := order[j]
			if used[b] || sw.played[keyFor(a, b)] {
				continue
			}
			pick = j
			break
		}
		if pick < 0 {
			// No fresh opponent remains; nearest repeat.
			for j := i + 1; j < len(order); j++ {
				if !used[order[j]] {
					pick = j
					break
				}
			}
		}
		if pick < 0 {
			// Odd agent out: bye.
			sw.table.recordBye(a)
			used[a] = true
			continue
		}
		b := order[pick]
		used[a], used[b] = true, true
		sw.played[keyFor(a, b)] = true
		slot := len(sw.current)
		sw.current = append(sw.current, deSlot{a: a, b: b})
		pairings = append(pairings, Pairing{Slot: slot, A: a, B: b})
	}
	if len(pairings) == 0 {
		return nil, fmt.Errorf("swiss round %d produced no pairings", sw.round)
	}
	return pairings, nil
}

func (sw *swiss) rating(id zkidentity.ShortID) int {
	if sw.ratingOf == nil {
		return 0
	}
	return sw.ratingOf(id)
}

func (sw *swiss) RecordResult(slot int, winner *zkidentity.ShortID) error {
	if slot < 0 || slot >= len(sw.current) {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	s := &sw.current[slot]
	if s.done {
		return ErrSlotAlreadySettled
	}
	s.done = true
	s.winner = winner
	sw.table.record(s.a, s.b, winner)
	return nil
}

func (sw *swiss) RoundComplete() bool {
	for _, s := range sw.current {
		if !s.done {
			return false
		}
	}
	return true
}

func (sw *swiss) AdvanceRound() ([]Pairing, error) {
	if sw.round >= sw.roundCount {
		sw.round = sw.roundCount + 1 // terminal
		return nil, nil
	}
	sw.round++
	return sw.pairRound()
}

func (sw *swiss) Completed() bool { return sw.round > sw.roundCount }

func (sw *swiss) Champion() *zkidentity.ShortID {
	if !sw.Completed() {
		return nil
	}
	ranking := sw.FinalRanking()
	if len(ranking) == 0 {
		return nil
	}
	return &ranking[0]
}

// FinalRanking: points, then rating.
func (sw *swiss) FinalRanking() []zkidentity.ShortID {
	return sw.table.ranked(func(a, b *standing) (bool, bool) {
		ra, rb := sw.rating(a.id), sw.rating(b.id)
		if ra != rb {
			return ra > rb, true
		}
		return false, false
	})
}
