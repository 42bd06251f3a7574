package tournament

import (
	"fmt"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// roundRobin schedules every pair exactly once using the circle method:
// one seat is held fixed while the rest rotate, producing n-1 rounds of
// n/2 pairings (odd rosters carry a rotating bye that is not scored).
type roundRobin struct {
	roster []zkidentity.ShortID
	table  *standingsTable

	schedule [][]deSlot // all rounds, built at start
	round    int        // 1-based
}

func newRoundRobin(roster []zkidentity.ShortID) *roundRobin {
	return &roundRobin{
		roster: roster,
		table:  newStandingsTable(roster),
	}
}

func (rr *roundRobin) Start() ([]Pairing, error) {
	// Rotation slots hold roster indexes; -1 is the dummy seat padding
	// odd rosters.
	n := len(rr.roster)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if n%2 != 0 {
		idx = append(idx, -1)
		n++
	}

	rounds := n - 1
	half := n / 2
	for r := 0; r < rounds; r++ {
		var slots []deSlot
		for i := 0; i < half; i++ {
			p1, p2 := idx[i], idx[n-1-i]
			if p1 < 0 || p2 < 0 {
				continue
			}
			slots = append(slots, deSlot{a: rr.roster[p1], b: rr.roster[p2]})
		}
		rr.schedule = append(rr.schedule, slots)
		// Rotate all but the first seat.
		idx = append([]int{idx[0], idx[n-1]}, idx[1:n-1]...)
	}

	rr.round = 1
	return rr.emit()
}

func (rr *roundRobin) emit() ([]Pairing, error) {
	slots := rr.schedule[rr.round-1]
	out := make([]Pairing, len(slots))
	for i, s := range slots {
		out[i] = Pairing{Slot: i, A: s.a, B: s.b}
	}
	return out, nil
}

func (rr *roundRobin) RecordResult(slot int, winner *zkidentity.ShortID) error {
	slots := rr.schedule[rr.round-1]
	if slot < 0 || slot >= len(slots) {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	s := &slots[slot]
	if s.done {
		return ErrSlotAlreadySettled
	}
	s.done = true
	s.winner = winner
	rr.table.record(s.a, s.b, winner)
	return nil
}

func (rr *roundRobin) RoundComplete() bool {
	for _, s := range rr.schedule[rr.round-1] {
		if !s.done {
			return false
		}
	}
	return true
}

func (rr *roundRobin) AdvanceRound() ([]Pairing, error) {
	if rr.round >= len(rr.schedule) {
		rr.round = len(rr.schedule) + 1 // terminal
		return nil, nil
	}
	rr.round++
	return rr.emit()
}

func (rr *roundRobin) Completed() bool { return rr.round > len(rr.schedule) }

func (rr *roundRobin) Champion() *zkidentity.ShortID {
	if !rr.Completed() {
		return nil
	}
	ranking := rr.FinalRanking()
	if len(ranking) == 0 {
		return nil
	}
	return &ranking[0]
}

// FinalRanking: points, then wins, then win-minus-loss differential.
func (rr *roundRobin) FinalRanking() []zkidentity.ShortID {
	return rr.table.ranked(func(a, b *standing) (bool, bool) {
		if a.wins != b.wins {
			return a.wins > b.wins, true
		}
		da, db := a.wins-a.losses, b.wins-b.losses
		if da != db {
			return da > db, true
		}
		return false, false
	})
}

// MatchCount reports the total scheduled pairings, n(n-1)/2 for a full
// roster.
func (rr *roundRobin) MatchCount() int {
	total := 0
	for _, slots := range rr.schedule {
		total += len(slots)
	}
	return total
}
