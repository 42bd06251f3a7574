package tournament

import (
	"fmt"
	"sort"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// elimSlot is one node of the bracket graph. Slots reference the slot
// their winner feeds into by index, never by pointer, which keeps the
// bracket an acyclic arena that is trivially serializable.
type elimSlot struct {
	round int // 1-based bracket round
	pos   int // position within the round
	a, b  *zkidentity.ShortID
	done  bool
	win   *zkidentity.ShortID

	next     int // arena index the winner feeds into, -1 for the final
	nextSeat int // 0 places the winner as a, 1 as b
}

// singleElim is a prebuilt full bracket over the roster padded to the
// next power of two. Byes resolve automatically when a round opens: a
// slot holding a single agent settles itself without a match.
type singleElim struct {
	roster []zkidentity.ShortID
	slots  []elimSlot
	rounds int

	current      int   // 1-based open round
	currentSlots []int // arena indexes of the open round's playable slots

	eliminatedIn map[zkidentity.ShortID]int // bracket round an agent lost in
}

func newSingleElim(roster []zkidentity.ShortID) *singleElim {
	return &singleElim{
		roster:       roster,
		eliminatedIn: make(map[zkidentity.ShortID]int),
	}
}

func (se *singleElim) Start() ([]Pairing, error) {
	n := len(se.roster)
	rounds := 0
	for (1 << rounds) < n {
		rounds++
	}
	if rounds == 0 {
		rounds = 1
	}
	se.rounds = rounds

	// Allocate the arena round by round, final last, and wire forward
	// edges: slot i of round r feeds seat i%2 of slot i/2 of round r+1.
	offset := make([]int, rounds+2)
	for r := 1; r <= rounds; r++ {
		offset[r] = len(se.slots)
		count := 1 << (rounds - r)
		for i := 0; i < count; i++ {
			se.slots = append(se.slots, elimSlot{round: r, pos: i, next: -1})
		}
	}
	for idx := range se.slots {
		s := &se.slots[idx]
		if s.round < rounds {
			s.next = offset[s.round+1] + s.pos/2
			s.nextSeat = s.pos % 2
		}
	}

	// Seat round 1 in join order; roster positions beyond the padded
	// size stay nil and become byes.
	size := 1 << rounds
	for i := 0; i < size; i++ {
		slot := &se.slots[offset[1]+i/2]
		if i >= n {
			break
		}
		id := se.roster[i]
		if i%2 == 0 {
			slot.a = &id
		} else {
			slot.b = &id
		}
	}

	se.current = 1
	return se.openRound()
}

// openRound auto-settles byes in the current round and returns the
// playable pairings. A round consisting entirely of byes cascades
// forward.
func (se *singleElim) openRound() ([]Pairing, error) {
	for {
		se.currentSlots = se.currentSlots[:0]
		var pairings []Pairing
		slot := 0
		for idx := range se.slots {
			s := &se.slots[idx]
			if s.round != se.current || s.done {
				continue
			}
			switch {
			case s.a != nil && s.b != nil:
				pairings = append(pairings, Pairing{Slot: slot, A: *s.a, B: *s.b})
				se.currentSlots = append(se.currentSlots, idx)
				slot++
			case s.a != nil || s.b != nil:
				// Bye: the lone agent advances without playing.
				w := s.a
				if w == nil {
					w = s.b
				}
				se.settle(idx, *w)
			default:
				// Both seats empty happens only in padded brackets
				// before feeds arrive; treat as settled-nothing.
				s.done = true
			}
		}
		if len(pairings) > 0 || se.current >= se.rounds {
			return pairings, nil
		}
		se.current++
	}
}

// settle marks a slot decided and feeds the winner forward.
func (se *singleElim) settle(idx int, winner zkidentity.ShortID) {
	s := &se.slots[idx]
	w := winner
	s.win = &w
	s.done = true
	if loser := s.loserOf(winner); loser != nil {
		se.eliminatedIn[*loser] = s.round
	}
	if s.next >= 0 {
		dst := &se.slots[s.next]
		if s.nextSeat == 0 {
			dst.a = &w
		} else {
			dst.b = &w
		}
	}
}

func (s *elimSlot) loserOf(winner zkidentity.ShortID) *zkidentity.ShortID {
	if s.a != nil && *s.a != winner {
		return s.a
	}
	if s.b != nil && *s.b != winner {
		return s.b
	}
	return nil
}

func (se *singleElim) RecordResult(slot int, winner *zkidentity.ShortID) error {
	if winner == nil {
		return fmt.Errorf("single elimination requires a decisive winner")
	}
	if slot < 0 || slot >= len(se.currentSlots) {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	idx := se.currentSlots[slot]
	if se.slots[idx].done {
		return ErrSlotAlreadySettled
	}
	se.settle(idx, *winner)
	return nil
}

func (se *singleElim) RoundComplete() bool {
	for _, idx := range se.currentSlots {
		if !se.slots[idx].done {
			return false
		}
	}
	return true
}

func (se *singleElim) AdvanceRound() ([]Pairing, error) {
	if se.Completed() {
		return nil, nil
	}
	se.current++
	return se.openRound()
}

func (se *singleElim) Completed() bool {
	final := &se.slots[len(se.slots)-1]
	return final.done
}

func (se *singleElim) Champion() *zkidentity.ShortID {
	final := &se.slots[len(se.slots)-1]
	return final.win
}

// FinalRanking orders agents by how deep they survived: champion first,
// then by elimination round descending, join order breaking ties.
func (se *singleElim) FinalRanking() []zkidentity.ShortID {
	champ := se.Champion()
	type ranked struct {
		id    zkidentity.ShortID
		depth int
		seed  int
	}
	var rest []ranked
	for seed, id := range se.roster {
		if champ != nil && id == *champ {
			continue
		}
		rest = append(rest, ranked{id: id, depth: se.eliminatedIn[id], seed: seed})
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].depth != rest[j].depth {
			return rest[i].depth > rest[j].depth
		}
		return rest[i].seed < rest[j].seed
	})
	out := make([]zkidentity.ShortID, 0, len(se.roster))
	if champ != nil {
		out = append(out, *champ)
	}
	for _, r := range rest {
		out = append(out, r.id)
	}
	return out
}
