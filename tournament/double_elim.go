package tournament

import (
	"fmt"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// deSlot is one pairing of a double-elimination round, tagged with the
// bracket side it belongs to.
type deSlot struct {
	a, b    zkidentity.ShortID
	grand   bool
	done    bool
	winner  *zkidentity.ShortID
	fromWin bool // winners-bracket match
}

// doubleElim runs a winners bracket plus a losers bracket. A loser of a
// winners-bracket match drops to the losers bracket; a second loss
// eliminates. The tournament closes with a single grand final between
// the two bracket champions.
//
// Rounds are generated dynamically rather than prebuilt: losers-bracket
// sizing formulas in the wild are display heuristics, while the
// elimination semantics here are exact.
type doubleElim struct {
	roster []zkidentity.ShortID

	wbAlive []zkidentity.ShortID
	lbAlive []zkidentity.ShortID
	losses  map[zkidentity.ShortID]int

	current []deSlot

	eliminated []zkidentity.ShortID // in elimination order
	champion   *zkidentity.ShortID
	runnerUp   *zkidentity.ShortID
	done       bool
}

func newDoubleElim(roster []zkidentity.ShortID) *doubleElim {
	return &doubleElim{
		roster:  roster,
		wbAlive: append([]zkidentity.ShortID(nil), roster...),
		losses:  make(map[zkidentity.ShortID]int),
	}
}

func (de *doubleElim) Start() ([]Pairing, error) {
	return de.buildRound()
}

// buildRound pairs each bracket side in order. An odd agent on either
// side receives a bye into the next round.
func (de *doubleElim) buildRound() ([]Pairing, error) {
	de.current = de.current[:0]

	if de.grandFinalReady() {
		de.current = append(de.current, deSlot{a: de.wbAlive[0], b: de.lbAlive[0], grand: true})
	} else {
		for i := 0; i+1 < len(de.wbAlive); i += 2 {
			de.current = append(de.current, deSlot{a: de.wbAlive[i], b: de.wbAlive[i+1], fromWin: true})
		}
		for i := 0; i+1 < len(de.lbAlive); i += 2 {
			de.current = append(de.current, deSlot{a: de.lbAlive[i], b: de.lbAlive[i+1]})
		}
	}

	if len(de.current) == 0 {
		return nil, fmt.Errorf("double elimination produced no pairings for %d/%d alive",
			len(de.wbAlive), len(de.lbAlive))
	}
	out := make([]Pairing, len(de.current))
	for i, s := range de.current {
		out[i] = Pairing{Slot: i, A: s.a, B: s.b}
	}
	return out, nil
}

func (de *doubleElim) grandFinalReady() bool {
	return len(de.wbAlive) == 1 && len(de.lbAlive) == 1
}

func (de *doubleElim) RecordResult(slot int, winner *zkidentity.ShortID) error {
	if winner == nil {
		return fmt.Errorf("double elimination requires a decisive winner")
	}
	if slot < 0 || slot >= len(de.current) {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	s := &de.current[slot]
	if s.done {
		return ErrSlotAlreadySettled
	}
	if *winner != s.a && *winner != s.b {
		return fmt.Errorf("winner %s not in slot %d", winner, slot)
	}
	s.done = true
	w := *winner
	s.winner = &w
	return nil
}

func (de *doubleElim) RoundComplete() bool {
	for _, s := range de.current {
		if !s.done {
			return false
		}
	}
	return true
}

// AdvanceRound folds the settled round into the alive lists. Winners stay
// on their side, winners-bracket losers drop down, second losses
// eliminate.
func (de *doubleElim) AdvanceRound() ([]Pairing, error) {
	if de.done {
		return nil, nil
	}

	var nextWB, nextLB, dropped []zkidentity.ShortID

	// Odd agents without a pairing this round carry a bye.
	paired := make(map[zkidentity.ShortID]bool)
	for _, s := range de.current {
		paired[s.a] = true
		paired[s.b] = true
	}
	for _, id := range de.wbAlive {
		if !paired[id] {
			nextWB = append(nextWB, id)
		}
	}
	for _, id := range de.lbAlive {
		if !paired[id] {
			nextLB = append(nextLB, id)
		}
	}

	for _, s := range de.current {
		w := *s.winner
		loser := s.a
		if loser == w {
			loser = s.b
		}
		if s.grand {
			de.champion = s.winner
			ru := loser
			de.runnerUp = &ru
			de.done = true
			return nil, nil
		}
		de.losses[loser]++
		if s.fromWin {
			nextWB = append(nextWB, w)
			dropped = append(dropped, loser)
		} else {
			nextLB = append(nextLB, w)
			de.eliminated = append(de.eliminated, loser)
		}
	}

	de.wbAlive = nextWB
	de.lbAlive = append(nextLB, dropped...)
	return de.buildRound()
}

func (de *doubleElim) Completed() bool { return de.done }

func (de *doubleElim) Champion() *zkidentity.ShortID { return de.champion }

// FinalRanking: grand-final winner, runner-up, then the losers-bracket
// eliminations most-recent first.
func (de *doubleElim) FinalRanking() []zkidentity.ShortID {
	out := make([]zkidentity.ShortID, 0, len(de.roster))
	if de.champion != nil {
		out = append(out, *de.champion)
	}
	if de.runnerUp != nil {
		out = append(out, *de.runnerUp)
	}
	for i := len(de.eliminated) - 1; i >= 0; i-- {
		out = append(out, de.eliminated[i])
	}
	return out
}
