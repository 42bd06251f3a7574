package tournament

import (
	"fmt"

	"github.com/companyzero/bisonrelay/zkidentity"
)

// bestOf repeats a single pairing until one side reaches ceil(n/2) wins.
// Rosters beyond two agents are rejected at start; the format is a series
// between exactly two.
type bestOf struct {
	a, b     zkidentity.ShortID
	needed   int
	winsA    int
	winsB    int
	entrants int
	settled  bool // current game settled
	champion *zkidentity.ShortID
}

func newBestOf(roster []zkidentity.ShortID, n int) *bestOf {
	bo := &bestOf{needed: (n + 1) / 2}
	if len(roster) >= 2 {
		bo.a, bo.b = roster[0], roster[1]
	}
	bo.entrants = len(roster)
	return bo
}

func (bo *bestOf) Start() ([]Pairing, error) {
	if bo.entrants != 2 {
		return nil, fmt.Errorf("best-of-n requires exactly 2 participants, have %d", bo.entrants)
	}
	bo.settled = false
	return []Pairing{{Slot: 0, A: bo.a, B: bo.b}}, nil
}

func (bo *bestOf) RecordResult(slot int, winner *zkidentity.ShortID) error {
	if slot != 0 {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	if bo.settled {
		return ErrSlotAlreadySettled
	}
	if winner == nil {
		return fmt.Errorf("best-of-n requires a decisive winner")
	}
	switch *winner {
	case bo.a:
		bo.winsA++
	case bo.b:
		bo.winsB++
	default:
		return fmt.Errorf("winner %s not part of the series", winner)
	}
	bo.settled = true
	return nil
}

func (bo *bestOf) RoundComplete() bool { return bo.settled }

// AdvanceRound re-emits the same pairing until one side clinches.
func (bo *bestOf) AdvanceRound() ([]Pairing, error) {
	switch {
	case bo.winsA >= bo.needed:
		bo.champion = &bo.a
		return nil, nil
	case bo.winsB >= bo.needed:
		bo.champion = &bo.b
		return nil, nil
	}
	bo.settled = false
	return []Pairing{{Slot: 0, A: bo.a, B: bo.b}}, nil
}

func (bo *bestOf) Completed() bool { return bo.champion != nil }

func (bo *bestOf) Champion() *zkidentity.ShortID { return bo.champion }

func (bo *bestOf) FinalRanking() []zkidentity.ShortID {
	if bo.champion == nil {
		return nil
	}
	if *bo.champion == bo.a {
		return []zkidentity.ShortID{bo.a, bo.b}
	}
	return []zkidentity.ShortID{bo.b, bo.a}
}
