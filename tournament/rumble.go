package tournament

import (
	"fmt"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"

	"github.com/kaustubh76/arenaforge/arena"
)

// Elimination is one royal-rumble elimination record.
type Elimination struct {
	Eliminator zkidentity.ShortID
	Eliminated zkidentity.ShortID
	At         time.Time
}

// royalRumble is a continuously-running elimination pool with staggered
// entry: the first two agents start, and another entrant is admitted
// each EntryInterval. Every round pits the two longest-standing active
// agents; the loser is eliminated. The rumble closes when one agent
// remains after the queue has drained.
type royalRumble struct {
	interval time.Duration
	clock    arena.Clock

	active    []zkidentity.ShortID
	queue     []zkidentity.ShortID
	nextEntry time.Time

	current      *deSlot
	eliminations []Elimination
}

func newRoyalRumble(roster []zkidentity.ShortID, interval time.Duration, clock arena.Clock) *royalRumble {
	if interval <= 0 {
		interval = time.Minute
	}
	rr := &royalRumble{interval: interval, clock: clock}
	rr.active = append(rr.active, roster[:2]...)
	rr.queue = append(rr.queue, roster[2:]...)
	return rr
}

func (rr *royalRumble) Start() ([]Pairing, error) {
	rr.nextEntry = rr.clock.Now().Add(rr.interval)
	return rr.emit()
}

// admit moves due entrants from the queue into the pool.
func (rr *royalRumble) admit() {
	now := rr.clock.Now()
	for len(rr.queue) > 0 && !now.Before(rr.nextEntry) {
		rr.active = append(rr.active, rr.queue[0])
		rr.queue = rr.queue[1:]
		rr.nextEntry = rr.nextEntry.Add(rr.interval)
	}
}

func (rr *royalRumble) emit() ([]Pairing, error) {
	rr.admit()
	if len(rr.active) < 2 {
		// Waiting on the next staggered entrant.
		rr.current = nil
		return nil, nil
	}
	rr.current = &deSlot{a: rr.active[0], b: rr.active[1]}
	return []Pairing{{Slot: 0, A: rr.current.a, B: rr.current.b}}, nil
}

func (rr *royalRumble) RecordResult(slot int, winner *zkidentity.ShortID) error {
	if rr.current == nil || slot != 0 {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}
	if rr.current.done {
		return ErrSlotAlreadySettled
	}
	if winner == nil {
		return fmt.Errorf("royal rumble requires a decisive winner")
	}
	if *winner != rr.current.a && *winner != rr.current.b {
		return fmt.Errorf("winner %s not in the active pairing", winner)
	}
	rr.current.done = true
	w := *winner
	rr.current.winner = &w
	return nil
}

func (rr *royalRumble) RoundComplete() bool {
	return rr.current == nil || rr.current.done
}

func (rr *royalRumble) AdvanceRound() ([]Pairing, error) {
	if rr.current != nil && rr.current.done {
		w := *rr.current.winner
		loser := rr.current.a
		if loser == w {
			loser = rr.current.b
		}
		rr.eliminations = append(rr.eliminations, Elimination{
			Eliminator: w,
			Eliminated: loser,
			At:         rr.clock.Now(),
		})
		// Winner stays at the head of the pool; the loser is removed.
		remaining := make([]zkidentity.ShortID, 0, len(rr.active)-1)
		remaining = append(remaining, w)
		for _, id := range rr.active {
			if id != w && id != loser {
				remaining = append(remaining, id)
			}
		}
		rr.active = remaining
		rr.current = nil
	}
	if rr.Completed() {
		return nil, nil
	}
	return rr.emit()
}

func (rr *royalRumble) Completed() bool {
	return len(rr.queue) == 0 && len(rr.active) == 1
}

func (rr *royalRumble) Champion() *zkidentity.ShortID {
	if !rr.Completed() {
		return nil
	}
	return &rr.active[0]
}

// FinalRanking: survivor first, then eliminations most-recent first.
func (rr *royalRumble) FinalRanking() []zkidentity.ShortID {
	if !rr.Completed() {
		return nil
	}
	out := []zkidentity.ShortID{rr.active[0]}
	for i := len(rr.eliminations) - 1; i >= 0; i-- {
		out = append(out, rr.eliminations[i].Eliminated)
	}
	return out
}

func (rr *royalRumble) eliminationLog() []Elimination {
	return append([]Elimination(nil), rr.eliminations...)
}
