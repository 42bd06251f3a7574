package tournament

import (
	"testing"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/stretchr/testify/assert"

	"github.com/kaustubh76/arenaforge/arena"
)

func TestSwissPairsByStandingsWithoutRepeats(t *testing.T) {
	tr, _ := newTestTournament(t, FormatSwiss, 16)
	ids := agentIDs(4)
	joinAll(t, tr, ids)
	_, err := tr.Start()
	assert.NoError(t, err)

	seen := make(map[pairKey]int)
	matches := 0
	for tr.Status() == StatusActive {
		for _, p := range tr.CurrentPairings() {
			seen[keyFor(p.A, p.B)]++
			matches++
		}
		playRound(t, tr, lowestWins)
		_, err := tr.AdvanceRound()
		if tr.Status() != StatusCompleted {
			assert.NoError(t, err)
		}
	}

	// 3 rounds of 2 matches, and with 4 agents over 3 rounds a fresh
	// opponent always exists, so no pair repeats.
	assert.Equal(t, 6, matches)
	for key, count := range seen {
		assert.Equal(t, 1, count, "pair %v repeated", key)
	}

	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], ranking[0])
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)
}

func TestSwissOddRosterBye(t *testing.T) {
	tr, _ := newTestTournament(t, FormatSwiss, 16)
	joinAll(t, tr, agentIDs(5))
	pairings, err := tr.Start()
	assert.NoError(t, err)

	// One agent sits out with a bye each round.
	assert.Len(t, pairings, 2)
}

func TestDoubleElimFourAgents(t *testing.T) {
	tr, clock := newTestTournament(t, FormatDoubleElim, 16)
	ids := agentIDs(4)
	joinAll(t, tr, ids)
	pairings, err := tr.Start()
	assert.NoError(t, err)
	assert.Len(t, pairings, 2)

	// Everyone except the champion must lose twice: 2n-2 matches.
	matches := runToCompletion(t, tr, clock, lowestWins)
	assert.Equal(t, 6, matches)

	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)
	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Equal(t, ids, ranking)
}

func TestDoubleElimLosersBracketComeback(t *testing.T) {
	tr, _ := newTestTournament(t, FormatDoubleElim, 16)
	ids := agentIDs(4)
	joinAll(t, tr, ids)
	_, err := tr.Start()
	assert.NoError(t, err)

	// Agent 2 loses its opener, fights back through the losers bracket
	// and takes the grand final.
	win := func(round int, w zkidentity.ShortID) {
		t.Helper()
		found := false
		for _, p := range tr.CurrentPairings() {
			if p.A == w || p.B == w {
				assert.NoError(t, tr.RecordResult(p.Round, p.Slot, &w))
				found = true
			} else {
				other := p.A
				assert.NoError(t, tr.RecordResult(p.Round, p.Slot, &other))
			}
		}
		assert.True(t, found, "agent %s not paired in round %d", w, round)
	}

	win(1, ids[0]) // round 1: agents 1 and 3 win, 2 and 4 drop
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)

	win(2, ids[1]) // round 2: agent 2 wins the losers match
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)

	win(3, ids[1]) // round 3: agent 2 beats the dropped winners-side loser
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)

	win(4, ids[1]) // grand final
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)

	assert.Equal(t, StatusCompleted, tr.Status())
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[1], *champ)
}

func TestBestOfSeries(t *testing.T) {
	tr, _ := newTestTournament(t, FormatBestOfN, 2) // best of 3
	ids := agentIDs(2)
	joinAll(t, tr, ids)
	pairings, err := tr.Start()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)

	// Split the first two games; game 3 decides.
	assert.NoError(t, tr.RecordResult(1, 0, &ids[0]))
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)
	assert.Equal(t, ids[0], pairings[0].A)

	assert.NoError(t, tr.RecordResult(2, 0, &ids[1]))
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)

	assert.NoError(t, tr.RecordResult(3, 0, &ids[1]))
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)

	assert.Equal(t, StatusCompleted, tr.Status())
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[1], *champ)
	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Equal(t, []zkidentity.ShortID{ids[1], ids[0]}, ranking)
}

func TestBestOfClinchEndsEarly(t *testing.T) {
	tr, clock := newTestTournament(t, FormatBestOfN, 2) // best of 3
	ids := agentIDs(2)
	joinAll(t, tr, ids)
	_, err := tr.Start()
	assert.NoError(t, err)

	// A 2-0 sweep never plays game 3.
	matches := runToCompletion(t, tr, clock, firstWins)
	assert.Equal(t, 2, matches)
}

func TestBestOfRejectsThreeParticipants(t *testing.T) {
	tr, _ := newTestTournament(t, FormatBestOfN, 8)
	joinAll(t, tr, agentIDs(3))
	_, err := tr.Start()
	assert.Error(t, err)
	assert.Equal(t, StatusOpen, tr.Status())
}

func TestRoyalRumbleStaggeredEntry(t *testing.T) {
	tr, clock := newTestTournament(t, FormatRoyalRumble, 16)
	ids := agentIDs(4)
	joinAll(t, tr, ids)
	pairings, err := tr.Start()
	assert.NoError(t, err)

	// Only the first two agents start; the rest queue up.
	assert.Len(t, pairings, 1)
	assert.Equal(t, ids[0], pairings[0].A)
	assert.Equal(t, ids[1], pairings[0].B)

	// Agent 2 throws out agent 1.
	assert.NoError(t, tr.RecordResult(1, 0, &ids[1]))
	_, err = tr.AdvanceRound()
	assert.ErrorIs(t, err, ErrWaitingForEntrant)

	// The next entrant arrives after the entry interval.
	clock.Advance(time.Minute)
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)
	assert.Equal(t, ids[1], pairings[0].A)
	assert.Equal(t, ids[2], pairings[0].B)

	assert.NoError(t, tr.RecordResult(pairings[0].Round, 0, &ids[1]))
	_, err = tr.AdvanceRound()
	assert.ErrorIs(t, err, ErrWaitingForEntrant)

	clock.Advance(time.Minute)
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Equal(t, ids[1], pairings[0].A)
	assert.Equal(t, ids[3], pairings[0].B)

	// The late entrant takes the whole thing.
	assert.NoError(t, tr.RecordResult(pairings[0].Round, 0, &ids[3]))
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status())

	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[3], *champ)

	elims := tr.EliminationLog()
	assert.Len(t, elims, 3)
	assert.Equal(t, ids[0], elims[0].Eliminated)
	assert.Equal(t, ids[1], elims[0].Eliminator)
	assert.Equal(t, ids[2], elims[1].Eliminated)
	assert.Equal(t, ids[1], elims[2].Eliminated)
	assert.Equal(t, ids[3], elims[2].Eliminator)
	for i := 1; i < len(elims); i++ {
		assert.False(t, elims[i].At.Before(elims[i-1].At))
	}

	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Equal(t, []zkidentity.ShortID{ids[3], ids[1], ids[2], ids[0]}, ranking)
}

func TestPentathlonRunsAllEvents(t *testing.T) {
	tr, _ := newTestTournament(t, FormatPentathlon, 16)
	ids := agentIDs(3)
	joinAll(t, tr, ids)
	_, err := tr.Start()
	assert.NoError(t, err)

	events := make(map[arena.GameType]int)
	matches := 0
	for tr.Status() == StatusActive {
		for _, p := range tr.CurrentPairings() {
			events[p.GameType]++
			matches++
		}
		playRound(t, tr, lowestWins)
		_, err := tr.AdvanceRound()
		if tr.Status() != StatusCompleted {
			assert.NoError(t, err)
		}
	}

	// Four events, each a full 3-agent round robin of 3 matches.
	assert.Equal(t, 12, matches)
	assert.Len(t, events, len(arena.BaseGameTypes))
	for _, gt := range arena.BaseGameTypes {
		assert.Equal(t, 3, events[gt], "event %s", gt)
	}

	// Winning every event stacks the full per-position award.
	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Equal(t, ids, ranking)
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)
}
