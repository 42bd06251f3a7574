package tournament

import (
	"testing"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/stretchr/testify/assert"
)

func TestSingleElimPowerOfTwo(t *testing.T) {
	tr, clock := newTestTournament(t, FormatSingleElim, 16)
	ids := agentIDs(8)
	joinAll(t, tr, ids)
	_, err := tr.Start()
	assert.NoError(t, err)

	matches := runToCompletion(t, tr, clock, firstWins)

	// 2^k agents play exactly 2^k - 1 matches and crown one champion.
	assert.Equal(t, 7, matches)
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)

	ranking, err := tr.FinalRanking()
	assert.NoError(t, err)
	assert.Len(t, ranking, 8)
	assert.Equal(t, ids[0], ranking[0])
	seen := make(map[zkidentity.ShortID]bool)
	for _, id := range ranking {
		assert.False(t, seen[id], "agent ranked twice")
		seen[id] = true
	}
}

func TestSingleElimRoundSizes(t *testing.T) {
	tr, _ := newTestTournament(t, FormatSingleElim, 16)
	joinAll(t, tr, agentIDs(8))
	pairings, err := tr.Start()
	assert.NoError(t, err)
	assert.Len(t, pairings, 4)

	playRound(t, tr, firstWins)
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Len(t, pairings, 2)
	assert.Equal(t, 2, tr.CurrentRound())

	playRound(t, tr, firstWins)
	pairings, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)

	playRound(t, tr, firstWins)
	_, err = tr.AdvanceRound()
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status())
}

func TestSingleElimByes(t *testing.T) {
	tr, clock := newTestTournament(t, FormatSingleElim, 16)
	ids := agentIDs(5)
	joinAll(t, tr, ids)
	pairings, err := tr.Start()
	assert.NoError(t, err)

	// 5 agents in an 8-slot bracket: two playable first-round matches,
	// the fifth agent byes through.
	assert.Len(t, pairings, 2)

	matches := 2 + runFromRound2(t, tr, clock)
	assert.Equal(t, 4, matches) // n-1 played matches regardless of byes
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)
}

// runFromRound2 plays out an already-started bracket whose first round is
// still open, returning matches played after round 1.
func runFromRound2(t *testing.T, tr *Tournament, clock *fakeClock) int {
	t.Helper()
	playRound(t, tr, firstWins)
	matches := 0
	for rounds := 0; rounds < 100; rounds++ {
		pairings, err := tr.AdvanceRound()
		if tr.Status() == StatusCompleted {
			assert.NoError(t, err)
			return matches
		}
		assert.NoError(t, err)
		matches += len(pairings)
		playRound(t, tr, firstWins)
	}
	t.Fatalf("bracket failed to complete")
	return matches
}

func TestSingleElimTwoAgents(t *testing.T) {
	tr, clock := newTestTournament(t, FormatSingleElim, 2)
	ids := agentIDs(2)
	joinAll(t, tr, ids)
	pairings, err := tr.Start()
	assert.NoError(t, err)
	assert.Len(t, pairings, 1)
	assert.Equal(t, ids[0], pairings[0].A)
	assert.Equal(t, ids[1], pairings[0].B)

	matches := runToCompletion(t, tr, clock, func(p Pairing) *zkidentity.ShortID {
		w := p.B
		return &w
	})
	assert.Equal(t, 1, matches)
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[1], *champ)
}
