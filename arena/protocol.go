package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/slog"
)

var (
	ErrBadMatchState      = errors.New("operation not legal in current match state")
	ErrNotParticipant     = errors.New("agent is not a participant of this match")
	ErrAlreadyCommitted   = errors.New("commitment already recorded for this round")
	ErrCommitWindowClosed = errors.New("commit deadline has passed")
	ErrRevealWindowClosed = errors.New("reveal deadline has passed")
	ErrNoCommitment       = errors.New("no commitment recorded for agent")
	ErrRoundNotResolvable = errors.New("round is not yet resolvable")
	ErrMatchStalled       = errors.New("no commitments recorded; match requires explicit forfeiture")
	ErrAllRoundsPlayed    = errors.New("all rounds have been played")
)

var resultTag = []byte("ArenaForge/MatchResult/v1")

// MatchProtocol drives one match through totalRounds commit-reveal rounds.
// All entry points serialize on the internal mutex: the match is a
// single-writer unit of work, so concurrent commits from both agents are
// safe and "both have committed" transitions are observed consistently.
type MatchProtocol struct {
	mu    sync.Mutex
	log   slog.Logger
	clock Clock

	MatchID      uint64
	TournamentID uint64
	Players      [2]zkidentity.ShortID
	Module       GameModule
	TotalRounds  int

	state          MatchState
	round          *RoundState
	currentRound   int
	roundsResolved int
	scores         [2]int64

	// pendingRevealWindow is applied when the second commitment arrives.
	pendingRevealWindow time.Duration

	winner       *zkidentity.ShortID
	resultDigest chainhash.Hash
}

// NewMatchProtocol creates an uninitialized match protocol.
func NewMatchProtocol(matchID, tournamentID uint64, players [2]zkidentity.ShortID,
	module GameModule, clock Clock, log slog.Logger) *MatchProtocol {

	return &MatchProtocol{
		log:          log,
		clock:        clock,
		MatchID:      matchID,
		TournamentID: tournamentID,
		Players:      players,
		Module:       module,
		state:        StateUninitialized,
	}
}

// Init opens the first round's commit window. Legal only once, from
// Uninitialized.
func (mp *MatchProtocol) Init(totalRounds int, commitWindow, revealWindow time.Duration) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateUninitialized {
		return fmt.Errorf("%w: init from %s", ErrBadMatchState, mp.state)
	}
	if totalRounds < 1 {
		return fmt.Errorf("total rounds must be at least 1, got %d", totalRounds)
	}
	mp.TotalRounds = totalRounds
	mp.currentRound = 1
	mp.pendingRevealWindow = revealWindow
	mp.round = newRoundState(1, mp.clock.Now().Add(commitWindow))
	mp.state = StateCommitOpen
	mp.log.Debugf("match %d: round 1 commit window open until %v",
		mp.MatchID, mp.round.CommitDeadline)
	return nil
}

func (mp *MatchProtocol) playerIndex(id zkidentity.ShortID) int {
	for i, p := range mp.Players {
		if p == id {
			return i
		}
	}
	return -1
}

// CommitMove records a player's commitment for the open round. A second
// commitment for the same player is rejected without overwrite. When both
// players have committed the reveal window opens immediately.
func (mp *MatchProtocol) CommitMove(player zkidentity.ShortID, digest chainhash.Hash) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateCommitOpen {
		return fmt.Errorf("%w: commit in %s", ErrBadMatchState, mp.state)
	}
	if mp.playerIndex(player) < 0 {
		return ErrNotParticipant
	}
	if mp.clock.Now().After(mp.round.CommitDeadline) {
		return ErrCommitWindowClosed
	}
	if _, ok := mp.round.Commits[player]; ok {
		return ErrAlreadyCommitted
	}

	mp.round.Commits[player] = digest
	if len(mp.round.Commits) == 2 {
		mp.round.RevealDeadline = mp.clock.Now().Add(mp.pendingRevealWindow)
		mp.state = StateRevealOpen
		mp.log.Debugf("match %d: round %d both committed, reveal open until %v",
			mp.MatchID, mp.round.Number, mp.round.RevealDeadline)
	}
	return nil
}

// RevealMove opens a player's commitment. A reveal that does not hash to
// the stored commitment is silently ignored: the player is simply treated
// as not having revealed.
func (mp *MatchProtocol) RevealMove(player zkidentity.ShortID, move Move, salt [SaltSize]byte) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateRevealOpen {
		return fmt.Errorf("%w: reveal in %s", ErrBadMatchState, mp.state)
	}
	if mp.playerIndex(player) < 0 {
		return ErrNotParticipant
	}
	if mp.clock.Now().After(mp.round.RevealDeadline) {
		return ErrRevealWindowClosed
	}
	digest, ok := mp.round.Commits[player]
	if !ok {
		return ErrNoCommitment
	}
	if _, ok := mp.round.Reveals[player]; ok {
		// Reveal is set once; repeats are a no-op.
		return nil
	}
	if !mp.Module.ValidMove(move) || !VerifyReveal(digest, move, salt) {
		mp.log.Warnf("match %d: round %d invalid reveal from %s, treating as no-show",
			mp.MatchID, mp.round.Number, player)
		return nil
	}
	mp.round.Reveals[player] = Reveal{Move: move, Salt: salt}
	return nil
}

// ResolveRound settles the open round. It is legal once both players have
// revealed, or once the relevant deadline has elapsed, in which case the
// non-acting side forfeits the round. A commit timeout with zero
// commitments from both sides stalls the match: ResolveRound reports
// ErrMatchStalled and only ForfeitUnresponsive can move it forward.
func (mp *MatchProtocol) ResolveRound() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.clock.Now()
	switch mp.state {
	case StateCommitOpen:
		if !now.After(mp.round.CommitDeadline) {
			return ErrRoundNotResolvable
		}
		switch len(mp.round.Commits) {
		case 0:
			return ErrMatchStalled
		case 1:
			// Exactly one commitment: resolve in favor of the committer
			// without a reveal phase.
			actor, forfeiter := mp.Module.ForfeitPayoff()
			for i, p := range mp.Players {
				if _, ok := mp.round.Commits[p]; ok {
					mp.scores[i] += actor
				} else {
					mp.scores[i] += forfeiter
				}
			}
			mp.finishRound()
			return nil
		default:
			// Two commitments always transition to RevealOpen inside
			// CommitMove; this state is unreachable.
			return fmt.Errorf("%w: two commitments in commit_open", ErrBadMatchState)
		}

	case StateRevealOpen:
		if len(mp.round.Reveals) < 2 && !now.After(mp.round.RevealDeadline) {
			return ErrRoundNotResolvable
		}
		switch len(mp.round.Reveals) {
		case 2:
			ra := mp.round.Reveals[mp.Players[0]]
			rb := mp.round.Reveals[mp.Players[1]]
			sa, sb := mp.Module.Payoff(ra.Move, rb.Move)
			mp.scores[0] += sa
			mp.scores[1] += sb
		case 1:
			actor, forfeiter := mp.Module.ForfeitPayoff()
			for i, p := range mp.Players {
				if _, ok := mp.round.Reveals[p]; ok {
					mp.scores[i] += actor
				} else {
					mp.scores[i] += forfeiter
				}
			}
		default:
			// Neither side revealed: both forfeit the round.
			_, forfeiter := mp.Module.ForfeitPayoff()
			mp.scores[0] += forfeiter
			mp.scores[1] += forfeiter
		}
		mp.finishRound()
		return nil

	default:
		return fmt.Errorf("%w: resolve in %s", ErrBadMatchState, mp.state)
	}
}

// ForfeitUnresponsive resolves a zero-commitment stalled round by scoring
// both sides as forfeits. This is never invoked automatically; an external
// operator or scheduler decides when a dead match is abandoned.
func (mp *MatchProtocol) ForfeitUnresponsive() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateCommitOpen {
		return fmt.Errorf("%w: forfeit in %s", ErrBadMatchState, mp.state)
	}
	if !mp.clock.Now().After(mp.round.CommitDeadline) {
		return ErrRoundNotResolvable
	}
	if len(mp.round.Commits) != 0 {
		return fmt.Errorf("%w: round has commitments, use ResolveRound", ErrBadMatchState)
	}
	_, forfeiter := mp.Module.ForfeitPayoff()
	mp.scores[0] += forfeiter
	mp.scores[1] += forfeiter
	mp.finishRound()
	return nil
}

// finishRound folds the round into match totals and either completes the
// match or parks it in RoundResolved awaiting AdvanceRound. Callers hold mu.
func (mp *MatchProtocol) finishRound() {
	mp.roundsResolved++
	mp.log.Debugf("match %d: round %d resolved, totals %d/%d",
		mp.MatchID, mp.round.Number, mp.scores[0], mp.scores[1])

	if mp.currentRound < mp.TotalRounds {
		mp.state = StateRoundResolved
		return
	}

	switch {
	case mp.scores[0] > mp.scores[1]:
		w := mp.Players[0]
		mp.winner = &w
	case mp.scores[1] > mp.scores[0]:
		w := mp.Players[1]
		mp.winner = &w
	}
	mp.resultDigest = mp.computeResultDigest()
	mp.state = StateMatchComplete
	mp.log.Infof("match %d complete: winner=%v totals=%d/%d digest=%s",
		mp.MatchID, mp.winner, mp.scores[0], mp.scores[1], mp.resultDigest)
}

// computeResultDigest binds (matchID, winner, final scores) into a
// tamper-evident receipt hash. Callers hold mu.
func (mp *MatchProtocol) computeResultDigest() chainhash.Hash {
	h := blake256.New()
	h.Write(resultTag)
	var id8 [8]byte
	binary.BigEndian.PutUint64(id8[:], mp.MatchID)
	h.Write(id8[:])
	var winner zkidentity.ShortID
	if mp.winner != nil {
		winner = *mp.winner
	}
	h.Write(winner[:])
	var s8 [8]byte
	binary.BigEndian.PutUint64(s8[:], uint64(mp.scores[0]))
	h.Write(s8[:])
	binary.BigEndian.PutUint64(s8[:], uint64(mp.scores[1]))
	h.Write(s8[:])
	var digest chainhash.Hash
	copy(digest[:], h.Sum(nil))
	return digest
}

// AdvanceRound opens the next round's commit window. Legal only from
// RoundResolved while rounds remain.
func (mp *MatchProtocol) AdvanceRound(commitWindow, revealWindow time.Duration) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateRoundResolved {
		return fmt.Errorf("%w: advance in %s", ErrBadMatchState, mp.state)
	}
	if mp.currentRound >= mp.TotalRounds {
		return ErrAllRoundsPlayed
	}
	mp.currentRound++
	mp.pendingRevealWindow = revealWindow
	mp.round = newRoundState(mp.currentRound, mp.clock.Now().Add(commitWindow))
	mp.state = StateCommitOpen
	mp.log.Debugf("match %d: round %d commit window open until %v",
		mp.MatchID, mp.currentRound, mp.round.CommitDeadline)
	return nil
}

// State returns the current protocol state.
func (mp *MatchProtocol) State() MatchState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// CurrentRound returns the 1-based round counter.
func (mp *MatchProtocol) CurrentRound() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.currentRound
}

// RoundsResolved returns how many rounds have been settled.
func (mp *MatchProtocol) RoundsResolved() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.roundsResolved
}

// Scores returns the cumulative totals in player order.
func (mp *MatchProtocol) Scores() (int64, int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.scores[0], mp.scores[1]
}

// Winner returns the match winner, or nil for a draw or an unfinished
// match.
func (mp *MatchProtocol) Winner() *zkidentity.ShortID {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.winner == nil {
		return nil
	}
	w := *mp.winner
	return &w
}

// ResultDigest returns the receipt hash of a completed match.
func (mp *MatchProtocol) ResultDigest() (chainhash.Hash, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.state != StateMatchComplete {
		return chainhash.Hash{}, fmt.Errorf("%w: result digest in %s", ErrBadMatchState, mp.state)
	}
	return mp.resultDigest, nil
}

// RoundSnapshot returns a copy of the open round's bookkeeping.
func (mp *MatchProtocol) RoundSnapshot() *RoundState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.round == nil {
		return nil
	}
	out := &RoundState{
		Number:         mp.round.Number,
		CommitDeadline: mp.round.CommitDeadline,
		RevealDeadline: mp.round.RevealDeadline,
		Commits:        make(map[zkidentity.ShortID]chainhash.Hash, len(mp.round.Commits)),
		Reveals:        make(map[zkidentity.ShortID]Reveal, len(mp.round.Reveals)),
	}
	for k, v := range mp.round.Commits {
		out.Commits[k] = v
	}
	for k, v := range mp.round.Reveals {
		out.Reveals[k] = v
	}
	return out
}
