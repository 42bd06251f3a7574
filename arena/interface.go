package arena

import (
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/slog"
)

// Clock abstracts wall-clock reads so deadline evaluation stays a pure
// function of "now vs stored deadline" and tests can inject a fake time
// source. There is no background timer anywhere in the engine; timeouts
// fire lazily inside the next call into a match's state machine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Agent is a registered competitor. Identity is an opaque fixed-width id;
// the aggregate counters are mutated only by settlement after a match
// reaches MatchComplete, exactly once per match.
type Agent struct {
	sync.RWMutex
	ID *zkidentity.ShortID

	Handle  string
	Rating  int
	Wins    int
	Losses  int
	Matches int
}

// Snapshot returns a copy of the agent's mutable stats.
func (a *Agent) Snapshot() (rating, wins, losses, matches int) {
	a.RLock()
	defer a.RUnlock()
	return a.Rating, a.Wins, a.Losses, a.Matches
}

// RecordOutcome applies one completed match to the agent's counters and
// installs the post-match rating. Draws count as a match with neither a
// win nor a loss.
func (a *Agent) RecordOutcome(newRating int, won, draw bool) {
	a.Lock()
	defer a.Unlock()
	a.Matches++
	if draw {
		a.Rating = newRating
		return
	}
	if won {
		a.Wins++
	} else {
		a.Losses++
	}
	a.Rating = newRating
}

// AgentSessions tracks registered agents by id.
type AgentSessions struct {
	sync.RWMutex
	Sessions map[zkidentity.ShortID]*Agent
}

func NewAgentSessions() *AgentSessions {
	return &AgentSessions{Sessions: make(map[zkidentity.ShortID]*Agent)}
}

func (as *AgentSessions) GetAgent(id zkidentity.ShortID) *Agent {
	as.RLock()
	defer as.RUnlock()
	return as.Sessions[id]
}

func (as *AgentSessions) CreateSession(id zkidentity.ShortID, handle string, rating int) *Agent {
	as.Lock()
	defer as.Unlock()

	agent := as.Sessions[id]
	if agent == nil {
		idCopy := id
		agent = &Agent{
			ID:     &idCopy,
			Handle: handle,
			Rating: rating,
		}
		as.Sessions[id] = agent
	}
	return agent
}

func (as *AgentSessions) RemoveAgent(id zkidentity.ShortID) {
	as.Lock()
	defer as.Unlock()
	delete(as.Sessions, id)
}

// Snapshot returns a shallow copy of all sessions.
func (as *AgentSessions) Snapshot() []*Agent {
	as.RLock()
	defer as.RUnlock()
	out := make([]*Agent, 0, len(as.Sessions))
	for _, a := range as.Sessions {
		out = append(out, a)
	}
	return out
}

// MatchState is the lifecycle of a commit-reveal match.
type MatchState int32

const (
	StateUninitialized MatchState = iota
	StateCommitOpen
	StateRevealOpen
	StateRoundResolved
	StateMatchComplete
)

func (s MatchState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCommitOpen:
		return "commit_open"
	case StateRevealOpen:
		return "reveal_open"
	case StateRoundResolved:
		return "round_resolved"
	case StateMatchComplete:
		return "match_complete"
	default:
		return "unknown"
	}
}

// Reveal is a player's opened commitment for one round.
type Reveal struct {
	Move Move
	Salt [SaltSize]byte
}

// RoundState holds the per-round commit-reveal bookkeeping for one match.
// It lives only while the round is open; once resolved the scores are
// folded into the match totals and the next round replaces it.
type RoundState struct {
	Number         int
	CommitDeadline time.Time
	RevealDeadline time.Time

	Commits map[zkidentity.ShortID]chainhash.Hash
	Reveals map[zkidentity.ShortID]Reveal
}

func newRoundState(number int, commitDeadline time.Time) *RoundState {
	return &RoundState{
		Number:         number,
		CommitDeadline: commitDeadline,
		Commits:        make(map[zkidentity.ShortID]chainhash.Hash, 2),
		Reveals:        make(map[zkidentity.ShortID]Reveal, 2),
	}
}

// MatchManager owns the live match protocols keyed by match id.
type MatchManager struct {
	matchesMu sync.RWMutex
	Matches   map[uint64]*MatchProtocol

	Log slog.Logger
}

func NewMatchManager(log slog.Logger) *MatchManager {
	return &MatchManager{
		Matches: make(map[uint64]*MatchProtocol),
		Log:     log,
	}
}

func (m *MatchManager) GetMatch(id uint64) *MatchProtocol {
	m.matchesMu.RLock()
	defer m.matchesMu.RUnlock()
	return m.Matches[id]
}

func (m *MatchManager) AddMatch(mp *MatchProtocol) {
	m.matchesMu.Lock()
	m.Matches[mp.MatchID] = mp
	m.matchesMu.Unlock()
}

func (m *MatchManager) DeleteMatch(id uint64) {
	m.matchesMu.Lock()
	delete(m.Matches, id)
	m.matchesMu.Unlock()
}

// MatchesSnapshot returns a shallow copy of the matches map.
func (m *MatchManager) MatchesSnapshot() map[uint64]*MatchProtocol {
	m.matchesMu.RLock()
	defer m.matchesMu.RUnlock()
	out := make(map[uint64]*MatchProtocol, len(m.Matches))
	for k, v := range m.Matches {
		out[k] = v
	}
	return out
}
