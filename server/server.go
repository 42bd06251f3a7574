package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server/serverdb"
	"github.com/kaustubh76/arenaforge/tournament"
)

const (
	name    = "arenaforge"
	version = "v0.1.0"

	defaultCommitWindow = 30 * time.Second
	defaultRevealWindow = 30 * time.Second
	defaultMatchRounds  = 1
)

// Sequencer issues monotonically increasing ids. Each Server owns one
// per entity kind; ids are unique within a server lifetime, not global.
type Sequencer struct {
	mu   sync.Mutex
	next uint64
}

func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// Current returns the last issued id, zero if none was issued yet.
func (s *Sequencer) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// MatchStatus is the server-side lifecycle of a match around its
// protocol: stakes lock before play begins, and a match only completes
// through settlement.
type MatchStatus int32

const (
	MatchCreated MatchStatus = iota
	MatchLocked
	MatchInProgress
	MatchCompleted
)

func (s MatchStatus) String() string {
	switch s {
	case MatchCreated:
		return "created"
	case MatchLocked:
		return "locked"
	case MatchInProgress:
		return "in_progress"
	case MatchCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Match binds a protocol instance to its tournament slot and escrow
// lock.
type Match struct {
	sync.RWMutex

	ID           uint64
	TournamentID uint64
	Round        int
	Slot         int
	Protocol     *arena.MatchProtocol

	status MatchStatus
}

func (m *Match) Status() MatchStatus {
	m.RLock()
	defer m.RUnlock()
	return m.status
}

func (m *Match) setStatus(s MatchStatus) {
	m.Lock()
	m.status = s
	m.Unlock()
}

// ServerConfig carries the server's construction parameters.
type ServerConfig struct {
	// RefereeKey signs result digests and settlement receipts. Generated
	// fresh when nil.
	RefereeKey *secp256k1.PrivateKey

	// FeeBps is the platform fee retained from every prize pool, in
	// basis points of the pool.
	FeeBps int64

	CommitWindow time.Duration
	RevealWindow time.Duration

	// MatchRounds is the default number of commit-reveal rounds per
	// match when the tournament does not specify one.
	MatchRounds int

	DB    serverdb.ServerDB
	Clock arena.Clock

	Log         slog.Logger
	LogProtocol slog.Logger
}

// Server wires the engine together: agent sessions, live matches,
// tournaments, escrow, settlement. It is the single external surface;
// everything underneath serializes on its own locks.
type Server struct {
	sync.RWMutex

	cfg   ServerConfig
	log   slog.Logger
	clock arena.Clock

	sessions *arena.AgentSessions
	matchMgr *arena.MatchManager

	matches     map[uint64]*Match
	tournaments map[uint64]*tournament.Tournament

	escrow  *EscrowLedger
	settler *SettlementCoordinator
	db      serverdb.ServerDB

	tournamentSeq Sequencer
	matchSeq      Sequencer
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = arena.SystemClock{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.LogProtocol == nil {
		cfg.LogProtocol = cfg.Log
	}
	if cfg.CommitWindow <= 0 {
		cfg.CommitWindow = defaultCommitWindow
	}
	if cfg.RevealWindow <= 0 {
		cfg.RevealWindow = defaultRevealWindow
	}
	if cfg.MatchRounds <= 0 {
		cfg.MatchRounds = defaultMatchRounds
	}
	if cfg.RefereeKey == nil {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate referee key: %w", err)
		}
		cfg.RefereeKey = key
	}

	sessions := arena.NewAgentSessions()
	escrow := NewEscrowLedger(cfg.Log)
	settler, err := NewSettlementCoordinator(cfg.RefereeKey, sessions, escrow,
		cfg.DB, cfg.FeeBps, cfg.Clock, cfg.Log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		log:         cfg.Log,
		clock:       cfg.Clock,
		sessions:    sessions,
		matchMgr:    arena.NewMatchManager(cfg.LogProtocol),
		matches:     make(map[uint64]*Match),
		tournaments: make(map[uint64]*tournament.Tournament),
		escrow:      escrow,
		settler:     settler,
		db:          cfg.DB,
	}
	if err := s.restoreAgents(); err != nil {
		return nil, err
	}
	s.log.Infof("%s %s ready, fee=%d bps", name, version, cfg.FeeBps)
	return s, nil
}

// restoreAgents reloads persisted agent records into live sessions.
func (s *Server) restoreAgents() error {
	if s.db == nil {
		return nil
	}
	recs, err := s.db.FetchAllAgents(context.Background())
	if err != nil {
		return fmt.Errorf("restore agents: %w", err)
	}
	for _, rec := range recs {
		var uid zkidentity.ShortID
		copy(uid[:], rec.UID)
		agent := s.sessions.CreateSession(uid, rec.Handle, rec.Rating)
		agent.Lock()
		agent.Wins = rec.Wins
		agent.Losses = rec.Losses
		agent.Matches = rec.Matches
		agent.Unlock()
	}
	if len(recs) > 0 {
		s.log.Infof("restored %d agent records", len(recs))
	}
	return nil
}

// RefereePubKey exposes the key that verifies receipts and result
// signatures.
func (s *Server) RefereePubKey() *secp256k1.PublicKey {
	return s.settler.RefereePubKey()
}

// Sessions exposes the live agent registry.
// Counters reports the last issued tournament and match ids.
func (s *Server) Counters() (tournaments, matches uint64) {
	return s.tournamentSeq.Current(), s.matchSeq.Current()
}

func (s *Server) Sessions() *arena.AgentSessions {
	return s.sessions
}

// ratingOf adapts live sessions into the bracket seeding callback.
func (s *Server) ratingOf(id zkidentity.ShortID) int {
	agent := s.sessions.GetAgent(id)
	if agent == nil {
		return 0
	}
	rating, _, _, _ := agent.Snapshot()
	return rating
}

// RunRound drives fn over a set of matches concurrently and returns the
// first error. Each match serializes internally, so concurrent
// adjudication of distinct matches is safe.
func RunRound(ctx context.Context, matches []*Match, fn func(context.Context, *Match) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range matches {
		m := m
		g.Go(func() error {
			return fn(ctx, m)
		})
	}
	return g.Wait()
}
