package server

import (
	"context"
	"errors"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server/serverdb"
	"github.com/kaustubh76/arenaforge/tournament"
)

// --- agent handlers ---

// RegisterAgent creates (or returns) the session for an agent id.
func (s *Server) RegisterAgent(ctx context.Context, uid zkidentity.ShortID, handle string) (*arena.Agent, error) {
	if handle == "" {
		return nil, status.Errorf(codes.InvalidArgument, "handle cannot be empty")
	}
	agent := s.sessions.CreateSession(uid, handle, DefaultRating)
	if s.db != nil {
		rating, wins, losses, matches := agent.Snapshot()
		rec := &serverdb.AgentRecord{
			UID:       uid[:],
			Handle:    agent.Handle,
			Rating:    rating,
			Wins:      wins,
			Losses:    losses,
			Matches:   matches,
			CreatedAt: s.clock.Now(),
		}
		if err := s.db.SaveAgent(ctx, rec); err != nil {
			return nil, status.Errorf(codes.Internal, "persist agent: %v", err)
		}
	}
	s.log.Debugf("registered agent %s (%s)", uid, handle)
	return agent, nil
}

// GetAgent returns the live session for an agent.
func (s *Server) GetAgent(uid zkidentity.ShortID) (*arena.Agent, error) {
	agent := s.sessions.GetAgent(uid)
	if agent == nil {
		return nil, status.Errorf(codes.NotFound, "agent %s not registered", uid)
	}
	return agent, nil
}

// --- tournament handlers ---

// CreateTournament opens a tournament and its escrow account. The id is
// issued by the server's sequencer; any id in cfg is overwritten.
func (s *Server) CreateTournament(ctx context.Context, cfg tournament.Config) (*tournament.Tournament, error) {
	if _, err := arena.NewGameModule(cfg.GameType); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "game type: %v", err)
	}
	cfg.ID = s.tournamentSeq.Next()
	t, err := tournament.New(cfg, s.clock, s.ratingOf, s.log)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if err := s.escrow.OpenAccount(t.ID); err != nil {
		return nil, status.Errorf(codes.Internal, "open escrow: %v", err)
	}

	s.Lock()
	s.tournaments[t.ID] = t
	s.Unlock()

	s.log.Infof("created tournament %d (%s, %s, stake=%s)",
		t.ID, t.Name, t.Format, t.EntryStake)
	return t, nil
}

// GetTournament returns a tournament by id.
func (s *Server) GetTournament(id uint64) (*tournament.Tournament, error) {
	s.RLock()
	t := s.tournaments[id]
	s.RUnlock()
	if t == nil {
		return nil, status.Errorf(codes.NotFound, "tournament %d not found", id)
	}
	return t, nil
}

// JoinTournament adds a registered agent to an open tournament, escrowing
// the exact entry stake.
func (s *Server) JoinTournament(ctx context.Context, tournamentID uint64, uid zkidentity.ShortID) error {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if s.sessions.GetAgent(uid) == nil {
		return status.Errorf(codes.NotFound, "agent %s not registered", uid)
	}

	if err := t.Join(uid); err != nil {
		switch {
		case errors.Is(err, tournament.ErrFull):
			return status.Errorf(codes.ResourceExhausted, "%v", err)
		case errors.Is(err, tournament.ErrNotOpen), errors.Is(err, tournament.ErrAlreadyJoined):
			return status.Errorf(codes.FailedPrecondition, "%v", err)
		default:
			return status.Errorf(codes.Internal, "%v", err)
		}
	}
	if err := s.escrow.Deposit(tournamentID, uid, t.EntryStake); err != nil {
		return status.Errorf(codes.Internal, "escrow deposit: %v", err)
	}
	s.log.Debugf("agent %s joined tournament %d", uid, tournamentID)
	return nil
}

// StartTournament activates the bracket and creates the first round's
// matches, each with its stakes locked and commit window open.
func (s *Server) StartTournament(ctx context.Context, tournamentID uint64) ([]*Match, error) {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return nil, err
	}
	pairings, err := t.Start()
	if err != nil {
		switch {
		case errors.Is(err, tournament.ErrRosterTooSmall),
			errors.Is(err, tournament.ErrAlreadyStarted),
			errors.Is(err, tournament.ErrNotOpen):
			return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
		default:
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
	}
	return s.createMatches(t, pairings)
}

// createMatches materializes a round's pairings into live matches.
func (s *Server) createMatches(t *tournament.Tournament, pairings []tournament.Pairing) ([]*Match, error) {
	matches := make([]*Match, 0, len(pairings))
	for _, p := range pairings {
		module, err := arena.NewGameModule(p.GameType)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "game module: %v", err)
		}
		matchID := s.matchSeq.Next()
		if err := s.escrow.LockForMatch(t.ID, matchID, p.A, p.B); err != nil {
			return nil, status.Errorf(codes.Internal, "escrow lock: %v", err)
		}

		proto := arena.NewMatchProtocol(matchID, t.ID, [2]zkidentity.ShortID{p.A, p.B},
			module, s.clock, s.matchMgr.Log)
		m := &Match{
			ID:           matchID,
			TournamentID: t.ID,
			Round:        p.Round,
			Slot:         p.Slot,
			Protocol:     proto,
			status:       MatchLocked,
		}
		if err := proto.Init(s.cfg.MatchRounds, s.cfg.CommitWindow, s.cfg.RevealWindow); err != nil {
			return nil, status.Errorf(codes.Internal, "init match: %v", err)
		}
		m.setStatus(MatchInProgress)

		s.matchMgr.AddMatch(proto)
		s.Lock()
		s.matches[matchID] = m
		s.Unlock()
		matches = append(matches, m)

		s.log.Debugf("created match %d: tournament %d round %d slot %d (%s vs %s)",
			matchID, t.ID, p.Round, p.Slot, p.A, p.B)
	}
	return matches, nil
}

// CancelTournament aborts an open tournament and refunds every deposit.
func (s *Server) CancelTournament(ctx context.Context, tournamentID uint64) ([]Payout, error) {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return nil, err
	}
	if err := t.Cancel(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}
	refunds, err := s.escrow.RefundAll(tournamentID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "refund: %v", err)
	}
	s.log.Infof("cancelled tournament %d, refunded %d deposits", tournamentID, len(refunds))
	return refunds, nil
}

// --- match handlers ---

// GetMatch returns a live match by id.
func (s *Server) GetMatch(matchID uint64) (*Match, error) {
	s.RLock()
	m := s.matches[matchID]
	s.RUnlock()
	if m == nil {
		return nil, status.Errorf(codes.NotFound, "match %d not found", matchID)
	}
	return m, nil
}

// GetMatchState returns the protocol state of a match.
func (s *Server) GetMatchState(matchID uint64) (arena.MatchState, error) {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return arena.StateUninitialized, err
	}
	return m.Protocol.State(), nil
}

// protocolErr translates protocol rejections into the external taxonomy.
func protocolErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, arena.ErrNotParticipant):
		return status.Errorf(codes.PermissionDenied, "%v", err)
	case errors.Is(err, arena.ErrBadMatchState),
		errors.Is(err, arena.ErrAlreadyCommitted),
		errors.Is(err, arena.ErrCommitWindowClosed),
		errors.Is(err, arena.ErrRevealWindowClosed),
		errors.Is(err, arena.ErrNoCommitment),
		errors.Is(err, arena.ErrRoundNotResolvable),
		errors.Is(err, arena.ErrMatchStalled),
		errors.Is(err, arena.ErrAllRoundsPlayed):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// CommitMove records a player's move commitment for a match's open round.
func (s *Server) CommitMove(ctx context.Context, matchID uint64, player zkidentity.ShortID, digest chainhash.Hash) error {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}
	return protocolErr(m.Protocol.CommitMove(player, digest))
}

// RevealMove opens a player's commitment.
func (s *Server) RevealMove(ctx context.Context, matchID uint64, player zkidentity.ShortID, move arena.Move, salt [arena.SaltSize]byte) error {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}
	return protocolErr(m.Protocol.RevealMove(player, move, salt))
}

// ResolveMatchRound settles the open round and, when that completes the
// match, settles the match into ratings and the owning bracket.
func (s *Server) ResolveMatchRound(ctx context.Context, matchID uint64) error {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}
	if err := protocolErr(m.Protocol.ResolveRound()); err != nil {
		return err
	}
	return s.maybeSettleMatch(ctx, m)
}

// AdvanceMatchRound opens the next commit window of a multi-round match.
func (s *Server) AdvanceMatchRound(ctx context.Context, matchID uint64) error {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}
	return protocolErr(m.Protocol.AdvanceRound(s.cfg.CommitWindow, s.cfg.RevealWindow))
}

// ForfeitMatch abandons a zero-commitment stalled match.
func (s *Server) ForfeitMatch(ctx context.Context, matchID uint64) error {
	m, err := s.GetMatch(matchID)
	if err != nil {
		return err
	}
	if err := protocolErr(m.Protocol.ForfeitUnresponsive()); err != nil {
		return err
	}
	return s.maybeSettleMatch(ctx, m)
}

// maybeSettleMatch folds a just-completed match into agent records and
// the owning tournament. No-op while rounds remain.
func (s *Server) maybeSettleMatch(ctx context.Context, m *Match) error {
	if m.Protocol.State() != arena.StateMatchComplete {
		return nil
	}
	winner, err := s.settler.SettleMatch(ctx, m.Protocol)
	if err != nil {
		if errors.Is(err, ErrMatchAlreadySettled) {
			return nil
		}
		return status.Errorf(codes.Internal, "settle match: %v", err)
	}
	if err := s.escrow.ReleaseLock(m.TournamentID, m.ID); err != nil {
		return status.Errorf(codes.Internal, "release lock: %v", err)
	}
	m.setStatus(MatchCompleted)

	t, err := s.GetTournament(m.TournamentID)
	if err != nil {
		return err
	}
	if err := t.RecordResult(m.Round, m.Slot, winner); err != nil {
		return status.Errorf(codes.Internal, "record result: %v", err)
	}
	return nil
}

// RecordResult feeds an externally adjudicated outcome into a bracket
// slot. Matches played through the protocol settle themselves; this is
// the entry point for exhibition play.
func (s *Server) RecordResult(ctx context.Context, tournamentID uint64, round, slot int, winner *zkidentity.ShortID) error {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if err := t.RecordResult(round, slot, winner); err != nil {
		switch {
		case errors.Is(err, tournament.ErrRoundMismatch),
			errors.Is(err, tournament.ErrUnknownSlot):
			return status.Errorf(codes.InvalidArgument, "%v", err)
		case errors.Is(err, tournament.ErrSlotAlreadySettled),
			errors.Is(err, tournament.ErrNotActive):
			return status.Errorf(codes.FailedPrecondition, "%v", err)
		default:
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}
	}
	return nil
}

// AdvanceTournamentRound opens the next round's matches once the current
// round has settled. A completed bracket returns no matches; call
// CompleteTournament to distribute the pool.
func (s *Server) AdvanceTournamentRound(ctx context.Context, tournamentID uint64) ([]*Match, error) {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return nil, err
	}
	pairings, err := t.AdvanceRound()
	if err != nil {
		switch {
		case errors.Is(err, tournament.ErrRoundIncomplete),
			errors.Is(err, tournament.ErrNotActive):
			return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
		case errors.Is(err, tournament.ErrWaitingForEntrant):
			return nil, status.Errorf(codes.Unavailable, "%v", err)
		default:
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
	}
	if t.Status() == tournament.StatusCompleted {
		return nil, nil
	}
	return s.createMatches(t, pairings)
}

// CompleteTournament distributes the prize pool of a completed
// tournament and returns the signed settlement receipt. Escrow enforces
// at-most-once distribution.
func (s *Server) CompleteTournament(ctx context.Context, tournamentID uint64) (*serverdb.SettlementReceipt, error) {
	t, err := s.GetTournament(tournamentID)
	if err != nil {
		return nil, err
	}
	rec, err := s.settler.SettleTournament(ctx, t)
	if err != nil {
		switch {
		case errors.Is(err, tournament.ErrNotCompleted),
			errors.Is(err, ErrAlreadyDistributed):
			return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
		default:
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
	}
	return rec, nil
}

// GetReceipt fetches a persisted settlement receipt.
func (s *Server) GetReceipt(ctx context.Context, tournamentID uint64) (*serverdb.SettlementReceipt, error) {
	if s.db == nil {
		return nil, status.Errorf(codes.Unavailable, "no receipt store configured")
	}
	rec, err := s.db.FetchReceipt(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, serverdb.ErrReceiptNotFound) {
			return nil, status.Errorf(codes.NotFound, "%v", err)
		}
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return rec, nil
}
