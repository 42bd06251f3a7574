package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server/serverdb"
	"github.com/kaustubh76/arenaforge/tournament"
)

func newTestServer(t *testing.T) (*Server, *fakeClock) {
	t.Helper()
	db, err := serverdb.NewBoltDB(filepath.Join(t.TempDir(), "arena.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := newFakeClock()
	s, err := NewServer(ServerConfig{
		FeeBps:       1000, // 10%
		CommitWindow: time.Minute,
		RevealWindow: time.Minute,
		MatchRounds:  1,
		DB:           db,
		Clock:        clock,
		Log:          slog.Disabled,
	})
	assert.NoError(t, err)
	return s, clock
}

func registerAgents(t *testing.T, s *Server, n int) []zkidentity.ShortID {
	t.Helper()
	ids := make([]zkidentity.ShortID, n)
	for i := range ids {
		ids[i] = testAgentID(byte(i + 1))
		_, err := s.RegisterAgent(context.Background(), ids[i], "agent")
		assert.NoError(t, err)
	}
	return ids
}

func resolveMatch(t *testing.T, s *Server, m *Match) {
	t.Helper()
	assert.NoError(t, s.ResolveMatchRound(context.Background(), m.ID))
	assert.Equal(t, MatchCompleted, m.Status())
}

// playAndResolve runs a full commit-reveal-resolve cycle for a match.
func playAndResolve(t *testing.T, s *Server, m *Match, winner zkidentity.ShortID) {
	t.Helper()
	ctx := context.Background()
	type reveal struct {
		player zkidentity.ShortID
		move   arena.Move
		salt   [arena.SaltSize]byte
	}
	var reveals []reveal
	for _, p := range m.Protocol.Players {
		move := arena.MoveCooperate
		if p == winner {
			move = arena.MoveDefect
		}
		salt, err := arena.NewSalt()
		assert.NoError(t, err)
		assert.NoError(t, s.CommitMove(ctx, m.ID, p, arena.CommitMove(move, salt)))
		reveals = append(reveals, reveal{player: p, move: move, salt: salt})
	}
	for _, r := range reveals {
		assert.NoError(t, s.RevealMove(ctx, m.ID, r.player, r.move, r.salt))
	}
	resolveMatch(t, s, m)
}

func TestTournamentEndToEnd(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 4)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "weekly",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 4,
		RoundCount:      1,
	})
	assert.NoError(t, err)

	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}
	pool, err := s.escrow.Pool(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, dcrutil.Amount(400000), pool)

	// Round 1: the earlier-seeded agent of each pairing wins.
	matches, err := s.StartTournament(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Len(t, matches, 2)
	for _, m := range matches {
		playAndResolve(t, s, m, m.Protocol.Players[0])
	}

	// Final.
	matches, err = s.AdvanceTournamentRound(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Len(t, matches, 1)
	playAndResolve(t, s, matches[0], matches[0].Protocol.Players[0])

	matches, err = s.AdvanceTournamentRound(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Nil(t, matches)
	assert.Equal(t, tournament.StatusCompleted, tr.Status())
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)

	// Distribution: 10% fee, 60/25/15 over [1, 3, 2].
	rec, err := s.CompleteTournament(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(40000), rec.Fee)
	assert.Len(t, rec.Payouts, 3)
	assert.Equal(t, ids[0][:], rec.Payouts[0].UID)
	assert.Equal(t, int64(216000), rec.Payouts[0].Amount)
	assert.Equal(t, ids[2][:], rec.Payouts[1].UID)
	assert.Equal(t, int64(90000), rec.Payouts[1].Amount)
	assert.Equal(t, ids[1][:], rec.Payouts[2].UID)
	assert.Equal(t, int64(54000), rec.Payouts[2].Amount)

	total := rec.Fee
	for _, p := range rec.Payouts {
		total += p.Amount
	}
	assert.Equal(t, int64(400000), total)

	// The receipt is signed by the referee and persisted.
	assert.True(t, VerifyReceipt(s.RefereePubKey(), rec))
	stored, err := s.GetReceipt(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, rec.Digest, stored.Digest)
	assert.Equal(t, rec.Signature, stored.Signature)

	// Champion gained rating over two wins.
	agent, err := s.GetAgent(ids[0])
	assert.NoError(t, err)
	rating, wins, losses, played := agent.Snapshot()
	assert.Greater(t, rating, DefaultRating)
	assert.Equal(t, 2, wins)
	assert.Equal(t, 0, losses)
	assert.Equal(t, 2, played)

	// Repeat distribution is rejected and the ledger stays settled.
	_, err = s.CompleteTournament(ctx, tr.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.True(t, s.escrow.Distributed(tr.ID))
}

func TestServerCounters(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tournaments, matches := s.Counters()
	assert.Zero(t, tournaments)
	assert.Zero(t, matches)

	ids := registerAgents(t, s, 2)
	tr, err := s.CreateTournament(ctx, tournament.Config{
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 2,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	tournaments, matches = s.Counters()
	assert.Equal(t, uint64(1), tournaments)
	assert.Zero(t, matches)

	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}
	started, err := s.StartTournament(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Len(t, started, 1)
	tournaments, matches = s.Counters()
	assert.Equal(t, uint64(1), tournaments)
	assert.Equal(t, uint64(1), matches)
}

func TestJoinRejections(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 3)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "duo",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 2,
		RoundCount:      1,
	})
	assert.NoError(t, err)

	// Unregistered agents cannot join.
	err = s.JoinTournament(ctx, tr.ID, testAgentID(99))
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.NoError(t, s.JoinTournament(ctx, tr.ID, ids[0]))
	err = s.JoinTournament(ctx, tr.ID, ids[0])
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.NoError(t, s.JoinTournament(ctx, tr.ID, ids[1]))

	// Full tournament: rejected without touching the pool.
	err = s.JoinTournament(ctx, tr.ID, ids[2])
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	pool, err := s.escrow.Pool(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, dcrutil.Amount(200000), pool)

	// Unknown tournament.
	err = s.JoinTournament(ctx, 999, ids[0])
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMatchHandlerRejections(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 2)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "duo",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 2,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}
	matches, err := s.StartTournament(ctx, tr.ID)
	assert.NoError(t, err)
	m := matches[0]

	// A non-participant cannot commit.
	salt, err := arena.NewSalt()
	assert.NoError(t, err)
	err = s.CommitMove(ctx, m.ID, testAgentID(99), arena.CommitMove(arena.MoveDefect, salt))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// Resolving before the round is resolvable fails.
	err = s.ResolveMatchRound(ctx, m.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	// Unknown match.
	err = s.CommitMove(ctx, 999, ids[0], arena.CommitMove(arena.MoveDefect, salt))
	assert.Equal(t, codes.NotFound, status.Code(err))

	st, err := s.GetMatchState(m.ID)
	assert.NoError(t, err)
	assert.Equal(t, arena.StateCommitOpen, st)
}

func TestStalledMatchForfeit(t *testing.T) {
	s, clock := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 2)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "duo",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 2,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}
	matches, err := s.StartTournament(ctx, tr.ID)
	assert.NoError(t, err)
	m := matches[0]

	// Nobody commits. The deadline alone does not resolve the match.
	clock.Advance(2 * time.Minute)
	err = s.ResolveMatchRound(ctx, m.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, arena.StateCommitOpen, m.Protocol.State())

	// Explicit abandonment scores a double forfeit; the drawn result is
	// resolved by seed and the bracket still completes.
	assert.NoError(t, s.ForfeitMatch(ctx, m.ID))
	assert.Equal(t, MatchCompleted, m.Status())
	matches, err = s.AdvanceTournamentRound(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Nil(t, matches)
	assert.Equal(t, tournament.StatusCompleted, tr.Status())
	champ, err := tr.Champion()
	assert.NoError(t, err)
	assert.Equal(t, ids[0], *champ)
}

func TestCancelTournamentRefunds(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 3)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "aborted",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatRoundRobin,
		EntryStake:      50000,
		MaxParticipants: 8,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}

	refunds, err := s.CancelTournament(ctx, tr.ID)
	assert.NoError(t, err)
	assert.Len(t, refunds, 3)
	var total dcrutil.Amount
	for _, r := range refunds {
		total += r.Amount
	}
	assert.Equal(t, dcrutil.Amount(150000), total)
	assert.Equal(t, tournament.StatusCancelled, tr.Status())

	// Started tournaments cannot cancel.
	tr2, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "running",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      50000,
		MaxParticipants: 2,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	assert.NoError(t, s.JoinTournament(ctx, tr2.ID, ids[0]))
	assert.NoError(t, s.JoinTournament(ctx, tr2.ID, ids[1]))
	_, err = s.StartTournament(ctx, tr2.ID)
	assert.NoError(t, err)
	_, err = s.CancelTournament(ctx, tr2.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestAgentPersistenceAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "arena.db")
	clock := newFakeClock()

	db, err := serverdb.NewBoltDB(dbPath)
	assert.NoError(t, err)
	s, err := NewServer(ServerConfig{DB: db, Clock: clock, Log: slog.Disabled})
	assert.NoError(t, err)
	id := testAgentID(7)
	_, err = s.RegisterAgent(context.Background(), id, "resilient")
	assert.NoError(t, err)
	assert.NoError(t, db.Close())

	db2, err := serverdb.NewBoltDB(dbPath)
	assert.NoError(t, err)
	defer db2.Close()
	s2, err := NewServer(ServerConfig{DB: db2, Clock: clock, Log: slog.Disabled})
	assert.NoError(t, err)
	agent, err := s2.GetAgent(id)
	assert.NoError(t, err)
	assert.Equal(t, "resilient", agent.Handle)
	rating, _, _, _ := agent.Snapshot()
	assert.Equal(t, DefaultRating, rating)
}

func TestRunRoundDrivesMatchesConcurrently(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	ids := registerAgents(t, s, 4)

	tr, err := s.CreateTournament(ctx, tournament.Config{
		Name:            "parallel",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      100000,
		MaxParticipants: 4,
		RoundCount:      1,
	})
	assert.NoError(t, err)
	for _, id := range ids {
		assert.NoError(t, s.JoinTournament(ctx, tr.ID, id))
	}
	matches, err := s.StartTournament(ctx, tr.ID)
	assert.NoError(t, err)

	err = RunRound(ctx, matches, func(ctx context.Context, m *Match) error {
		playAndResolve(t, s, m, m.Protocol.Players[0])
		return nil
	})
	assert.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, MatchCompleted, m.Status())
	}
}
