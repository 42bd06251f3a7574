package main

import (
	"context"
	"fmt"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/slog"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server"
	"github.com/kaustubh76/arenaforge/tournament"
)

// strategy picks a move for a given match round.
type strategy func(round int) arena.Move

// exhibitionRoster is the scripted field: a pure cooperator, a pure
// defector, and two mixed lines.
var exhibitionRoster = []struct {
	handle string
	play   strategy
}{
	{"saint", func(int) arena.Move { return arena.MoveCooperate }},
	{"shark", func(int) arena.Move { return arena.MoveDefect }},
	{"waffler", func(r int) arena.Move {
		if r%2 == 1 {
			return arena.MoveCooperate
		}
		return arena.MoveDefect
	}},
	{"turncoat", func(r int) arena.Move {
		if r == 1 {
			return arena.MoveCooperate
		}
		return arena.MoveDefect
	}},
}

const exhibitionStake = 100000

// runExhibition drives a complete scripted tournament through the full
// pipeline: registration, escrow, commit-reveal matches, bracket
// advancement and settlement.
func runExhibition(ctx context.Context, srv *server.Server, log slog.Logger) error {
	strategies := make(map[zkidentity.ShortID]strategy, len(exhibitionRoster))
	ids := make([]zkidentity.ShortID, 0, len(exhibitionRoster))
	for _, entry := range exhibitionRoster {
		var uid zkidentity.ShortID
		sum := blake256.Sum256([]byte(entry.handle))
		copy(uid[:], sum[:])
		if _, err := srv.RegisterAgent(ctx, uid, entry.handle); err != nil {
			return fmt.Errorf("register %s: %w", entry.handle, err)
		}
		strategies[uid] = entry.play
		ids = append(ids, uid)
	}

	t, err := srv.CreateTournament(ctx, tournament.Config{
		Name:            "exhibition",
		GameType:        arena.GameStrategyArena,
		Format:          tournament.FormatSingleElim,
		EntryStake:      exhibitionStake,
		MaxParticipants: len(ids),
		RoundCount:      1,
	})
	if err != nil {
		return fmt.Errorf("create tournament: %w", err)
	}
	for _, uid := range ids {
		if err := srv.JoinTournament(ctx, t.ID, uid); err != nil {
			return fmt.Errorf("join: %w", err)
		}
	}

	matches, err := srv.StartTournament(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	for len(matches) > 0 {
		if err := server.RunRound(ctx, matches, func(ctx context.Context, m *server.Match) error {
			return playExhibitionMatch(ctx, srv, m, strategies)
		}); err != nil {
			return fmt.Errorf("round: %w", err)
		}
		matches, err = srv.AdvanceTournamentRound(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}

	rec, err := srv.CompleteTournament(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	log.Infof("exhibition settled: fee=%d atoms, receipt verified=%v",
		rec.Fee, server.VerifyReceipt(srv.RefereePubKey(), rec))
	for i, p := range rec.Payouts {
		agent := srv.Sessions().GetAgent(shortID(p.UID))
		handle := "?"
		if agent != nil {
			handle = agent.Handle
		}
		log.Infof("  #%d %s: %d atoms", i+1, handle, p.Amount)
	}
	return nil
}

func shortID(b []byte) zkidentity.ShortID {
	var id zkidentity.ShortID
	copy(id[:], b)
	return id
}

// playExhibitionMatch runs every commit-reveal round of one match.
func playExhibitionMatch(ctx context.Context, srv *server.Server, m *server.Match, strategies map[zkidentity.ShortID]strategy) error {
	for round := 1; ; round++ {
		type reveal struct {
			player zkidentity.ShortID
			move   arena.Move
			salt   [arena.SaltSize]byte
		}
		reveals := make([]reveal, 0, 2)
		for _, player := range m.Protocol.Players {
			move := strategies[player](round)
			salt, err := arena.NewSalt()
			if err != nil {
				return err
			}
			if err := srv.CommitMove(ctx, m.ID, player, arena.CommitMove(move, salt)); err != nil {
				return err
			}
			reveals = append(reveals, reveal{player: player, move: move, salt: salt})
		}
		for _, r := range reveals {
			if err := srv.RevealMove(ctx, m.ID, r.player, r.move, r.salt); err != nil {
				return err
			}
		}
		if err := srv.ResolveMatchRound(ctx, m.ID); err != nil {
			return err
		}
		if m.Protocol.State() == arena.StateMatchComplete {
			return nil
		}
		if err := srv.AdvanceMatchRound(ctx, m.ID); err != nil {
			return err
		}
	}
}
