package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"

	"github.com/kaustubh76/arenaforge/arena"
	"github.com/kaustubh76/arenaforge/server/serverdb"
	"github.com/kaustubh76/arenaforge/tournament"
)

var (
	ErrMatchNotComplete    = errors.New("match has not completed")
	ErrMatchAlreadySettled = errors.New("match already settled")
	ErrUnknownAgent        = errors.New("agent has no session")
)

const (
	// eloK is the K-factor applied to every rating update.
	eloK = 32

	// DefaultRating seeds newly registered agents.
	DefaultRating = 1000
)

// prizeSplitBps is the champion / runner-up / third-place share of the
// distributable pool, in basis points. Shares for ranks the roster
// cannot fill accrue to the champion, as does integer-division dust, so
// fee plus payouts always equals the pool exactly.
var prizeSplitBps = []int64{6000, 2500, 1500}

const receiptTag = "ArenaForge/SettlementReceipt/v1"

// SettlementCoordinator folds completed matches into agent records and
// the owning tournament, and pays out completed tournaments. It holds
// the referee identity key; every match result digest and settlement
// receipt is Schnorr-signed so winners can verify the adjudication
// offline.
type SettlementCoordinator struct {
	mu sync.Mutex

	priv     *secp256k1.PrivateKey
	sessions *arena.AgentSessions
	escrow   *EscrowLedger
	db       serverdb.ServerDB
	feeBps   int64
	clock    arena.Clock
	log      slog.Logger

	settledMatches map[uint64]*schnorr.Signature
}

func NewSettlementCoordinator(priv *secp256k1.PrivateKey, sessions *arena.AgentSessions,
	escrow *EscrowLedger, db serverdb.ServerDB, feeBps int64, clock arena.Clock,
	log slog.Logger) (*SettlementCoordinator, error) {
	if priv == nil {
		return nil, fmt.Errorf("referee private key required")
	}
	if feeBps < 0 || feeBps > 10000 {
		return nil, fmt.Errorf("fee %d out of range [0, 10000] bps", feeBps)
	}
	return &SettlementCoordinator{
		priv:           priv,
		sessions:       sessions,
		escrow:         escrow,
		db:             db,
		feeBps:         feeBps,
		clock:          clock,
		log:            log,
		settledMatches: make(map[uint64]*schnorr.Signature),
	}, nil
}

// RefereePubKey returns the public key receipts verify against.
func (sc *SettlementCoordinator) RefereePubKey() *secp256k1.PublicKey {
	return sc.priv.PubKey()
}

// expectedScore is the standard ELO expectation of a against b.
func expectedScore(ra, rb int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(rb-ra)/400))
}

// nextRating applies one K-factor update. score is 1 for a win, 0.5 for
// a draw, 0 for a loss.
func nextRating(rating, opponent int, score float64) int {
	return rating + int(math.Round(eloK*(score-expectedScore(rating, opponent))))
}

// SettleMatch applies a completed match exactly once: both agents'
// counters and ratings update, the result digest is signed, and the
// winner (nil on a draw) is returned for the caller to feed into the
// tournament bracket.
func (sc *SettlementCoordinator) SettleMatch(ctx context.Context, match *arena.MatchProtocol) (*zkidentity.ShortID, error) {
	if match.State() != arena.StateMatchComplete {
		return nil, ErrMatchNotComplete
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.settledMatches[match.MatchID]; ok {
		return nil, ErrMatchAlreadySettled
	}

	a := sc.sessions.GetAgent(match.Players[0])
	b := sc.sessions.GetAgent(match.Players[1])
	if a == nil || b == nil {
		return nil, ErrUnknownAgent
	}

	winner := match.Winner()
	scoreA := 0.5
	switch {
	case winner != nil && *winner == match.Players[0]:
		scoreA = 1
	case winner != nil:
		scoreA = 0
	}

	ratingA, _, _, _ := a.Snapshot()
	ratingB, _, _, _ := b.Snapshot()
	newA := nextRating(ratingA, ratingB, scoreA)
	newB := nextRating(ratingB, ratingA, 1-scoreA)
	a.RecordOutcome(newA, scoreA == 1, winner == nil)
	b.RecordOutcome(newB, scoreA == 0, winner == nil)

	digest, err := match.ResultDigest()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(sc.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign result digest: %w", err)
	}
	sc.settledMatches[match.MatchID] = sig

	if err := sc.persistAgents(ctx, a, b); err != nil {
		return nil, err
	}

	sc.log.Infof("settled match %d: winner=%v ratings %d->%d / %d->%d",
		match.MatchID, winner, ratingA, newA, ratingB, newB)
	return winner, nil
}

// MatchSignature returns the referee signature over a settled match's
// result digest, nil when the match has not settled.
func (sc *SettlementCoordinator) MatchSignature(matchID uint64) *schnorr.Signature {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.settledMatches[matchID]
}

func (sc *SettlementCoordinator) persistAgents(ctx context.Context, agents ...*arena.Agent) error {
	if sc.db == nil {
		return nil
	}
	for _, a := range agents {
		rating, wins, losses, matches := a.Snapshot()
		rec := &serverdb.AgentRecord{
			UID:     a.ID[:],
			Handle:  a.Handle,
			Rating:  rating,
			Wins:    wins,
			Losses:  losses,
			Draws:   matches - wins - losses,
			Matches: matches,
		}
		if err := sc.db.SaveAgent(ctx, rec); err != nil {
			return fmt.Errorf("persist agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// SplitPrizePool computes the fee and the top-three payouts for a pool.
// Missing ranks and rounding dust accrue to the champion; fee plus
// payouts always sums to the pool.
func SplitPrizePool(pool dcrutil.Amount, ranking []zkidentity.ShortID, feeBps int64) (dcrutil.Amount, []Payout) {
	fee := dcrutil.Amount(int64(pool) * feeBps / 10000)
	distributable := pool - fee

	n := len(ranking)
	if n > len(prizeSplitBps) {
		n = len(prizeSplitBps)
	}
	payouts := make([]Payout, 0, n)
	var assigned dcrutil.Amount
	for i := 0; i < n; i++ {
		amt := dcrutil.Amount(int64(distributable) * prizeSplitBps[i] / 10000)
		payouts = append(payouts, Payout{Agent: ranking[i], Amount: amt})
		assigned += amt
	}
	if len(payouts) > 0 {
		payouts[0].Amount += distributable - assigned
	}
	return fee, payouts
}

// receiptDigest hashes the full distribution so the signature covers
// every payout line.
func receiptDigest(tournamentID uint64, payouts []Payout, fee dcrutil.Amount) chainhash.Hash {
	h := blake256.New()
	h.Write([]byte(receiptTag))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tournamentID)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(fee))
	h.Write(buf[:])
	for _, p := range payouts {
		h.Write(p.Agent[:])
		binary.BigEndian.PutUint64(buf[:], uint64(p.Amount))
		h.Write(buf[:])
	}
	var digest chainhash.Hash
	copy(digest[:], h.Sum(nil))
	return digest
}

// SettleTournament pays out a completed tournament: the platform fee is
// retained, the split applied over the final ranking, the batch posted
// to escrow in one step, and a signed receipt persisted. Escrow's
// at-most-once rule makes repeat settlement fail loudly.
func (sc *SettlementCoordinator) SettleTournament(ctx context.Context, t *tournament.Tournament) (*serverdb.SettlementReceipt, error) {
	ranking, err := t.FinalRanking()
	if err != nil {
		return nil, err
	}
	pool, err := sc.escrow.Pool(t.ID)
	if err != nil {
		return nil, err
	}

	fee, payouts := SplitPrizePool(pool, ranking, sc.feeBps)
	if err := sc.escrow.BatchDistribute(t.ID, payouts, fee); err != nil {
		return nil, err
	}

	digest := receiptDigest(t.ID, payouts, fee)
	sig, err := schnorr.Sign(sc.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	rec := &serverdb.SettlementReceipt{
		TournamentID: t.ID,
		Fee:          int64(fee),
		Digest:       digest[:],
		Signature:    sig.Serialize(),
		SettledAt:    sc.clock.Now(),
	}
	for _, p := range payouts {
		rec.Payouts = append(rec.Payouts, serverdb.PayoutRecord{
			UID:    append([]byte(nil), p.Agent[:]...),
			Amount: int64(p.Amount),
		})
	}
	if sc.db != nil {
		if err := sc.db.SaveReceipt(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist receipt: %w", err)
		}
	}

	sc.log.Infof("settled tournament %d: pool=%s fee=%s payouts=%d",
		t.ID, pool, fee, len(payouts))
	return rec, nil
}

// VerifyReceipt checks a receipt's signature against the referee key.
func VerifyReceipt(pub *secp256k1.PublicKey, rec *serverdb.SettlementReceipt) bool {
	sig, err := schnorr.ParseSignature(rec.Signature)
	if err != nil {
		return false
	}
	return sig.Verify(rec.Digest, pub)
}
