package arena

import (
	"errors"
	"fmt"
)

// GameType selects which GameModule adjudicates a tournament's matches.
// The set is closed; there is no dynamic registration.
type GameType int32

const (
	GameStrategyArena GameType = iota
	GameOracleDuel
	GameAuctionWars
	GameQuizBowl
)

func (g GameType) String() string {
	switch g {
	case GameStrategyArena:
		return "strategy_arena"
	case GameOracleDuel:
		return "oracle_duel"
	case GameAuctionWars:
		return "auction_wars"
	case GameQuizBowl:
		return "quiz_bowl"
	default:
		return "unknown"
	}
}

// BaseGameTypes lists the four base game types in pentathlon event order.
var BaseGameTypes = []GameType{GameStrategyArena, GameOracleDuel, GameAuctionWars, GameQuizBowl}

// Move is one element of a game type's small closed move enumeration.
// MoveNone is never a legal committed move.
type Move byte

const MoveNone Move = 0

// Strategy arena moves.
const (
	MoveCooperate Move = 1
	MoveDefect    Move = 2
)

// Scores are fixed-point in scaled units: 10000 is the best single-round
// outcome any module awards.
const (
	scoreMax    int64 = 10000
	scoreMutual int64 = 5000
	scorePunish int64 = 2000
	scoreSucker int64 = 0
)

// ErrUnknownGameType is returned for a game-type tag outside the closed set.
var ErrUnknownGameType = errors.New("unknown game type")

// GameModule maps a pair of revealed moves to a pair of round scores. All
// implementations must be symmetric under player swap:
// Payoff(b, a) == swap(Payoff(a, b)).
type GameModule interface {
	GameType() GameType

	// Moves enumerates the legal moves for this game type.
	Moves() []Move
	ValidMove(m Move) bool

	// Payoff is the pure (moveA, moveB) -> (scoreA, scoreB) mapping.
	Payoff(a, b Move) (int64, int64)

	// ForfeitPayoff scores a round in which only one side acted. The
	// non-actor receives the worst outcome the module can assign, the
	// actor the best, regardless of the actor's move.
	ForfeitPayoff() (actor, forfeiter int64)
}

// NewGameModule returns the module for a game-type tag.
func NewGameModule(gt GameType) (GameModule, error) {
	switch gt {
	case GameStrategyArena:
		return StrategyModule{}, nil
	case GameOracleDuel:
		return OracleModule{}, nil
	case GameAuctionWars:
		return AuctionModule{}, nil
	case GameQuizBowl:
		return QuizModule{Answer: quizDefaultAnswer}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownGameType, gt)
	}
}

// StrategyModule is the reference iterated-dilemma payoff matrix:
// mutual cooperation pays both 5000, mutual defection pays both 2000,
// and one-sided defection pays the defector 10000 against 0.
type StrategyModule struct{}

func (StrategyModule) GameType() GameType { return GameStrategyArena }
func (StrategyModule) Moves() []Move      { return []Move{MoveCooperate, MoveDefect} }
func (StrategyModule) ValidMove(m Move) bool {
	return m == MoveCooperate || m == MoveDefect
}

func (StrategyModule) Payoff(a, b Move) (int64, int64) {
	switch {
	case a == MoveCooperate && b == MoveCooperate:
		return scoreMutual, scoreMutual
	case a == MoveDefect && b == MoveDefect:
		return scorePunish, scorePunish
	case a == MoveDefect:
		return scoreMax, scoreSucker
	default:
		return scoreSucker, scoreMax
	}
}

func (StrategyModule) ForfeitPayoff() (int64, int64) { return scoreMax, scoreSucker }

// Oracle duel moves are predictions 0..9 encoded as Move 1..10.
const (
	oracleMoveBase  Move = 1
	oracleMoveCount      = 10
)

// OracleMove encodes a prediction in [0,9] as a legal oracle-duel move.
func OracleMove(prediction int) Move {
	return oracleMoveBase + Move(prediction%oracleMoveCount)
}

// OracleModule scores prediction accuracy. The target is jointly determined
// by both predictions ((a+b) mod 10) so neither side controls it alone;
// each agent earns 10000 minus 1000 per unit of distance to the target.
type OracleModule struct{}

func (OracleModule) GameType() GameType { return GameOracleDuel }

func (OracleModule) Moves() []Move {
	out := make([]Move, oracleMoveCount)
	for i := range out {
		out[i] = oracleMoveBase + Move(i)
	}
	return out
}

func (OracleModule) ValidMove(m Move) bool {
	return m >= oracleMoveBase && m < oracleMoveBase+Move(oracleMoveCount)
}

func (OracleModule) Payoff(a, b Move) (int64, int64) {
	pa := int(a - oracleMoveBase)
	pb := int(b - oracleMoveBase)
	target := (pa + pb) % oracleMoveCount
	return oracleScore(pa, target), oracleScore(pb, target)
}

func oracleScore(prediction, target int) int64 {
	d := prediction - target
	if d < 0 {
		d = -d
	}
	// Distance wraps around the ring of 10 values.
	if d > oracleMoveCount/2 {
		d = oracleMoveCount - d
	}
	s := scoreMax - int64(d)*1000
	if s < 0 {
		s = 0
	}
	return s
}

func (OracleModule) ForfeitPayoff() (int64, int64) { return scoreMax, scoreSucker }

// Auction wars moves are bids 0..9 encoded as Move 1..10.
const (
	auctionMoveBase  Move = 1
	auctionMoveCount      = 10
)

// AuctionMove encodes a bid in [0,9] as a legal auction-wars move.
func AuctionMove(bid int) Move {
	return auctionMoveBase + Move(bid%auctionMoveCount)
}

// AuctionModule is a sealed-bid first-price auction over a lot worth 10000:
// the higher bid wins the lot and pays its bid (x1000); the loser scores
// zero; equal bids split the surplus.
type AuctionModule struct{}

func (AuctionModule) GameType() GameType { return GameAuctionWars }

func (AuctionModule) Moves() []Move {
	out := make([]Move, auctionMoveCount)
	for i := range out {
		out[i] = auctionMoveBase + Move(i)
	}
	return out
}

func (AuctionModule) ValidMove(m Move) bool {
	return m >= auctionMoveBase && m < auctionMoveBase+Move(auctionMoveCount)
}

func (AuctionModule) Payoff(a, b Move) (int64, int64) {
	bidA := int64(a - auctionMoveBase)
	bidB := int64(b - auctionMoveBase)
	switch {
	case bidA > bidB:
		return scoreMax - bidA*1000, 0
	case bidB > bidA:
		return 0, scoreMax - bidB*1000
	default:
		surplus := scoreMax - bidA*1000
		return surplus / 2, surplus / 2
	}
}

func (AuctionModule) ForfeitPayoff() (int64, int64) { return scoreMax, scoreSucker }

// Quiz bowl moves are answer indexes 0..3 encoded as Move 1..4.
const (
	quizMoveBase      Move = 1
	quizMoveCount          = 4
	quizDefaultAnswer Move = quizMoveBase
)

// QuizMove encodes an answer index in [0,3] as a legal quiz-bowl move.
func QuizMove(answer int) Move {
	return quizMoveBase + Move(answer%quizMoveCount)
}

// QuizModule scores correctness against a fixed answer: correct earns
// 10000, incorrect zero.
type QuizModule struct {
	Answer Move
}

func (QuizModule) GameType() GameType { return GameQuizBowl }

func (QuizModule) Moves() []Move {
	out := make([]Move, quizMoveCount)
	for i := range out {
		out[i] = quizMoveBase + Move(i)
	}
	return out
}

func (QuizModule) ValidMove(m Move) bool {
	return m >= quizMoveBase && m < quizMoveBase+Move(quizMoveCount)
}

func (q QuizModule) Payoff(a, b Move) (int64, int64) {
	var sa, sb int64
	if a == q.Answer {
		sa = scoreMax
	}
	if b == q.Answer {
		sb = scoreMax
	}
	return sa, sb
}

func (QuizModule) ForfeitPayoff() (int64, int64) { return scoreMax, scoreSucker }
