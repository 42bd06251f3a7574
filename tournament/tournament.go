package tournament

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"

	"github.com/kaustubh76/arenaforge/arena"
)

// Format selects the bracket topology and advancement rule.
type Format int32

const (
	FormatSingleElim Format = iota
	FormatDoubleElim
	FormatSwiss
	FormatRoundRobin
	FormatBestOfN
	FormatRoyalRumble
	FormatPentathlon
)

func (f Format) String() string {
	switch f {
	case FormatSingleElim:
		return "single_elimination"
	case FormatDoubleElim:
		return "double_elimination"
	case FormatSwiss:
		return "swiss"
	case FormatRoundRobin:
		return "round_robin"
	case FormatBestOfN:
		return "best_of_n"
	case FormatRoyalRumble:
		return "royal_rumble"
	case FormatPentathlon:
		return "pentathlon"
	default:
		return "unknown"
	}
}

// Status is the tournament lifecycle. A tournament is immutable once it
// reaches Completed or Cancelled.
type Status int32

const (
	StatusOpen Status = iota
	StatusActive
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrNotOpen            = errors.New("tournament is not open for joining")
	ErrNotActive          = errors.New("tournament is not active")
	ErrFull               = errors.New("tournament is full")
	ErrAlreadyJoined      = errors.New("agent already joined")
	ErrRosterTooSmall     = errors.New("tournament needs at least 2 participants")
	ErrRoundIncomplete    = errors.New("current round has unfinished matches")
	ErrRoundMismatch      = errors.New("result does not belong to the current round")
	ErrUnknownSlot        = errors.New("unknown match slot for current round")
	ErrSlotAlreadySettled = errors.New("match slot already settled")
	ErrAlreadyStarted     = errors.New("tournament already started")
	ErrNotCompleted       = errors.New("tournament has not completed")
	ErrWaitingForEntrant  = errors.New("waiting for the next staggered entrant")
)

// RatingFunc resolves an agent's current rating for seeding and
// tie-breaks.
type RatingFunc func(zkidentity.ShortID) int

// Pairing is one emitted match slot: two agents to be adjudicated in the
// given round. Slot indexes are positions within the round.
type Pairing struct {
	Round    int
	Slot     int
	A, B     zkidentity.ShortID
	GameType arena.GameType
}

// bracket is a format-specific pairing/advancement strategy. Brackets are
// never mutated outside the owning Tournament, which serializes access.
type bracket interface {
	// Start builds the initial structure and emits round 1 pairings.
	Start() ([]Pairing, error)

	// RecordResult settles one of the current round's slots. A nil
	// winner records a draw; formats that cannot represent draws never
	// see one (the Tournament resolves it by seed first).
	RecordResult(slot int, winner *zkidentity.ShortID) error

	// RoundComplete reports whether every emitted slot of the current
	// round is settled.
	RoundComplete() bool

	// AdvanceRound emits the next round's pairings. An empty slice with
	// Completed() false means the bracket is waiting on an external
	// condition (staggered entry).
	AdvanceRound() ([]Pairing, error)

	Completed() bool
	Champion() *zkidentity.ShortID

	// FinalRanking orders all entrants best-first once completed.
	FinalRanking() []zkidentity.ShortID
}

// Config carries the creation parameters of a tournament.
type Config struct {
	ID              uint64
	Name            string
	GameType        arena.GameType
	Format          Format
	EntryStake      dcrutil.Amount
	MaxParticipants int

	// ParamsHash is an opaque digest of the creator's ruleset parameters.
	// The engine stores it verbatim; it never influences play.
	ParamsHash chainhash.Hash

	// RoundCount is format-specific: rounds per match for elimination
	// formats, tournament rounds for Swiss, N for best-of-N.
	RoundCount int

	// EntryInterval is the royal-rumble staggered entry period.
	EntryInterval time.Duration

	// PositionPoints overrides the pentathlon per-event position points
	// table (best position first). Nil selects the default 10..1 table.
	PositionPoints []int
}

// Tournament is the bracket state machine for one competition. All public
// methods serialize on the embedded mutex; only round advancement needs
// exclusivity relative to the round's matches, which callers get for free
// by settling results through RecordResult.
type Tournament struct {
	sync.RWMutex

	ID              uint64
	Name            string
	GameType        arena.GameType
	Format          Format
	EntryStake      dcrutil.Amount
	MaxParticipants int
	ParamsHash      chainhash.Hash
	RoundCount      int
	EntryInterval   time.Duration
	PositionPoints  []int

	Roster       []zkidentity.ShortID // join order
	CreatedAt    time.Time
	PrizePool    dcrutil.Amount
	status       Status
	currentRound int

	bracket  bracket
	current  map[int]Pairing // open round's pairings by slot
	clock    arena.Clock
	ratingOf RatingFunc
	log      slog.Logger
}

// New creates an open tournament ready to accept joins.
func New(cfg Config, clock arena.Clock, ratingOf RatingFunc, log slog.Logger) (*Tournament, error) {
	if cfg.MaxParticipants < 2 {
		return nil, fmt.Errorf("max participants must be at least 2, got %d", cfg.MaxParticipants)
	}
	if cfg.RoundCount < 1 {
		return nil, fmt.Errorf("round count must be at least 1, got %d", cfg.RoundCount)
	}
	if cfg.EntryStake < 0 {
		return nil, fmt.Errorf("entry stake cannot be negative")
	}
	return &Tournament{
		ID:              cfg.ID,
		Name:            cfg.Name,
		GameType:        cfg.GameType,
		Format:          cfg.Format,
		EntryStake:      cfg.EntryStake,
		MaxParticipants: cfg.MaxParticipants,
		ParamsHash:      cfg.ParamsHash,
		RoundCount:      cfg.RoundCount,
		EntryInterval:   cfg.EntryInterval,
		PositionPoints:  cfg.PositionPoints,
		CreatedAt:       clock.Now(),
		status:          StatusOpen,
		current:         make(map[int]Pairing),
		clock:           clock,
		ratingOf:        ratingOf,
		log:             log,
	}, nil
}

// Join adds an agent to the roster and accrues its entry stake to the
// prize pool. The stake is collected exactly once per agent: duplicate
// joins are rejected without touching the pool.
func (t *Tournament) Join(agent zkidentity.ShortID) error {
	t.Lock()
	defer t.Unlock()

	if t.status != StatusOpen {
		return ErrNotOpen
	}
	if len(t.Roster) >= t.MaxParticipants {
		return ErrFull
	}
	for _, id := range t.Roster {
		if id == agent {
			return ErrAlreadyJoined
		}
	}
	t.Roster = append(t.Roster, agent)
	t.PrizePool += t.EntryStake
	return nil
}

// Start transitions Open -> Active, builds the bracket and emits the
// first round's pairings.
func (t *Tournament) Start() ([]Pairing, error) {
	t.Lock()
	defer t.Unlock()

	if t.status == StatusActive {
		return nil, ErrAlreadyStarted
	}
	if t.status != StatusOpen {
		return nil, ErrNotOpen
	}
	if len(t.Roster) < 2 {
		return nil, ErrRosterTooSmall
	}

	roster := append([]zkidentity.ShortID(nil), t.Roster...)
	switch t.Format {
	case FormatSingleElim:
		t.bracket = newSingleElim(roster)
	case FormatDoubleElim:
		t.bracket = newDoubleElim(roster)
	case FormatSwiss:
		t.bracket = newSwiss(roster, t.RoundCount, t.ratingOf)
	case FormatRoundRobin:
		t.bracket = newRoundRobin(roster)
	case FormatBestOfN:
		t.bracket = newBestOf(roster, t.RoundCount)
	case FormatRoyalRumble:
		t.bracket = newRoyalRumble(roster, t.EntryInterval, t.clock)
	case FormatPentathlon:
		t.bracket = newPentathlon(roster, t.PositionPoints, t.ratingOf)
	default:
		return nil, fmt.Errorf("unsupported format %d", t.Format)
	}

	pairings, err := t.bracket.Start()
	if err != nil {
		return nil, err
	}
	t.status = StatusActive
	t.currentRound = 1
	pairings = t.stamp(pairings)
	t.setCurrent(pairings)
	t.log.Infof("tournament %d (%s) started: %d agents, %d first-round matches",
		t.ID, t.Format, len(t.Roster), len(pairings))
	return pairings, nil
}

// setCurrent replaces the open-round pairing index. Callers hold the lock.
func (t *Tournament) setCurrent(pairings []Pairing) {
	t.current = make(map[int]Pairing, len(pairings))
	for _, p := range pairings {
		t.current[p.Slot] = p
	}
}

// stamp fills the round number onto emitted pairings. Callers hold the
// lock.
func (t *Tournament) stamp(pairings []Pairing) []Pairing {
	out := make([]Pairing, len(pairings))
	for i, p := range pairings {
		p.Round = t.currentRound
		if p.GameType == 0 && t.Format != FormatPentathlon {
			p.GameType = t.GameType
		}
		out[i] = p
	}
	return out
}

// seedOf returns an agent's join-order seed, lower is stronger.
func (t *Tournament) seedOf(id zkidentity.ShortID) int {
	for i, r := range t.Roster {
		if r == id {
			return i
		}
	}
	return len(t.Roster)
}

// RecordResult feeds one match outcome into the bracket. Draws (nil
// winner) are resolved by join-order seed for formats whose advancement
// rule requires a decisive outcome.
func (t *Tournament) RecordResult(round, slot int, winner *zkidentity.ShortID) error {
	t.Lock()
	defer t.Unlock()

	if t.status != StatusActive {
		return ErrNotActive
	}
	if round != t.currentRound {
		return fmt.Errorf("%w: got round %d, current is %d", ErrRoundMismatch, round, t.currentRound)
	}
	p, ok := t.current[slot]
	if !ok {
		return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slot)
	}

	if winner == nil && t.Format.requiresDecisive() {
		// Higher seed (earlier join) advances on a drawn match.
		w := p.A
		if t.seedOf(p.B) < t.seedOf(p.A) {
			w = p.B
		}
		winner = &w
		t.log.Debugf("tournament %d: draw in round %d slot %d resolved to seed %s",
			t.ID, round, slot, w)
	}
	if winner != nil && *winner != p.A && *winner != p.B {
		return fmt.Errorf("winner %s is not part of round %d slot %d", winner, round, slot)
	}
	return t.bracket.RecordResult(slot, winner)
}

func (f Format) requiresDecisive() bool {
	switch f {
	case FormatSingleElim, FormatDoubleElim, FormatBestOfN, FormatRoyalRumble:
		return true
	default:
		return false
	}
}

// AdvanceRound transitions to the next round once every match of the
// current round is settled, emitting the new pairings. When the bracket
// has completed it returns no pairings and flips the tournament to
// Completed.
func (t *Tournament) AdvanceRound() ([]Pairing, error) {
	t.Lock()
	defer t.Unlock()

	if t.status != StatusActive {
		return nil, ErrNotActive
	}
	if !t.bracket.RoundComplete() {
		return nil, ErrRoundIncomplete
	}
	pairings, err := t.bracket.AdvanceRound()
	if err != nil {
		return nil, err
	}
	if t.bracket.Completed() {
		t.status = StatusCompleted
		t.current = nil
		t.log.Infof("tournament %d completed, champion=%v", t.ID, t.bracket.Champion())
		return nil, nil
	}
	if len(pairings) == 0 {
		// Staggered-entry formats can be between entrants.
		return nil, ErrWaitingForEntrant
	}
	t.currentRound++
	pairings = t.stamp(pairings)
	t.setCurrent(pairings)
	return pairings, nil
}

// Cancel aborts an Open tournament. No cancellation path exists once
// matches have started.
func (t *Tournament) Cancel() error {
	t.Lock()
	defer t.Unlock()
	if t.status != StatusOpen {
		return fmt.Errorf("%w: cancel from %s", ErrNotOpen, t.status)
	}
	t.status = StatusCancelled
	return nil
}

// Status returns the lifecycle status.
func (t *Tournament) Status() Status {
	t.RLock()
	defer t.RUnlock()
	return t.status
}

// CurrentRound returns the 1-based open round index, 0 before start.
func (t *Tournament) CurrentRound() int {
	t.RLock()
	defer t.RUnlock()
	return t.currentRound
}

// CurrentPairings returns a copy of the open round's pairings.
func (t *Tournament) CurrentPairings() []Pairing {
	t.RLock()
	defer t.RUnlock()
	out := make([]Pairing, 0, len(t.current))
	for _, p := range t.current {
		p.Round = t.currentRound
		out = append(out, p)
	}
	return out
}

// Champion returns the winner of a completed tournament.
func (t *Tournament) Champion() (*zkidentity.ShortID, error) {
	t.RLock()
	defer t.RUnlock()
	if t.status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	return t.bracket.Champion(), nil
}

// FinalRanking returns all entrants best-first for a completed
// tournament.
func (t *Tournament) FinalRanking() ([]zkidentity.ShortID, error) {
	t.RLock()
	defer t.RUnlock()
	if t.status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	return t.bracket.FinalRanking(), nil
}

// Participants returns a copy of the roster in join order.
func (t *Tournament) Participants() []zkidentity.ShortID {
	t.RLock()
	defer t.RUnlock()
	return append([]zkidentity.ShortID(nil), t.Roster...)
}

// EliminationLog exposes the royal-rumble elimination records, nil for
// other formats.
func (t *Tournament) EliminationLog() []Elimination {
	t.RLock()
	defer t.RUnlock()
	if rr, ok := t.bracket.(*royalRumble); ok {
		return rr.eliminationLog()
	}
	return nil
}
