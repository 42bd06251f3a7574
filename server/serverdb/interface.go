package serverdb

import (
	"context"
	"errors"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrReceiptNotFound    = errors.New("settlement receipt not found")
	ErrDuplicateReceipt   = errors.New("settlement receipt already stored")
	ErrMainBucketNotFound = errors.New("main bucket not found")
)

// AgentRecord is the persisted form of a registered agent.
type AgentRecord struct {
	UID       []byte    `json:"uid"`
	Handle    string    `json:"handle"`
	Rating    int       `json:"rating"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	Matches   int       `json:"matches"`
	CreatedAt time.Time `json:"created_at"`
}

// PayoutRecord is one line of a settlement receipt: an agent and the
// atoms credited to it.
type PayoutRecord struct {
	UID    []byte `json:"uid"`
	Amount int64  `json:"amount"`
}

// SettlementReceipt stores the final distribution of a completed
// tournament: who got paid what, the fee retained, and the referee's
// signature over the receipt digest.
type SettlementReceipt struct {
	TournamentID uint64         `json:"tournament_id"`
	Payouts      []PayoutRecord `json:"payouts"`
	Fee          int64          `json:"fee"`
	Digest       []byte         `json:"digest"`
	Signature    []byte         `json:"signature"`
	SettledAt    time.Time      `json:"settled_at"`
}

type ServerDB interface {
	SaveAgent(ctx context.Context, rec *AgentRecord) error
	FetchAgent(ctx context.Context, uid zkidentity.ShortID) (*AgentRecord, error)
	FetchAllAgents(ctx context.Context) ([]*AgentRecord, error)

	SaveReceipt(ctx context.Context, rec *SettlementReceipt) error
	FetchReceipt(ctx context.Context, tournamentID uint64) (*SettlementReceipt, error)
	FetchAllReceipts(ctx context.Context) ([]*SettlementReceipt, error)

	Close() error
}
