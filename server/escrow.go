package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
)

var (
	ErrNoEscrowAccount    = errors.New("no escrow account for tournament")
	ErrEscrowExists       = errors.New("escrow account already open")
	ErrDuplicateDeposit   = errors.New("agent already deposited")
	ErrAlreadyDistributed = errors.New("escrow already distributed")
	ErrAlreadyRefunded    = errors.New("escrow already refunded")
	ErrInsufficientPool   = errors.New("distribution exceeds remaining pool")
	ErrLockExists         = errors.New("match already holds an escrow lock")
	ErrNoSuchLock         = errors.New("no escrow lock for match")
)

// Payout is one distribution line: an agent and the atoms it receives.
type Payout struct {
	Agent  zkidentity.ShortID
	Amount dcrutil.Amount
}

// escrowAccount is the book for one tournament's stakes. Deposits are
// exact and collected once per agent; locks are per-match bookkeeping
// markers and never move funds.
type escrowAccount struct {
	tournamentID uint64
	deposits     map[zkidentity.ShortID]dcrutil.Amount
	locks        map[uint64][]zkidentity.ShortID // matchID -> staked agents
	pool         dcrutil.Amount
	paidOut      dcrutil.Amount
	distributed  bool
	refunded     bool
}

func (a *escrowAccount) remaining() dcrutil.Amount {
	return a.pool - a.paidOut
}

// EscrowLedger tracks entry stakes per tournament. All amounts are
// integer atoms; no operation may create or destroy value, so the sum of
// payouts and refunds over an account's lifetime never exceeds its
// deposits.
type EscrowLedger struct {
	mu       sync.Mutex
	accounts map[uint64]*escrowAccount
	log      slog.Logger
}

func NewEscrowLedger(log slog.Logger) *EscrowLedger {
	return &EscrowLedger{
		accounts: make(map[uint64]*escrowAccount),
		log:      log,
	}
}

// OpenAccount creates the escrow book for a tournament.
func (el *EscrowLedger) OpenAccount(tournamentID uint64) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if _, ok := el.accounts[tournamentID]; ok {
		return ErrEscrowExists
	}
	el.accounts[tournamentID] = &escrowAccount{
		tournamentID: tournamentID,
		deposits:     make(map[zkidentity.ShortID]dcrutil.Amount),
		locks:        make(map[uint64][]zkidentity.ShortID),
	}
	return nil
}

// Deposit collects an agent's entry stake, exactly once.
func (el *EscrowLedger) Deposit(tournamentID uint64, agent zkidentity.ShortID, amount dcrutil.Amount) error {
	if amount < 0 {
		return fmt.Errorf("negative deposit %d", amount)
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return ErrNoEscrowAccount
	}
	if acct.distributed || acct.refunded {
		return fmt.Errorf("escrow for tournament %d is closed", tournamentID)
	}
	if _, ok := acct.deposits[agent]; ok {
		return ErrDuplicateDeposit
	}
	acct.deposits[agent] = amount
	acct.pool += amount
	el.log.Debugf("escrow %d: deposit %s from %s, pool=%s",
		tournamentID, amount, agent, acct.pool)
	return nil
}

// Pool returns the total deposited atoms for a tournament.
func (el *EscrowLedger) Pool(tournamentID uint64) (dcrutil.Amount, error) {
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return 0, ErrNoEscrowAccount
	}
	return acct.pool, nil
}

// LockForMatch marks the participants' stakes as committed to a match.
// Locks are bookkeeping only; stakes stay in the pool.
func (el *EscrowLedger) LockForMatch(tournamentID, matchID uint64, agents ...zkidentity.ShortID) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return ErrNoEscrowAccount
	}
	if _, ok := acct.locks[matchID]; ok {
		return ErrLockExists
	}
	for _, agent := range agents {
		if _, ok := acct.deposits[agent]; !ok {
			return fmt.Errorf("agent %s has no deposit in tournament %d", agent, tournamentID)
		}
	}
	acct.locks[matchID] = append([]zkidentity.ShortID(nil), agents...)
	return nil
}

// ReleaseLock clears a match's escrow lock once the match settles.
func (el *EscrowLedger) ReleaseLock(tournamentID, matchID uint64) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return ErrNoEscrowAccount
	}
	if _, ok := acct.locks[matchID]; !ok {
		return ErrNoSuchLock
	}
	delete(acct.locks, matchID)
	return nil
}

// RefundAll returns every deposit to its agent and closes the account.
// Only legal before any distribution.
func (el *EscrowLedger) RefundAll(tournamentID uint64) ([]Payout, error) {
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return nil, ErrNoEscrowAccount
	}
	if acct.distributed {
		return nil, ErrAlreadyDistributed
	}
	if acct.refunded {
		return nil, ErrAlreadyRefunded
	}
	refunds := make([]Payout, 0, len(acct.deposits))
	for agent, amount := range acct.deposits {
		refunds = append(refunds, Payout{Agent: agent, Amount: amount})
		acct.paidOut += amount
	}
	acct.refunded = true
	el.log.Infof("escrow %d: refunded %d deposits, %s total",
		tournamentID, len(refunds), acct.pool)
	return refunds, nil
}

// BatchDistribute applies a set of payouts plus a retained fee in one
// atomic step. The whole batch is rejected, with no partial application,
// when it exceeds the remaining pool. An account distributes at most
// once.
func (el *EscrowLedger) BatchDistribute(tournamentID uint64, payouts []Payout, fee dcrutil.Amount) error {
	if fee < 0 {
		return fmt.Errorf("negative fee %d", fee)
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return ErrNoEscrowAccount
	}
	if acct.distributed {
		return ErrAlreadyDistributed
	}
	if acct.refunded {
		return ErrAlreadyRefunded
	}

	total := fee
	for _, p := range payouts {
		if p.Amount < 0 {
			return fmt.Errorf("negative payout %d to %s", p.Amount, p.Agent)
		}
		total += p.Amount
	}
	if total > acct.remaining() {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientPool, total, acct.remaining())
	}

	acct.paidOut += total
	acct.distributed = true
	el.log.Infof("escrow %d: distributed %s over %d payouts, fee=%s, dust=%s",
		tournamentID, total-fee, len(payouts), fee, acct.remaining())
	return nil
}

// DistributePrize pays a single agent out of the remaining pool. Unlike
// BatchDistribute it does not close the account, so several prizes can
// be drawn down one at a time; it is rejected once the account has been
// batch-distributed or refunded.
func (el *EscrowLedger) DistributePrize(tournamentID uint64, agent zkidentity.ShortID, amount dcrutil.Amount) error {
	if amount < 0 {
		return fmt.Errorf("negative payout %d to %s", amount, agent)
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	if !ok {
		return ErrNoEscrowAccount
	}
	if acct.distributed {
		return ErrAlreadyDistributed
	}
	if acct.refunded {
		return ErrAlreadyRefunded
	}
	if amount > acct.remaining() {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientPool, amount, acct.remaining())
	}
	acct.paidOut += amount
	el.log.Debugf("escrow %d: prize %s to %s, remaining=%s",
		tournamentID, amount, agent, acct.remaining())
	return nil
}

// Distributed reports whether a tournament's escrow has paid out.
func (el *EscrowLedger) Distributed(tournamentID uint64) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	acct, ok := el.accounts[tournamentID]
	return ok && acct.distributed
}
