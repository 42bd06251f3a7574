package server

import (
	"testing"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
)

func testAgentID(n byte) zkidentity.ShortID {
	var id zkidentity.ShortID
	id[0] = n
	return id
}

const testStake = dcrutil.Amount(100000)

func newTestLedger(t *testing.T, tournamentID uint64, agents int) *EscrowLedger {
	t.Helper()
	el := NewEscrowLedger(slog.Disabled)
	assert.NoError(t, el.OpenAccount(tournamentID))
	for i := 0; i < agents; i++ {
		assert.NoError(t, el.Deposit(tournamentID, testAgentID(byte(i+1)), testStake))
	}
	return el
}

func TestEscrowPoolAccrual(t *testing.T) {
	el := newTestLedger(t, 1, 4)

	// The pool is exactly the sum of the deposits.
	pool, err := el.Pool(1)
	assert.NoError(t, err)
	assert.Equal(t, 4*testStake, pool)

	// Exactly-once: a repeat deposit is rejected and the pool is
	// untouched.
	assert.ErrorIs(t, el.Deposit(1, testAgentID(1), testStake), ErrDuplicateDeposit)
	pool, err = el.Pool(1)
	assert.NoError(t, err)
	assert.Equal(t, 4*testStake, pool)
}

func TestEscrowAccountGuards(t *testing.T) {
	el := NewEscrowLedger(slog.Disabled)
	assert.ErrorIs(t, el.Deposit(9, testAgentID(1), testStake), ErrNoEscrowAccount)
	_, err := el.Pool(9)
	assert.ErrorIs(t, err, ErrNoEscrowAccount)

	assert.NoError(t, el.OpenAccount(9))
	assert.ErrorIs(t, el.OpenAccount(9), ErrEscrowExists)
	assert.Error(t, el.Deposit(9, testAgentID(1), -1))
}

func TestEscrowLocks(t *testing.T) {
	el := newTestLedger(t, 1, 2)

	assert.NoError(t, el.LockForMatch(1, 100, testAgentID(1), testAgentID(2)))
	assert.ErrorIs(t, el.LockForMatch(1, 100, testAgentID(1)), ErrLockExists)

	// A lock never references funds that were not deposited.
	assert.Error(t, el.LockForMatch(1, 101, testAgentID(9)))

	assert.NoError(t, el.ReleaseLock(1, 100))
	assert.ErrorIs(t, el.ReleaseLock(1, 100), ErrNoSuchLock)
}

func TestEscrowOverDistributeRejected(t *testing.T) {
	el := newTestLedger(t, 1, 2) // pool 200000

	over := []Payout{
		{Agent: testAgentID(1), Amount: 150000},
		{Agent: testAgentID(2), Amount: 100000},
	}
	assert.ErrorIs(t, el.BatchDistribute(1, over, 0), ErrInsufficientPool)

	// Rejection applied nothing: a batch that fits still succeeds in
	// full afterwards.
	ok := []Payout{
		{Agent: testAgentID(1), Amount: 150000},
		{Agent: testAgentID(2), Amount: 40000},
	}
	assert.NoError(t, el.BatchDistribute(1, ok, 10000))
}

func TestEscrowDistributeAtMostOnce(t *testing.T) {
	el := newTestLedger(t, 1, 2)

	payouts := []Payout{{Agent: testAgentID(1), Amount: 100000}}
	assert.NoError(t, el.BatchDistribute(1, payouts, 0))
	assert.True(t, el.Distributed(1))
	assert.ErrorIs(t, el.BatchDistribute(1, payouts, 0), ErrAlreadyDistributed)

	// No refunds after distribution either.
	_, err := el.RefundAll(1)
	assert.ErrorIs(t, err, ErrAlreadyDistributed)
}

func TestEscrowRefunds(t *testing.T) {
	el := newTestLedger(t, 1, 3)

	refunds, err := el.RefundAll(1)
	assert.NoError(t, err)
	assert.Len(t, refunds, 3)
	var total dcrutil.Amount
	for _, r := range refunds {
		assert.Equal(t, testStake, r.Amount)
		total += r.Amount
	}
	assert.Equal(t, 3*testStake, total)

	// Refund is terminal.
	_, err = el.RefundAll(1)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.ErrorIs(t, el.BatchDistribute(1, nil, 0), ErrAlreadyRefunded)
	assert.Error(t, el.Deposit(1, testAgentID(9), testStake))
}

func TestEscrowDistributePrize(t *testing.T) {
	el := newTestLedger(t, 1, 2) // pool 200000

	assert.ErrorIs(t, el.DistributePrize(9, testAgentID(1), 1), ErrNoEscrowAccount)
	assert.Error(t, el.DistributePrize(1, testAgentID(1), -1))
	assert.ErrorIs(t, el.DistributePrize(1, testAgentID(1), 200001), ErrInsufficientPool)

	// Single prizes draw down the remaining pool without closing the
	// account.
	assert.NoError(t, el.DistributePrize(1, testAgentID(1), 150000))
	assert.False(t, el.Distributed(1))
	assert.ErrorIs(t, el.DistributePrize(1, testAgentID(2), 60000), ErrInsufficientPool)
	assert.NoError(t, el.DistributePrize(1, testAgentID(2), 50000))

	// BatchDistribute shares the same remaining-pool bound.
	leftovers := []Payout{{Agent: testAgentID(1), Amount: 1}}
	assert.ErrorIs(t, el.BatchDistribute(1, leftovers, 0), ErrInsufficientPool)
	assert.NoError(t, el.BatchDistribute(1, nil, 0))

	// Terminal states reject further prizes.
	assert.ErrorIs(t, el.DistributePrize(1, testAgentID(1), 0), ErrAlreadyDistributed)
	el2 := newTestLedger(t, 2, 1)
	_, err := el2.RefundAll(2)
	assert.NoError(t, err)
	assert.ErrorIs(t, el2.DistributePrize(2, testAgentID(1), 1), ErrAlreadyRefunded)
}

func TestEscrowNegativePayoutRejected(t *testing.T) {
	el := newTestLedger(t, 1, 2)
	bad := []Payout{{Agent: testAgentID(1), Amount: -1}}
	assert.Error(t, el.BatchDistribute(1, bad, 0))
	assert.False(t, el.Distributed(1))
}
