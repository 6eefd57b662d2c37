package exchange

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.Approve(f.dapp, user1, exchangeAdr, tokens("10")))

	evs, err := f.x.Deposit(f.dapp, user1, tokens("10"))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDeposit, evs[0].Kind)
	assert.Equal(t, uint64(1), evs[0].Seq)
	assert.Equal(t, tokens("10"), evs[0].Amount)
	assert.Equal(t, tokens("10"), evs[0].Balance)
	assert.Equal(t, tokens("10"), f.x.BalanceOf(f.dapp, user1))
	assert.Equal(t, tokens("10"), f.ledger.BalanceOf(f.dapp, exchangeAdr))
	assert.Equal(t, tokens("90"), f.ledger.BalanceOf(f.dapp, user1))

	evs, err = f.x.Withdraw(f.dapp, user1, tokens("10"))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, EventWithdraw, evs[0].Kind)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.True(t, evs[0].Balance.IsZero())

	assert.True(t, f.x.BalanceOf(f.dapp, user1).IsZero())
	assert.True(t, f.ledger.BalanceOf(f.dapp, exchangeAdr).IsZero())
	assert.Equal(t, tokens("100"), f.ledger.BalanceOf(f.dapp, user1))

	log := f.x.Events(0, 0)
	require.Len(t, log, 2)
	assert.Equal(t, EventDeposit, log[0].Kind)
	assert.Equal(t, EventWithdraw, log[1].Kind)
}

func TestDepositRejections(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("zero amount", func(t *testing.T) {
		_, err := f.x.Deposit(f.dapp, user1, new(uint256.Int))
		requireKind(t, err, KindInvalidAmount)
	})
	t.Run("nil amount", func(t *testing.T) {
		_, err := f.x.Deposit(f.dapp, user1, nil)
		requireKind(t, err, KindInvalidAmount)
	})
	t.Run("no approval", func(t *testing.T) {
		_, err := f.x.Deposit(f.dapp, user1, tokens("10"))
		requireKind(t, err, KindExternalTransferFailed)
		assert.True(t, errors.Is(err, token.ErrInsufficientAllowance))
	})
	t.Run("more than owned", func(t *testing.T) {
		require.NoError(t, f.ledger.Approve(f.dapp, user1, exchangeAdr, tokens("1000")))
		_, err := f.x.Deposit(f.dapp, user1, tokens("1000"))
		requireKind(t, err, KindExternalTransferFailed)
	})

	assert.True(t, f.x.BalanceOf(f.dapp, user1).IsZero())
	assert.Zero(t, f.x.LastSeq())
	assert.Equal(t, tokens("100"), f.ledger.BalanceOf(f.dapp, user1))
}

func TestWithdrawRejections(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(f.dapp, user1, tokens("10"))

	_, err := f.x.Withdraw(f.dapp, user1, tokens("11"))
	requireKind(t, err, KindInsufficientBalance)

	_, err = f.x.Withdraw(f.dapp, user1, new(uint256.Int))
	requireKind(t, err, KindInvalidAmount)

	_, err = f.x.Withdraw(f.meth, user1, tokens("1"))
	requireKind(t, err, KindInsufficientBalance)

	assert.Equal(t, tokens("10"), f.x.BalanceOf(f.dapp, user1))
	assert.Equal(t, uint64(1), f.x.LastSeq())
}

func TestWithdrawTransferFailureRevertsStore(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)
	f.deposit(f.dapp, user1, tokens("10"))
	before := f.x.Digest()

	f.ledger.failTransfer = true
	_, err := f.x.Withdraw(f.dapp, user1, tokens("4"))
	requireKind(t, err, KindExternalTransferFailed)

	assert.Equal(t, tokens("10"), f.x.BalanceOf(f.dapp, user1))
	assert.Equal(t, before, f.x.Digest())
	assert.Equal(t, 1, store.reverts)
	assert.Equal(t, tokens("10"), store.st.balanceOf(f.dapp, user1))
	assert.Len(t, store.st.events, 1)
}

func TestDepositStoreFailureRefunds(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)
	require.NoError(t, f.ledger.Approve(f.dapp, user1, exchangeAdr, tokens("10")))

	store.failCommit = true
	_, err := f.x.Deposit(f.dapp, user1, tokens("10"))
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, errors.Is(err, ErrStorage))

	assert.True(t, f.x.BalanceOf(f.dapp, user1).IsZero())
	assert.Equal(t, tokens("100"), f.ledger.BalanceOf(f.dapp, user1))
	assert.True(t, f.ledger.BalanceOf(f.dapp, exchangeAdr).IsZero())
}

func TestWithdrawStoreFailureDoesNotPay(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)
	f.deposit(f.dapp, user1, tokens("10"))

	store.failCommit = true
	_, err := f.x.Withdraw(f.dapp, user1, tokens("4"))
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, errors.Is(err, ErrStorage))

	assert.Equal(t, tokens("10"), f.x.BalanceOf(f.dapp, user1))
	assert.Equal(t, tokens("10"), f.ledger.BalanceOf(f.dapp, exchangeAdr))
	assert.Equal(t, uint64(1), f.x.LastSeq())
}

func TestBalancesSortedByToken(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(f.meth, user1, tokens("2"))
	f.deposit(f.dapp, user1, tokens("1"))

	bals := f.x.Balances(user1)
	require.Len(t, bals, 2)
	assert.True(t, bals[0].Token.Cmp(bals[1].Token) < 0)
	assert.Empty(t, f.x.Balances(user2))

	held := f.x.Custodied()
	assert.Equal(t, tokens("1"), held[f.dapp])
	assert.Equal(t, tokens("2"), held[f.meth])
}
