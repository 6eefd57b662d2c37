package exchange

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/util"
)

var (
	deployer    = common.HexToAddress("0xD000000000000000000000000000000000000001")
	feeAccount  = common.HexToAddress("0xFEE0000000000000000000000000000000000002")
	user1       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	user2       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	exchangeAdr = common.HexToAddress("0xE000000000000000000000000000000000000003")
)

func tokens(n string) *uint256.Int { return token.Tokens(n) }

// flakyLedger wraps a registry and can be told to refuse payouts
type flakyLedger struct {
	*token.Registry
	failTransfer bool
}

func (l *flakyLedger) Transfer(tok, sender, recipient common.Address, amount *uint256.Int) error {
	if l.failTransfer {
		return errors.New("ledger unavailable")
	}
	return l.Registry.Transfer(tok, sender, recipient, amount)
}

// memStore keeps committed change sets in a plain state
type memStore struct {
	st         *state
	failCommit bool
	commits    int
	reverts    int
}

func newMemStore() *memStore { return &memStore{st: newState()} }

func (m *memStore) Commit(cs *ChangeSet) error {
	if m.failCommit {
		return errors.New("disk full")
	}
	m.commits++
	m.st.apply(cs)
	return nil
}

func (m *memStore) Revert(cs *ChangeSet) error {
	m.reverts++
	for _, b := range cs.Balances {
		k := balanceKey{token: b.Token, user: b.User}
		if b.Old.IsZero() {
			delete(m.st.balances, k)
		} else {
			m.st.balances[k] = new(uint256.Int).Set(b.Old)
		}
	}
	m.st.orders = m.st.orders[:len(m.st.orders)-len(cs.Orders)]
	for _, id := range cs.Cancelled {
		delete(m.st.cancelled, id)
	}
	for _, id := range cs.Filled {
		delete(m.st.filled, id)
	}
	m.st.events = m.st.events[:len(m.st.events)-len(cs.Events)]
	return nil
}

func (m *memStore) Load() (*Snapshot, error) {
	snap := &Snapshot{
		Orders: append([]Order(nil), m.st.orders...),
		Events: append([]Event(nil), m.st.events...),
	}
	for k, v := range m.st.balances {
		snap.Balances = append(snap.Balances, Balance{Token: k.token, User: k.user, Amount: v})
	}
	for id := range m.st.cancelled {
		snap.Cancelled = append(snap.Cancelled, id)
	}
	for id := range m.st.filled {
		snap.Filled = append(snap.Filled, id)
	}
	return snap, nil
}

type fixture struct {
	t      *testing.T
	ledger *flakyLedger
	x      *Exchange
	dapp   common.Address
	meth   common.Address
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	reg, err := token.NewRegistry(nil, nil)
	require.NoError(t, err)
	dapp, err := reg.Deploy(deployer, "Dapp University", "DAPP", 18, tokens("1000000"))
	require.NoError(t, err)
	meth, err := reg.Deploy(deployer, "mETH", "mETH", 18, tokens("1000000"))
	require.NoError(t, err)
	for _, u := range []common.Address{user1, user2} {
		require.NoError(t, reg.Transfer(dapp, deployer, u, tokens("100")))
		require.NoError(t, reg.Transfer(meth, deployer, u, tokens("100")))
	}

	ledger := &flakyLedger{Registry: reg}
	x, err := New(testConfig(), ledger, store, testClock(), nil)
	require.NoError(t, err)
	return &fixture{t: t, ledger: ledger, x: x, dapp: dapp, meth: meth}
}

func testConfig() Config {
	return Config{Address: exchangeAdr, FeeAccount: feeAccount, FeePercent: 10}
}

func testClock() util.Clock {
	return util.NewStepClock(time.Unix(1_700_000_000, 0), time.Second)
}

// deposit approves and deposits in one go
func (f *fixture) deposit(tok, user common.Address, amount *uint256.Int) {
	f.t.Helper()
	require.NoError(f.t, f.ledger.Approve(tok, user, exchangeAdr, amount))
	_, err := f.x.Deposit(tok, user, amount)
	require.NoError(f.t, err)
}

func (f *fixture) makeOrder(creator, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) uint64 {
	f.t.Helper()
	id, _, err := f.x.MakeOrder(creator, tokenGet, amountGet, tokenGive, amountGive)
	require.NoError(f.t, err)
	return id
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, KindOf(err), "error: %v", err)
}
