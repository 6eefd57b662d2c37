package dex

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/util"
)

var feeAccount = common.HexToAddress("0xFEE0000000000000000000000000000000000002")

type harness struct {
	app   *App
	user1 *crypto.Signer
	user2 *crypto.Signer
	toks  map[string]common.Address

	mu     sync.Mutex
	events []exchange.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	user1, err := crypto.GenerateKey()
	require.NoError(t, err)
	user2, err := crypto.GenerateKey()
	require.NoError(t, err)

	app, err := New(Options{
		Exchange: exchange.Config{
			Address:    ExchangeAddress(user1.Address()),
			FeeAccount: feeAccount,
			FeePercent: 10,
		},
		Clock: util.NewStepClock(time.Unix(1_700_000_000, 0), time.Millisecond),
	})
	require.NoError(t, err)

	toks, err := app.Genesis(user1.Address(), DefaultGenesis())
	require.NoError(t, err)

	h := &harness{app: app, user1: user1, user2: user2, toks: toks}
	app.AddSink("test", SinkFunc(func(_ context.Context, evs []exchange.Event) error {
		h.mu.Lock()
		h.events = append(h.events, evs...)
		h.mu.Unlock()
		return nil
	}))
	return h
}

func (h *harness) sign(t *testing.T, s *crypto.Signer, action transaction.Action, p transaction.Payload) *transaction.SignedTransaction {
	t.Helper()
	tx, err := transaction.Sign(h.app.Verifier().Signer(), s, action, p, 0, h.app.Clock().Now().Add(time.Minute))
	require.NoError(t, err)
	return tx
}

func (h *harness) exec(t *testing.T, s *crypto.Signer, action transaction.Action, p transaction.Payload) *Receipt {
	t.Helper()
	r, err := h.app.Execute(context.Background(), h.sign(t, s, action, p))
	require.NoError(t, err)
	return r
}

func (h *harness) deposit(t *testing.T, s *crypto.Signer, symbol, amount string) {
	t.Helper()
	tok := h.toks[symbol].Hex()
	amt := token.Tokens(amount).Dec()
	h.exec(t, s, transaction.ActionApprove, transaction.Payload{Token: tok, Spender: h.app.Exchange().Address().Hex(), Amount: amt})
	h.exec(t, s, transaction.ActionDeposit, transaction.Payload{Token: tok, Amount: amt})
}

func (h *harness) published() []exchange.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]exchange.Event(nil), h.events...)
}

func TestGenesisIsIdempotent(t *testing.T) {
	h := newHarness(t)
	again, err := h.app.Genesis(h.user1.Address(), DefaultGenesis())
	require.NoError(t, err)
	assert.Equal(t, h.toks, again)
	assert.Len(t, h.app.Tokens().List(), 3)
	assert.Equal(t, token.Tokens("1000000"), h.app.Tokens().BalanceOf(h.toks["DAPP"], h.user1.Address()))
}

func TestExecuteDepositPublishesEvents(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, h.user1, "DAPP", "10")

	ex := h.app.Exchange()
	assert.Equal(t, token.Tokens("10"), ex.BalanceOf(h.toks["DAPP"], h.user1.Address()))
	assert.Equal(t, token.Tokens("10"), h.app.Tokens().BalanceOf(h.toks["DAPP"], ex.Address()))

	evs := h.published()
	require.Len(t, evs, 1)
	assert.Equal(t, exchange.EventDeposit, evs[0].Kind)
	assert.Equal(t, uint64(1), evs[0].Seq)

	m := h.app.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("deposit", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("approve", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastSeq))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published.WithLabelValues("test", metrics.ResultOK)))
}

func TestMakeOrderReceiptCarriesID(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, h.user1, "DAPP", "10")

	r := h.exec(t, h.user1, transaction.ActionMakeOrder, transaction.Payload{
		TokenGet:   h.toks["mETH"].Hex(),
		AmountGet:  token.Tokens("1").Dec(),
		TokenGive:  h.toks["DAPP"].Hex(),
		AmountGive: token.Tokens("1").Dec(),
	})
	assert.Equal(t, uint64(1), r.OrderID)
	assert.Equal(t, transaction.ActionMakeOrder, r.Action)
	assert.Equal(t, h.user1.Address(), r.Signer)
	require.Len(t, r.Events, 1)
	assert.Equal(t, exchange.EventOrder, r.Events[0].Kind)
}

func TestTokenActionsProduceNoEvents(t *testing.T) {
	h := newHarness(t)
	r := h.exec(t, h.user1, transaction.ActionTransfer, transaction.Payload{
		Token: h.toks["mETH"].Hex(), To: h.user2.Address().Hex(), Amount: token.Tokens("5").Dec(),
	})
	assert.Empty(t, r.Events)
	assert.Empty(t, h.published())
	assert.Equal(t, token.Tokens("5"), h.app.Tokens().BalanceOf(h.toks["mETH"], h.user2.Address()))
}

func TestFailedRequestIsNotPublished(t *testing.T) {
	h := newHarness(t)
	_, err := h.app.Execute(context.Background(), h.sign(t, h.user2, transaction.ActionFillOrder, transaction.Payload{OrderID: "7"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrUnknownOrder))
	assert.Empty(t, h.published())

	m := h.app.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("fillOrder", metrics.ResultFailed)))
}

func TestReplayIsRejected(t *testing.T) {
	h := newHarness(t)
	tx := h.sign(t, h.user1, transaction.ActionTransfer, transaction.Payload{
		Token: h.toks["mETH"].Hex(), To: h.user2.Address().Hex(), Amount: "1",
	})
	_, err := h.app.Execute(context.Background(), tx)
	require.NoError(t, err)

	_, err = h.app.Execute(context.Background(), tx)
	assert.True(t, errors.Is(err, transaction.ErrReplay))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.app.Metrics().Requests.WithLabelValues("transfer", metrics.ResultRejected)))
	assert.Equal(t, "1", h.app.Tokens().BalanceOf(h.toks["mETH"], h.user2.Address()).Dec())
}

func TestSubmitThroughWriter(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.app.Run(ctx)

	// the deployer hands out DAPP, then many traders deposit concurrently
	const traders = 8
	signers := make([]*crypto.Signer, traders)
	for i := range signers {
		s, err := crypto.GenerateKey()
		require.NoError(t, err)
		signers[i] = s
		_, err = h.app.Submit(ctx, h.sign(t, h.user1, transaction.ActionTransfer, transaction.Payload{
			Token: h.toks["DAPP"].Hex(), To: s.Address().Hex(), Amount: token.Tokens("3").Dec(),
		}))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, traders*2)
	for _, s := range signers {
		wg.Add(1)
		go func(s *crypto.Signer) {
			defer wg.Done()
			p := transaction.Payload{Token: h.toks["DAPP"].Hex(), Amount: token.Tokens("3").Dec()}
			approve := p
			approve.Spender = h.app.Exchange().Address().Hex()
			if _, err := h.app.Submit(ctx, h.sign(t, s, transaction.ActionApprove, approve)); err != nil {
				errs <- err
				return
			}
			if _, err := h.app.Submit(ctx, h.sign(t, s, transaction.ActionDeposit, p)); err != nil {
				errs <- err
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ex := h.app.Exchange()
	assert.Equal(t, uint64(traders), ex.LastSeq())
	assert.Equal(t, token.Tokens(strconv.Itoa(3*traders)), ex.Custodied()[h.toks["DAPP"]])
	assert.Equal(t, 0, h.app.PendingRequests())

	// events reached the sink in sequence order
	evs := h.published()
	require.Len(t, evs, traders)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestSubmitKeepsArrivalOrder(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, h.user1, "DAPP", "1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		r   *Receipt
		err error
	}
	submit := func(tx *transaction.SignedTransaction) <-chan result {
		out := make(chan result, 1)
		go func() {
			r, err := h.app.Submit(ctx, tx)
			out <- result{r, err}
		}()
		return out
	}

	// both requests are queued before the writer starts
	order := submit(h.sign(t, h.user1, transaction.ActionMakeOrder, transaction.Payload{
		TokenGet:   h.toks["mETH"].Hex(),
		AmountGet:  token.Tokens("1").Dec(),
		TokenGive:  h.toks["DAPP"].Hex(),
		AmountGive: token.Tokens("1").Dec(),
	}))
	require.Eventually(t, func() bool { return h.app.PendingRequests() == 1 }, time.Second, time.Millisecond)
	withdraw := submit(h.sign(t, h.user1, transaction.ActionWithdraw, transaction.Payload{
		Token: h.toks["DAPP"].Hex(), Amount: token.Tokens("1").Dec(),
	}))
	require.Eventually(t, func() bool { return h.app.PendingRequests() == 2 }, time.Second, time.Millisecond)

	go h.app.Run(ctx)

	made := <-order
	require.NoError(t, made.err)
	assert.Equal(t, uint64(1), made.r.OrderID)

	// orders do not lock funds, so the later withdraw still clears
	w := <-withdraw
	require.NoError(t, w.err)

	ex := h.app.Exchange()
	assert.Equal(t, uint64(1), ex.OrderCount())
	assert.True(t, ex.BalanceOf(h.toks["DAPP"], h.user1.Address()).IsZero())

	evs := h.published()
	require.Len(t, evs, 3)
	assert.Equal(t, exchange.EventDeposit, evs[0].Kind)
	assert.Equal(t, exchange.EventOrder, evs[1].Kind)
	assert.Equal(t, exchange.EventWithdraw, evs[2].Kind)
}

func TestSubmitAfterStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.app.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := h.app.Submit(context.Background(), h.sign(t, h.user1, transaction.ActionTransfer, transaction.Payload{
		Token: h.toks["mETH"].Hex(), To: h.user2.Address().Hex(), Amount: "1",
	}))
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestSinkFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.app.AddSink("broken", SinkFunc(func(context.Context, []exchange.Event) error {
		return errors.New("broker unreachable")
	}))
	h.deposit(t, h.user1, "DAPP", "1")

	assert.Len(t, h.published(), 1)
	m := h.app.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published.WithLabelValues("broken", metrics.ResultFailed)))
}

func TestFund(t *testing.T) {
	h := newHarness(t)
	a, b := common.HexToAddress("0xa1"), common.HexToAddress("0xb2")
	require.NoError(t, Fund(context.Background(), h.app, h.user1, h.toks["mDAI"], token.Tokens("2"), a, b))
	assert.Equal(t, token.Tokens("2"), h.app.Tokens().BalanceOf(h.toks["mDAI"], a))
	assert.Equal(t, token.Tokens("2"), h.app.Tokens().BalanceOf(h.toks["mDAI"], b))
}
