package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

type node struct {
	app    *dex.App
	srv    *Server
	ts     *httptest.Server
	client *Client
	user1  *crypto.Signer
	user2  *crypto.Signer
	toks   map[string]common.Address
}

func startNode(t *testing.T) *node {
	t.Helper()
	user1, err := crypto.GenerateKey()
	require.NoError(t, err)
	user2, err := crypto.GenerateKey()
	require.NoError(t, err)

	app, err := dex.New(dex.Options{Exchange: exchange.Config{
		Address:    dex.ExchangeAddress(user1.Address()),
		FeeAccount: common.HexToAddress("0xFEE0000000000000000000000000000000000002"),
		FeePercent: 10,
	}})
	require.NoError(t, err)
	toks, err := app.Genesis(user1.Address(), dex.DefaultGenesis())
	require.NoError(t, err)

	srv := NewServer(Config{App: app})
	app.AddSink("ws", srv.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	go app.Run(ctx)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &node{app: app, srv: srv, ts: ts, client: NewClient(ts.URL), user1: user1, user2: user2, toks: toks}
}

func (n *node) sign(t *testing.T, s *crypto.Signer, action transaction.Action, p transaction.Payload) *transaction.SignedTransaction {
	t.Helper()
	tx, err := transaction.Sign(n.app.Verifier().Signer(), s, action, p, 0, time.Now().Add(time.Minute))
	require.NoError(t, err)
	return tx
}

func (n *node) submit(t *testing.T, s *crypto.Signer, action transaction.Action, p transaction.Payload) *dex.Receipt {
	t.Helper()
	r, err := n.client.Submit(context.Background(), n.sign(t, s, action, p))
	require.NoError(t, err)
	return r
}

func (n *node) deposit(t *testing.T, s *crypto.Signer, symbol, amount string) {
	t.Helper()
	tok := n.toks[symbol].Hex()
	amt := token.Tokens(amount).Dec()
	n.submit(t, s, transaction.ActionApprove, transaction.Payload{Token: tok, Spender: n.app.Exchange().Address().Hex(), Amount: amt})
	n.submit(t, s, transaction.ActionDeposit, transaction.Payload{Token: tok, Amount: amt})
}

func (n *node) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(n.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func statusOf(t *testing.T, err error) (int, string) {
	t.Helper()
	var se *StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	return se.Status, se.Body.Kind
}

func TestSubmitDepositAndQueryBalances(t *testing.T) {
	n := startNode(t)
	n.deposit(t, n.user1, "DAPP", "10")

	var bals []BalanceInfo
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/balances/"+n.user1.Address().Hex(), &bals))
	require.Len(t, bals, 1)
	assert.Equal(t, "DAPP", bals[0].Symbol)
	assert.Equal(t, token.Tokens("10").Dec(), bals[0].Amount)

	var one BalanceInfo
	path := "/api/v1/balances/" + n.user2.Address().Hex() + "/" + n.toks["DAPP"].Hex()
	require.Equal(t, http.StatusOK, n.getJSON(t, path, &one))
	assert.Equal(t, "0", one.Amount)

	var info ExchangeInfo
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/exchange", &info))
	assert.Equal(t, uint64(1), info.LastSeq)
	assert.Equal(t, "primary", info.Role)
	require.NotNil(t, info.Domain)
	assert.Equal(t, n.app.Exchange().Address().Hex(), info.Domain.VerifyingContract)
}

func TestSubmitErrorMapping(t *testing.T) {
	n := startNode(t)
	n.deposit(t, n.user1, "DAPP", "10")
	ctx := context.Background()

	_, err := n.client.Submit(ctx, n.sign(t, n.user1, transaction.ActionWithdraw, transaction.Payload{
		Token: n.toks["DAPP"].Hex(), Amount: token.Tokens("11").Dec(),
	}))
	status, kind := statusOf(t, err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "InsufficientBalance", kind)

	_, err = n.client.Submit(ctx, n.sign(t, n.user2, transaction.ActionFillOrder, transaction.Payload{OrderID: "42"}))
	status, kind = statusOf(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "UnknownOrder", kind)

	r := n.submit(t, n.user1, transaction.ActionMakeOrder, transaction.Payload{
		TokenGet: n.toks["mETH"].Hex(), AmountGet: "1", TokenGive: n.toks["DAPP"].Hex(), AmountGive: "1",
	})
	_, err = n.client.Submit(ctx, n.sign(t, n.user2, transaction.ActionCancelOrder, transaction.Payload{OrderID: "1"}))
	status, _ = statusOf(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, uint64(1), r.OrderID)

	tx := n.sign(t, n.user1, transaction.ActionCancelOrder, transaction.Payload{OrderID: "1"})
	_, err = n.client.Submit(ctx, tx)
	require.NoError(t, err)
	_, err = n.client.Submit(ctx, tx)
	status, kind = statusOf(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Replay", kind)

	_, err = n.client.Submit(ctx, n.sign(t, n.user1, transaction.ActionCancelOrder, transaction.Payload{OrderID: "1"}))
	status, kind = statusOf(t, err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyFinalized", kind)

	_, err = n.client.Submit(ctx, n.sign(t, n.user1, transaction.ActionDeposit, transaction.Payload{
		Token: n.toks["DAPP"].Hex(), Amount: "0",
	}))
	status, _ = statusOf(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Post(n.ts.URL+"/api/v1/tx", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrdersAndEvents(t *testing.T) {
	n := startNode(t)
	n.deposit(t, n.user1, "DAPP", "10")
	for i := 0; i < 3; i++ {
		n.submit(t, n.user1, transaction.ActionMakeOrder, transaction.Payload{
			TokenGet: n.toks["mETH"].Hex(), AmountGet: "1", TokenGive: n.toks["DAPP"].Hex(), AmountGive: "1",
		})
	}
	n.submit(t, n.user1, transaction.ActionCancelOrder, transaction.Payload{OrderID: "2"})

	var open []OrderInfo
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/orders?status=open&creator="+n.user1.Address().Hex(), &open))
	require.Len(t, open, 2)
	assert.Equal(t, uint64(1), open[0].ID)
	assert.Equal(t, uint64(3), open[1].ID)

	var o OrderInfo
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/orders/2", &o))
	assert.Equal(t, "cancelled", o.Status)

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, n.getJSON(t, "/api/v1/orders/9", &e))
	assert.Equal(t, http.StatusBadRequest, n.getJSON(t, "/api/v1/orders?status=bogus", nil))

	// deposit, three orders, one cancel
	evs, err := n.client.Events(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, exchange.EventOrder, evs[1].Kind)

	var page EventsResponse
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/events?from=5", &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, exchange.EventCancel, page.Events[0].Kind)
	assert.Equal(t, uint64(5), page.LastSeq)
}

func TestTokenEndpoints(t *testing.T) {
	n := startNode(t)
	tok := n.toks["mETH"]
	n.submit(t, n.user1, transaction.ActionApprove, transaction.Payload{
		Token: tok.Hex(), Spender: n.user2.Address().Hex(), Amount: "5",
	})

	var toks []TokenInfo
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/tokens", &toks))
	assert.Len(t, toks, 3)

	var bal TokenAmount
	require.Equal(t, http.StatusOK, n.getJSON(t, "/api/v1/tokens/"+tok.Hex()+"/balances/"+n.user1.Address().Hex(), &bal))
	assert.Equal(t, token.Tokens("1000000").Dec(), bal.Amount)

	var allowance TokenAmount
	path := "/api/v1/tokens/" + tok.Hex() + "/allowances/" + n.user1.Address().Hex() + "/" + n.user2.Address().Hex()
	require.Equal(t, http.StatusOK, n.getJSON(t, path, &allowance))
	assert.Equal(t, "5", allowance.Amount)

	unknown := common.HexToAddress("0x9999999999999999999999999999999999999999")
	assert.Equal(t, http.StatusNotFound, n.getJSON(t, "/api/v1/tokens/"+unknown.Hex()+"/balances/"+n.user1.Address().Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, n.getJSON(t, "/api/v1/balances/nothex", nil))
}

func TestFollowerIsReadOnly(t *testing.T) {
	primary := startNode(t)
	primary.deposit(t, primary.user1, "DAPP", "3")

	evs, err := primary.client.Events(context.Background(), 1, 100)
	require.NoError(t, err)
	replica := exchange.NewReplica(primary.app.Exchange().Config())
	require.NoError(t, replica.ApplyAll(evs))

	ts := httptest.NewServer(NewServer(Config{Reader: replica}).Handler())
	defer ts.Close()
	follower := NewClient(ts.URL)

	info, err := follower.ExchangeInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "follower", info.Role)
	assert.Equal(t, primary.app.Exchange().Digest().Hex(), info.Digest)

	_, err = follower.Submit(context.Background(), primary.sign(t, primary.user1, transaction.ActionWithdraw, transaction.Payload{
		Token: primary.toks["DAPP"].Hex(), Amount: "1",
	}))
	status, _ := statusOf(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	resp, err := http.Get(ts.URL + "/api/v1/tokens")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestIDAndHealth(t *testing.T) {
	n := startNode(t)
	resp, err := http.Get(n.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, n.ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc", resp.Header.Get(requestIDHeader))
}

func TestWebSocketAccountChannel(t *testing.T) {
	n := startNode(t)
	url := "ws" + strings.TrimPrefix(n.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// any casing resolves to the checksummed channel
	ch := "account:" + strings.ToLower(n.user1.Address().Hex())
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ch}}))
	require.Eventually(t, func() bool {
		return n.srv.Hub().Subscribers(accountChannel(n.user1.Address())) == 1
	}, 2*time.Second, 10*time.Millisecond)

	n.deposit(t, n.user1, "DAPP", "1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, accountChannel(n.user1.Address()), msg.Channel)
	assert.Equal(t, exchange.EventDeposit, msg.Event.Kind)
	assert.Equal(t, n.user1.Address(), msg.Event.User)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errors.Wrap(exchange.ErrExternalTransferFailed, "x"), http.StatusBadGateway},
		{errors.Mark(token.ErrInsufficientAllowance, exchange.ErrExternalTransferFailed), http.StatusBadGateway},
		{token.ErrInsufficientBalance, http.StatusConflict},
		{transaction.ErrExpired, http.StatusUnauthorized},
		{transaction.ErrInvalidSignature, http.StatusUnauthorized},
		{dex.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		status, _ := classify(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
	}
}
