package dex

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

// SeedResult lists the orders the seed scenario left behind, by status
type SeedResult struct {
	Tokens    map[string]common.Address
	Cancelled []uint64
	Filled    []uint64
	Open      []uint64
}

// Seed populates a fresh exchange with a demo history: two funded traders,
// one cancelled order, three fills and twenty open orders on the
// mETH/DAPP pair. user1 must hold the genesis supply of DAPP and mETH.
//
// Every step is a signed request run through the verifier, so a seeded
// node exercises the same path as API traffic.
func Seed(ctx context.Context, a *App, user1, user2 *crypto.Signer) (*SeedResult, error) {
	dapp, ok := a.tokens.BySymbol("DAPP")
	if !ok {
		return nil, errors.New("seed: DAPP not deployed")
	}
	meth, ok := a.tokens.BySymbol("mETH")
	if !ok {
		return nil, errors.New("seed: mETH not deployed")
	}
	res := &SeedResult{Tokens: map[string]common.Address{"DAPP": dapp.Address, "mETH": meth.Address}}
	if mdai, ok := a.tokens.BySymbol("mDAI"); ok {
		res.Tokens["mDAI"] = mdai.Address
	}

	s := seeder{ctx: ctx, app: a}
	exAddr := a.ex.Address().Hex()
	amount := token.Tokens("10000").Dec()

	// fund user2 with mETH, then both traders deposit
	s.run(user1, transaction.ActionTransfer, transaction.Payload{Token: meth.Address.Hex(), To: user2.Address().Hex(), Amount: amount})
	s.run(user1, transaction.ActionApprove, transaction.Payload{Token: dapp.Address.Hex(), Spender: exAddr, Amount: amount})
	s.run(user1, transaction.ActionDeposit, transaction.Payload{Token: dapp.Address.Hex(), Amount: amount})
	s.run(user2, transaction.ActionApprove, transaction.Payload{Token: meth.Address.Hex(), Spender: exAddr, Amount: amount})
	s.run(user2, transaction.ActionDeposit, transaction.Payload{Token: meth.Address.Hex(), Amount: amount})

	order := func(maker *crypto.Signer, get common.Address, amountGet string, give common.Address, amountGive string) uint64 {
		r := s.run(maker, transaction.ActionMakeOrder, transaction.Payload{
			TokenGet:   get.Hex(),
			AmountGet:  token.Tokens(amountGet).Dec(),
			TokenGive:  give.Hex(),
			AmountGive: token.Tokens(amountGive).Dec(),
		})
		if r == nil {
			return 0
		}
		return r.OrderID
	}
	idPayload := func(id uint64) transaction.Payload {
		return transaction.Payload{OrderID: strconv.FormatUint(id, 10)}
	}

	// a cancelled order
	id := order(user1, meth.Address, "100", dapp.Address, "5")
	s.run(user1, transaction.ActionCancelOrder, idPayload(id))
	res.Cancelled = append(res.Cancelled, id)

	// three filled orders
	for _, o := range []struct{ get, give string }{{"100", "10"}, {"50", "15"}, {"200", "20"}} {
		id := order(user1, meth.Address, o.get, dapp.Address, o.give)
		s.run(user2, transaction.ActionFillOrder, idPayload(id))
		res.Filled = append(res.Filled, id)
	}

	// open orders on both sides of the book
	for i := 1; i <= 10; i++ {
		res.Open = append(res.Open, order(user1, meth.Address, strconv.Itoa(10*i), dapp.Address, "10"))
	}
	for i := 1; i <= 10; i++ {
		res.Open = append(res.Open, order(user2, dapp.Address, "10", meth.Address, strconv.Itoa(10*i)))
	}

	if s.err != nil {
		return nil, s.err
	}
	a.log.Infow("seed_complete",
		"cancelled", len(res.Cancelled),
		"filled", len(res.Filled),
		"open", len(res.Open),
		"last_seq", a.ex.LastSeq(),
	)
	return res, nil
}

// seeder runs signed requests until the first failure, then turns every
// later call into a no-op
type seeder struct {
	ctx  context.Context
	app  *App
	step int
	err  error
}

func (s *seeder) run(signer *crypto.Signer, action transaction.Action, p transaction.Payload) *Receipt {
	if s.err != nil {
		return nil
	}
	s.step++
	deadline := s.app.clock.Now().Add(s.app.maxTTL / 2)
	tx, err := transaction.Sign(s.app.verifier.Signer(), signer, action, p, 0, deadline)
	if err != nil {
		s.err = errors.Wrapf(err, "seed step %d (%s)", s.step, action)
		return nil
	}
	r, err := s.app.Execute(s.ctx, tx)
	if err != nil {
		s.err = errors.Wrapf(err, "seed step %d (%s)", s.step, action)
		return nil
	}
	return r
}

// Fund is a helper for tooling: it moves amount of tok from the holder to
// each recipient with signed transfers.
func Fund(ctx context.Context, a *App, holder *crypto.Signer, tok common.Address, amount *uint256.Int, recipients ...common.Address) error {
	s := seeder{ctx: ctx, app: a}
	for _, to := range recipients {
		s.run(holder, transaction.ActionTransfer, transaction.Payload{Token: tok.Hex(), To: to.Hex(), Amount: amount.Dec()})
	}
	return s.err
}
