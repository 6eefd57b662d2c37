package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var hundred = uint256.NewInt(100)

// Fee is floor(amountGet * feePercent / 100). The product is computed in
// 512 bits so it cannot wrap; overflow is only reported when the quotient
// itself does not fit.
func Fee(amountGet *uint256.Int, feePercent uint64) (*uint256.Int, bool) {
	return new(uint256.Int).MulDivOverflow(amountGet, uint256.NewInt(feePercent), hundred)
}

// FillOrder trades against an open order in full. The taker pays amountGet
// plus the fee in tokenGet and receives amountGive of tokenGive.
//
// The taker's balance is checked before the maker's, so when both fall
// short the taker's error is the one reported.
func (x *Exchange) FillOrder(taker common.Address, id uint64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, err := x.st.lookupOrder(id)
	if err != nil {
		return nil, err
	}
	if err := x.st.requireOpen(id); err != nil {
		return nil, err
	}

	fee, overflow := Fee(o.AmountGet, x.cfg.FeePercent)
	if overflow {
		return nil, errors.Wrapf(ErrInvalidAmount, "order %d: fee overflows", id)
	}
	total, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return nil, errors.Wrapf(ErrInvalidAmount, "order %d: amountGet plus fee overflows", id)
	}
	if err := requireCovered(x.st.balanceOf(o.TokenGet, taker), total, ErrInsufficientBalance, o.TokenGet, taker); err != nil {
		return nil, err
	}
	if err := requireCovered(x.st.balanceOf(o.TokenGive, o.Creator), o.AmountGive, ErrInsufficientMakerBalance, o.TokenGive, o.Creator); err != nil {
		return nil, err
	}

	g := x.st.begin()
	if err := settle(g, o, taker, x.cfg.FeeAccount, fee); err != nil {
		return nil, errors.Wrapf(err, "order %d", id)
	}
	g.cs.Filled = append(g.cs.Filled, id)
	snapshot := o.clone()
	g.emit(Event{
		Kind:      EventTrade,
		Timestamp: x.now(),
		Order:     &snapshot,
		Taker:     taker,
		Fee:       fee,
	})

	evs, err := x.commit(g.changeSet())
	if err != nil {
		return nil, err
	}
	x.log.Infow("order_filled",
		"id", id,
		"creator", o.Creator.Hex(),
		"taker", taker.Hex(),
		"amount_get", o.AmountGet.Dec(),
		"amount_give", o.AmountGive.Dec(),
		"fee", fee.Dec(),
	)
	return evs, nil
}

// settle stages the five balance movements of a fill in order. Cells are
// shared through the stage, so a taker who is also the creator or the fee
// account, or an order whose two tokens are the same, nets out correctly.
func settle(g *stage, o Order, taker, feeAccount common.Address, fee *uint256.Int) error {
	total, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return errors.Wrap(ErrInvalidAmount, "amountGet plus fee overflows")
	}
	if !g.debit(o.TokenGet, taker, total) {
		return errors.Wrapf(ErrInsufficientBalance, "taker %s cannot cover %s", taker.Hex(), total.Dec())
	}
	if !g.credit(o.TokenGet, o.Creator, o.AmountGet) {
		return errors.Wrap(ErrInvalidAmount, "creator balance overflows")
	}
	if !g.credit(o.TokenGet, feeAccount, fee) {
		return errors.Wrap(ErrInvalidAmount, "fee account balance overflows")
	}
	if !g.debit(o.TokenGive, o.Creator, o.AmountGive) {
		return errors.Wrapf(ErrInsufficientMakerBalance, "creator %s cannot cover %s", o.Creator.Hex(), o.AmountGive.Dec())
	}
	if !g.credit(o.TokenGive, taker, o.AmountGive) {
		return errors.Wrap(ErrInvalidAmount, "taker balance overflows")
	}
	return nil
}
