package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MakeOrder records an offer of amountGive of tokenGive for amountGet of
// tokenGet. The creator must custody amountGive when the order is made but
// nothing is locked: the same funds may back several orders.
func (x *Exchange) MakeOrder(creator, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (uint64, []Event, error) {
	if err := requirePositive(amountGet, "amountGet"); err != nil {
		return 0, nil, err
	}
	if err := requirePositive(amountGive, "amountGive"); err != nil {
		return 0, nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := requireCovered(x.st.balanceOf(tokenGive, creator), amountGive, ErrInsufficientBalance, tokenGive, creator); err != nil {
		return 0, nil, err
	}

	o := Order{
		ID:         x.st.nextOrderID(),
		Creator:    creator,
		TokenGet:   tokenGet,
		AmountGet:  new(uint256.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(uint256.Int).Set(amountGive),
		CreatedAt:  x.now(),
	}
	g := x.st.begin()
	g.cs.Orders = append(g.cs.Orders, o)
	snapshot := o.clone()
	g.emit(Event{Kind: EventOrder, Timestamp: o.CreatedAt, Order: &snapshot})

	evs, err := x.commit(g.changeSet())
	if err != nil {
		return 0, nil, err
	}

	x.log.Infow("order_created",
		"id", o.ID,
		"creator", creator.Hex(),
		"token_get", tokenGet.Hex(),
		"amount_get", amountGet.Dec(),
		"token_give", tokenGive.Hex(),
		"amount_give", amountGive.Dec(),
	)
	return o.ID, evs, nil
}

// CancelOrder finalizes an open order. Only its creator may cancel it.
func (x *Exchange) CancelOrder(caller common.Address, id uint64) ([]Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, err := x.st.lookupOrder(id)
	if err != nil {
		return nil, err
	}
	if err := requireCreator(o, caller); err != nil {
		return nil, err
	}
	if err := x.st.requireOpen(id); err != nil {
		return nil, err
	}

	g := x.st.begin()
	g.cs.Cancelled = append(g.cs.Cancelled, id)
	snapshot := o.clone()
	g.emit(Event{Kind: EventCancel, Timestamp: x.now(), Order: &snapshot})

	evs, err := x.commit(g.changeSet())
	if err != nil {
		return nil, err
	}
	x.log.Infow("order_cancelled", "id", id, "creator", caller.Hex())
	return evs, nil
}
