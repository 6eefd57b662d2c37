package exchange

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventDeposit  EventKind = "Deposit"
	EventWithdraw EventKind = "Withdraw"
	EventOrder    EventKind = "Order"
	EventCancel   EventKind = "Cancel"
	EventTrade    EventKind = "Trade"
)

// Event is an immutable audit record. Seq numbers the whole log from 1
// without gaps, so a consumer can tell when it missed something.
//
// Deposit and Withdraw fill Token, User, Amount and Balance (the resulting
// custody balance). Order, Cancel and Trade carry a snapshot of the order;
// Trade adds Taker and the Fee paid to the fee account.
type Event struct {
	Seq       uint64
	Kind      EventKind
	Timestamp int64

	Token   common.Address
	User    common.Address
	Amount  *uint256.Int
	Balance *uint256.Int

	Order *Order
	Taker common.Address
	Fee   *uint256.Int
}

// Accounts lists the users whose view of the exchange changed
func (e Event) Accounts() []common.Address {
	switch e.Kind {
	case EventDeposit, EventWithdraw:
		return []common.Address{e.User}
	case EventOrder, EventCancel:
		return []common.Address{e.Order.Creator}
	case EventTrade:
		if e.Taker == e.Order.Creator {
			return []common.Address{e.Taker}
		}
		return []common.Address{e.Order.Creator, e.Taker}
	}
	return nil
}

type orderJSON struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  string         `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive string         `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"`
}

// MarshalJSON renders amounts as base-10 strings
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:         o.ID,
		Creator:    o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  decString(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: decString(o.AmountGive),
		CreatedAt:  o.CreatedAt,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get, err := parseDec(raw.AmountGet)
	if err != nil {
		return errors.Wrapf(err, "order %d amountGet", raw.ID)
	}
	give, err := parseDec(raw.AmountGive)
	if err != nil {
		return errors.Wrapf(err, "order %d amountGive", raw.ID)
	}
	*o = Order{
		ID:         raw.ID,
		Creator:    raw.Creator,
		TokenGet:   raw.TokenGet,
		AmountGet:  get,
		TokenGive:  raw.TokenGive,
		AmountGive: give,
		CreatedAt:  raw.CreatedAt,
	}
	return nil
}

type eventJSON struct {
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Token     *common.Address `json:"token,omitempty"`
	User      *common.Address `json:"user,omitempty"`
	Amount    string          `json:"amount,omitempty"`
	Balance   string          `json:"balance,omitempty"`
	Order     *Order          `json:"order,omitempty"`
	Taker     *common.Address `json:"taker,omitempty"`
	Fee       string          `json:"fee,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	raw := eventJSON{
		Seq:       e.Seq,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
		Order:     e.Order,
	}
	switch e.Kind {
	case EventDeposit, EventWithdraw:
		raw.Token = &e.Token
		raw.User = &e.User
		raw.Amount = decString(e.Amount)
		raw.Balance = decString(e.Balance)
	case EventTrade:
		raw.Taker = &e.Taker
		raw.Fee = decString(e.Fee)
	}
	return json.Marshal(raw)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Event{
		Seq:       raw.Seq,
		Kind:      raw.Kind,
		Timestamp: raw.Timestamp,
		Order:     raw.Order,
	}
	if raw.Token != nil {
		out.Token = *raw.Token
	}
	if raw.User != nil {
		out.User = *raw.User
	}
	if raw.Taker != nil {
		out.Taker = *raw.Taker
	}
	var err error
	if out.Amount, err = parseOptionalDec(raw.Amount); err != nil {
		return errors.Wrapf(err, "event %d amount", raw.Seq)
	}
	if out.Balance, err = parseOptionalDec(raw.Balance); err != nil {
		return errors.Wrapf(err, "event %d balance", raw.Seq)
	}
	if out.Fee, err = parseOptionalDec(raw.Fee); err != nil {
		return errors.Wrapf(err, "event %d fee", raw.Seq)
	}
	*e = out
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseDec(s string) (*uint256.Int, error) {
	return uint256.FromDecimal(s)
}

func parseOptionalDec(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return uint256.FromDecimal(s)
}
