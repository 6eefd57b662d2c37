package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is fixed at construction time
type Config struct {
	// Address is the exchange's own identity on the token ledger. Deposits
	// are pulled into it and withdrawals are paid out of it.
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64
}

// TokenLedger is the external token contract the exchange custodies for.
// Both calls must leave balances untouched when they fail.
type TokenLedger interface {
	TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error
	Transfer(token, sender, recipient common.Address, amount *uint256.Int) error
}

// Order is immutable once created. Its status lives in the cancelled and
// filled sets, never on the order itself.
type Order struct {
	ID         uint64
	Creator    common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	CreatedAt  int64 // unix seconds, >= 1
}

func (o Order) clone() Order {
	o.AmountGet = new(uint256.Int).Set(o.AmountGet)
	o.AmountGive = new(uint256.Int).Set(o.AmountGive)
	return o
}

type OrderStatus uint8

const (
	StatusOpen OrderStatus = iota
	StatusCancelled
	StatusFilled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCancelled:
		return "cancelled"
	case StatusFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// ParseOrderStatus is the inverse of String
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch s {
	case "open":
		return StatusOpen, true
	case "cancelled":
		return StatusCancelled, true
	case "filled":
		return StatusFilled, true
	}
	return 0, false
}

// Balance is one custody cell
type Balance struct {
	Token  common.Address
	User   common.Address
	Amount *uint256.Int
}

type balanceKey struct {
	token common.Address
	user  common.Address
}

// OrderFilter selects orders for Orders. Zero fields match everything.
type OrderFilter struct {
	Creator *common.Address
	Status  *OrderStatus
	Token   *common.Address // matches either side of the pair
	Limit   int
}

func (f OrderFilter) match(o Order, status OrderStatus) bool {
	if f.Creator != nil && o.Creator != *f.Creator {
		return false
	}
	if f.Status != nil && status != *f.Status {
		return false
	}
	if f.Token != nil && o.TokenGet != *f.Token && o.TokenGive != *f.Token {
		return false
	}
	return true
}
