package exchange

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Reader is the query surface served by both Exchange and Replica
type Reader interface {
	Config() Config
	BalanceOf(token, user common.Address) *uint256.Int
	Balances(user common.Address) []Balance
	Custodied() map[common.Address]*uint256.Int
	OrderCancelled(id uint64) bool
	OrderFilled(id uint64) bool
	OrderCount() uint64
	Order(id uint64) (Order, OrderStatus, error)
	Orders(f OrderFilter) []Order
	Status(id uint64) OrderStatus
	Events(from uint64, limit int) []Event
	LastSeq() uint64
	Digest() common.Hash
}

var (
	_ Reader = (*Exchange)(nil)
	_ Reader = (*Replica)(nil)
)

// view is the read-only query surface shared by Exchange and Replica
type view struct {
	mu sync.RWMutex
	st *state
}

// BalanceOf never fails; unknown pairs hold zero
func (v *view) BalanceOf(token, user common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.balanceOf(token, user)
}

// Balances lists the user's non-zero custody balances sorted by token
func (v *view) Balances(user common.Address) []Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.userBalances(user)
}

// Custodied sums custody balances per token
func (v *view) Custodied() map[common.Address]*uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.custodied()
}

func (v *view) OrderCancelled(id uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.status(id) == StatusCancelled
}

func (v *view) OrderFilled(id uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.status(id) == StatusFilled
}

// OrderCount is the number of orders ever created, which is also the
// highest assigned id.
func (v *view) OrderCount() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.st.orders))
}

// Order returns a copy of the order and its status
func (v *view) Order(id uint64) (Order, OrderStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	o, err := v.st.lookupOrder(id)
	if err != nil {
		return Order{}, 0, err
	}
	return o.clone(), v.st.status(id), nil
}

// Orders lists orders in id order
func (v *view) Orders(f OrderFilter) []Order {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.listOrders(f)
}

// Status reports StatusOpen for ids that were never assigned; use Order to
// tell the two apart.
func (v *view) Status(id uint64) OrderStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.status(id)
}

// Events returns up to limit events starting at seq from (1-based).
// A limit of 0 means no limit.
func (v *view) Events(from uint64, limit int) []Event {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.eventsFrom(from, limit)
}

// LastSeq is the sequence number of the newest event, 0 when empty
func (v *view) LastSeq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.st.events))
}

// Digest fingerprints the state. An exchange and a replica fed its full
// event log report the same digest.
func (v *view) Digest() common.Hash {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.st.digest()
}
