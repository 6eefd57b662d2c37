package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// state is the custody ledger plus the order store. It has no locking of
// its own; Exchange and Replica each guard theirs.
type state struct {
	balances  map[balanceKey]*uint256.Int
	orders    []Order // orders[i].ID == i+1
	cancelled map[uint64]struct{}
	filled    map[uint64]struct{}
	events    []Event
}

func newState() *state {
	return &state{
		balances:  make(map[balanceKey]*uint256.Int),
		cancelled: make(map[uint64]struct{}),
		filled:    make(map[uint64]struct{}),
	}
}

func (s *state) balanceOf(token, user common.Address) *uint256.Int {
	if b, ok := s.balances[balanceKey{token: token, user: user}]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (s *state) order(id uint64) (Order, bool) {
	if id == 0 || id > uint64(len(s.orders)) {
		return Order{}, false
	}
	return s.orders[id-1], true
}

func (s *state) status(id uint64) OrderStatus {
	if _, ok := s.cancelled[id]; ok {
		return StatusCancelled
	}
	if _, ok := s.filled[id]; ok {
		return StatusFilled
	}
	return StatusOpen
}

func (s *state) nextOrderID() uint64 { return uint64(len(s.orders)) + 1 }
func (s *state) nextSeq() uint64     { return uint64(len(s.events)) + 1 }

func (s *state) apply(cs *ChangeSet) {
	for _, b := range cs.Balances {
		k := balanceKey{token: b.Token, user: b.User}
		if b.New.IsZero() {
			delete(s.balances, k)
			continue
		}
		s.balances[k] = new(uint256.Int).Set(b.New)
	}
	for _, o := range cs.Orders {
		s.orders = append(s.orders, o.clone())
	}
	for _, id := range cs.Cancelled {
		s.cancelled[id] = struct{}{}
	}
	for _, id := range cs.Filled {
		s.filled[id] = struct{}{}
	}
	s.events = append(s.events, cs.Events...)
}

func (s *state) userBalances(user common.Address) []Balance {
	var out []Balance
	for k, v := range s.balances {
		if k.user == user {
			out = append(out, Balance{Token: k.token, User: k.user, Amount: new(uint256.Int).Set(v)})
		}
	}
	sortBalances(out)
	return out
}

// custodied sums every user's balance of each token
func (s *state) custodied() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int)
	for k, v := range s.balances {
		sum, ok := out[k.token]
		if !ok {
			sum = new(uint256.Int)
			out[k.token] = sum
		}
		sum.Add(sum, v)
	}
	return out
}

func (s *state) eventsFrom(from uint64, limit int) []Event {
	if from == 0 {
		from = 1
	}
	if from > uint64(len(s.events)) {
		return nil
	}
	evs := s.events[from-1:]
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

func (s *state) listOrders(f OrderFilter) []Order {
	var out []Order
	for _, o := range s.orders {
		if !f.match(o, s.status(o.ID)) {
			continue
		}
		out = append(out, o.clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// restore loads a snapshot into an empty state, checking the invariants a
// healthy store always satisfies.
func (s *state) restore(snap *Snapshot) error {
	for i, o := range snap.Orders {
		if o.ID != uint64(i)+1 {
			return errors.Newf("order ids not contiguous: position %d holds id %d", i, o.ID)
		}
		s.orders = append(s.orders, o.clone())
	}
	for _, id := range snap.Cancelled {
		if _, ok := s.order(id); !ok {
			return errors.Newf("cancelled mark for unknown order %d", id)
		}
		s.cancelled[id] = struct{}{}
	}
	for _, id := range snap.Filled {
		if _, ok := s.order(id); !ok {
			return errors.Newf("filled mark for unknown order %d", id)
		}
		if _, dup := s.cancelled[id]; dup {
			return errors.Newf("order %d is both cancelled and filled", id)
		}
		s.filled[id] = struct{}{}
	}
	for i, ev := range snap.Events {
		if ev.Seq != uint64(i)+1 {
			return errors.Newf("event log gap: position %d holds seq %d", i, ev.Seq)
		}
	}
	s.events = append(s.events, snap.Events...)
	for _, b := range snap.Balances {
		if b.Amount == nil || b.Amount.IsZero() {
			continue
		}
		s.balances[balanceKey{token: b.Token, user: b.User}] = new(uint256.Int).Set(b.Amount)
	}
	return nil
}
