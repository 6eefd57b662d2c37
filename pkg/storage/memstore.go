package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

type cellKey struct {
	token common.Address
	user  common.Address
}

// InMemoryStore is a non-durable Store for tests and throwaway nodes
type InMemoryStore struct {
	mu        sync.Mutex
	balances  map[cellKey]*uint256.Int
	orders    map[uint64]exchange.Order
	cancelled map[uint64]struct{}
	filled    map[uint64]struct{}
	events    map[uint64]exchange.Event
	tokens    map[common.Address]token.State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		balances:  make(map[cellKey]*uint256.Int),
		orders:    make(map[uint64]exchange.Order),
		cancelled: make(map[uint64]struct{}),
		filled:    make(map[uint64]struct{}),
		events:    make(map[uint64]exchange.Event),
		tokens:    make(map[common.Address]token.State),
	}
}

func (s *InMemoryStore) Commit(cs *exchange.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs.Balances {
		s.setBalance(c.Token, c.User, c.New)
	}
	for _, o := range cs.Orders {
		s.orders[o.ID] = o
	}
	for _, id := range cs.Cancelled {
		s.cancelled[id] = struct{}{}
	}
	for _, id := range cs.Filled {
		s.filled[id] = struct{}{}
	}
	for _, ev := range cs.Events {
		s.events[ev.Seq] = ev
	}
	return nil
}

func (s *InMemoryStore) Revert(cs *exchange.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs.Balances {
		s.setBalance(c.Token, c.User, c.Old)
	}
	for _, o := range cs.Orders {
		delete(s.orders, o.ID)
	}
	for _, id := range cs.Cancelled {
		delete(s.cancelled, id)
	}
	for _, id := range cs.Filled {
		delete(s.filled, id)
	}
	for _, ev := range cs.Events {
		delete(s.events, ev.Seq)
	}
	return nil
}

func (s *InMemoryStore) setBalance(tok, user common.Address, v *uint256.Int) {
	k := cellKey{token: tok, user: user}
	if v == nil || v.IsZero() {
		delete(s.balances, k)
		return
	}
	s.balances[k] = new(uint256.Int).Set(v)
}

func (s *InMemoryStore) Load() (*exchange.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &exchange.Snapshot{}
	for k, v := range s.balances {
		snap.Balances = append(snap.Balances, exchange.Balance{Token: k.token, User: k.user, Amount: new(uint256.Int).Set(v)})
	}
	for _, id := range sortedKeys(s.orders) {
		snap.Orders = append(snap.Orders, s.orders[id])
	}
	snap.Cancelled = sortedKeys(s.cancelled)
	snap.Filled = sortedKeys(s.filled)
	for _, seq := range sortedKeys(s.events) {
		snap.Events = append(snap.Events, s.events[seq])
	}
	return snap, nil
}

func (s *InMemoryStore) SaveToken(st token.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[st.Address] = st
	return nil
}

func (s *InMemoryStore) LoadTokens() ([]token.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]token.State, 0, len(s.tokens))
	for _, st := range s.tokens {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

var (
	_ exchange.Store = (*InMemoryStore)(nil)
	_ token.Store    = (*InMemoryStore)(nil)
)
