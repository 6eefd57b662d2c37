package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceChange records one custody cell before and after an operation
type BalanceChange struct {
	Token common.Address
	User  common.Address
	Old   *uint256.Int
	New   *uint256.Int
}

// ChangeSet is everything a single operation writes. A Store must commit
// it atomically.
type ChangeSet struct {
	Balances  []BalanceChange
	Orders    []Order
	Cancelled []uint64
	Filled    []uint64
	Events    []Event
}

// Snapshot is the persisted exchange state handed back by Store.Load
type Snapshot struct {
	Balances  []Balance
	Orders    []Order
	Cancelled []uint64
	Filled    []uint64
	Events    []Event
}

// Store persists committed change sets. Revert undoes a change set that was
// committed but whose external side effect then failed.
type Store interface {
	Commit(cs *ChangeSet) error
	Revert(cs *ChangeSet) error
	Load() (*Snapshot, error)
}

// stage accumulates an operation's writes against a state without touching
// it. Cells are read through the stage so that repeated touches of the same
// (token, user) pair see each other.
type stage struct {
	st      *state
	cells   map[balanceKey]*uint256.Int
	old     map[balanceKey]*uint256.Int
	touched []balanceKey
	cs      ChangeSet
}

func (s *state) begin() *stage {
	return &stage{
		st:    s,
		cells: make(map[balanceKey]*uint256.Int),
		old:   make(map[balanceKey]*uint256.Int),
	}
}

func (g *stage) cell(token, user common.Address) *uint256.Int {
	k := balanceKey{token: token, user: user}
	if c, ok := g.cells[k]; ok {
		return c
	}
	prev := g.st.balanceOf(token, user)
	g.old[k] = prev
	g.cells[k] = new(uint256.Int).Set(prev)
	g.touched = append(g.touched, k)
	return g.cells[k]
}

func (g *stage) balance(token, user common.Address) *uint256.Int {
	return new(uint256.Int).Set(g.cell(token, user))
}

// debit reports false, leaving the cell unchanged, if it would go negative
func (g *stage) debit(token, user common.Address, amount *uint256.Int) bool {
	if amount.IsZero() {
		return true
	}
	c := g.cell(token, user)
	if c.Lt(amount) {
		return false
	}
	c.Sub(c, amount)
	return true
}

// credit reports false, leaving the cell unchanged, on 256-bit overflow
func (g *stage) credit(token, user common.Address, amount *uint256.Int) bool {
	if amount.IsZero() {
		return true
	}
	c := g.cell(token, user)
	sum, overflow := new(uint256.Int).AddOverflow(c, amount)
	if overflow {
		return false
	}
	c.Set(sum)
	return true
}

func (g *stage) emit(ev Event) Event {
	ev.Seq = g.st.nextSeq() + uint64(len(g.cs.Events))
	g.cs.Events = append(g.cs.Events, ev)
	return ev
}

func (g *stage) changeSet() *ChangeSet {
	cs := g.cs
	cs.Balances = make([]BalanceChange, 0, len(g.touched))
	for _, k := range g.touched {
		if g.old[k].Eq(g.cells[k]) {
			continue
		}
		cs.Balances = append(cs.Balances, BalanceChange{
			Token: k.token,
			User:  k.user,
			Old:   g.old[k],
			New:   new(uint256.Int).Set(g.cells[k]),
		})
	}
	return &cs
}
