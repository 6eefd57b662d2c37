package token

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the persisted form of a Token. Amounts are decimal strings.
type State struct {
	Address     common.Address                               `json:"address"`
	Name        string                                       `json:"name"`
	Symbol      string                                       `json:"symbol"`
	Decimals    uint8                                        `json:"decimals"`
	TotalSupply string                                       `json:"totalSupply"`
	Balances    map[common.Address]string                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]string `json:"allowances"`
}

func (t *Token) State() State {
	st := State{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: t.totalSupply.Dec(),
		Balances:    make(map[common.Address]string, len(t.balances)),
		Allowances:  make(map[common.Address]map[common.Address]string, len(t.allowances)),
	}
	for owner, b := range t.balances {
		if !b.IsZero() {
			st.Balances[owner] = b.Dec()
		}
	}
	for owner, m := range t.allowances {
		inner := make(map[common.Address]string, len(m))
		for spender, a := range m {
			if !a.IsZero() {
				inner[spender] = a.Dec()
			}
		}
		if len(inner) > 0 {
			st.Allowances[owner] = inner
		}
	}
	return st
}

// FromState rebuilds a Token from its persisted form
func FromState(st State) (*Token, error) {
	supply, err := uint256.FromDecimal(st.TotalSupply)
	if err != nil {
		return nil, errors.Wrapf(err, "token %s: total supply", st.Symbol)
	}
	t := &Token{
		Address:    st.Address,
		Name:       st.Name,
		Symbol:     st.Symbol,
		Decimals:   st.Decimals,
		balances:   make(map[common.Address]*uint256.Int, len(st.Balances)),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(st.Allowances)),
	}
	t.totalSupply.Set(supply)
	for owner, s := range st.Balances {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, errors.Wrapf(err, "token %s: balance of %s", st.Symbol, owner.Hex())
		}
		t.balances[owner] = v
	}
	for owner, m := range st.Allowances {
		inner := make(map[common.Address]*uint256.Int, len(m))
		for spender, s := range m {
			v, err := uint256.FromDecimal(s)
			if err != nil {
				return nil, errors.Wrapf(err, "token %s: allowance %s->%s", st.Symbol, owner.Hex(), spender.Hex())
			}
			inner[spender] = v
		}
		t.allowances[owner] = inner
	}
	return t, nil
}
