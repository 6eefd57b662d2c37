package token

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrDuplicateSymbol       = errors.New("token symbol already deployed")
)

// Token is an ERC-20 style fungible balance ledger.
//
// A Token is not safe for concurrent use; Registry serializes access and
// uses the undo journal to roll back a mutation whose persistence failed.
type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8

	totalSupply uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int

	journal []func()
}

// NewToken mints the whole supply to the deployer
func NewToken(addr common.Address, name, symbol string, decimals uint8, supply *uint256.Int, deployer common.Address) *Token {
	t := &Token{
		Address:    addr,
		Name:       name,
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
	t.totalSupply.Set(supply)
	if !supply.IsZero() {
		t.balances[deployer] = new(uint256.Int).Set(supply)
	}
	return t
}

func (t *Token) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(&t.totalSupply)
}

// BalanceOf returns a copy of owner's balance (zero if unknown)
func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// Approve sets spender's allowance over owner's balance, replacing any
// previous value.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return errors.Wrap(ErrInvalidRecipient, "approve to the zero address")
	}
	t.setAllowance(owner, spender, amount)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.Wrap(ErrInvalidRecipient, "transfer to the zero address")
	}
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s: have %s, need %s", t.Symbol, bal.Dec(), amount.Dec())
	}
	t.move(from, to, amount)
	return nil
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming spender's allowance.
func (t *Token) TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.Wrap(ErrInvalidRecipient, "transfer to the zero address")
	}
	bal := t.BalanceOf(owner)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s: have %s, need %s", t.Symbol, bal.Dec(), amount.Dec())
	}
	allowed := t.Allowance(owner, spender)
	if allowed.Lt(amount) {
		return errors.Wrapf(ErrInsufficientAllowance, "%s: allowed %s, need %s", t.Symbol, allowed.Dec(), amount.Dec())
	}
	t.setAllowance(owner, spender, new(uint256.Int).Sub(allowed, amount))
	t.move(owner, to, amount)
	return nil
}

// move assumes the balance check already passed. The recipient credit cannot
// overflow because balances sum to the total supply.
func (t *Token) move(from, to common.Address, amount *uint256.Int) {
	fromBal := t.BalanceOf(from)
	t.setBalance(from, fromBal.Sub(fromBal, amount))
	toBal := t.BalanceOf(to)
	t.setBalance(to, toBal.Add(toBal, amount))
}

func (t *Token) setBalance(owner common.Address, v *uint256.Int) {
	prev, had := t.balances[owner]
	t.journal = append(t.journal, func() {
		if had {
			t.balances[owner] = prev
		} else {
			delete(t.balances, owner)
		}
	})
	t.balances[owner] = v
}

func (t *Token) setAllowance(owner, spender common.Address, v *uint256.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	prev, had := m[spender]
	t.journal = append(t.journal, func() {
		if had {
			m[spender] = prev
		} else {
			delete(m, spender)
		}
	})
	m[spender] = new(uint256.Int).Set(v)
}

func (t *Token) commit() { t.journal = t.journal[:0] }

func (t *Token) rollback() {
	for i := len(t.journal) - 1; i >= 0; i-- {
		t.journal[i]()
	}
	t.journal = t.journal[:0]
}
