package token

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Store persists token state. Implemented by storage.PebbleStore.
type Store interface {
	SaveToken(st State) error
	LoadTokens() ([]State, error)
}

// Info is the static description of a deployed token
type Info struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
}

// Registry holds every deployed token and serializes access to them.
// It satisfies the exchange's TokenLedger interface.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
	nonce  uint64
	store  Store
	log    *zap.SugaredLogger
}

// NewRegistry restores previously deployed tokens from store (which may be nil)
func NewRegistry(store Store, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		tokens: make(map[common.Address]*Token),
		store:  store,
		log:    logger.Sugar(),
	}
	if store == nil {
		return r, nil
	}

	states, err := store.LoadTokens()
	if err != nil {
		return nil, errors.Wrap(err, "load tokens")
	}
	for _, st := range states {
		t, err := FromState(st)
		if err != nil {
			return nil, err
		}
		r.tokens[t.Address] = t
	}
	r.nonce = uint64(len(r.tokens))
	if len(states) > 0 {
		r.log.Infow("tokens_restored", "count", len(states))
	}
	return r, nil
}

// Deploy creates a token whose whole supply belongs to deployer. The address
// is derived the way a contract creation would derive it.
func (r *Registry) Deploy(deployer common.Address, name, symbol string, decimals uint8, supply *uint256.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return common.Address{}, errors.Wrapf(ErrDuplicateSymbol, "%s at %s", symbol, t.Address.Hex())
		}
	}

	addr := crypto.CreateAddress(deployer, r.nonce)
	t := NewToken(addr, name, symbol, decimals, supply, deployer)
	if r.store != nil {
		if err := r.store.SaveToken(t.State()); err != nil {
			return common.Address{}, errors.Wrap(err, "save token")
		}
	}
	r.tokens[addr] = t
	r.nonce++

	r.log.Infow("token_deployed", "symbol", symbol, "address", addr.Hex(), "supply", supply.Dec(), "deployer", deployer.Hex())
	return addr, nil
}

func (r *Registry) Info(addr common.Address) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return Info{}, false
	}
	return infoOf(t), true
}

func (r *Registry) BySymbol(symbol string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return infoOf(t), true
		}
	}
	return Info{}, false
}

// List returns all tokens sorted by symbol
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, infoOf(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) BalanceOf(token, owner common.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[token]
	if !ok {
		return new(uint256.Int)
	}
	return t.BalanceOf(owner)
}

func (r *Registry) Allowance(token, owner, spender common.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[token]
	if !ok {
		return new(uint256.Int)
	}
	return t.Allowance(owner, spender)
}

func (r *Registry) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	return r.mutate(token, func(t *Token) error {
		return t.Approve(owner, spender, amount)
	})
}

func (r *Registry) Transfer(token, sender, recipient common.Address, amount *uint256.Int) error {
	return r.mutate(token, func(t *Token) error {
		return t.Transfer(sender, recipient, amount)
	})
}

func (r *Registry) TransferFrom(token, spender, owner, recipient common.Address, amount *uint256.Int) error {
	return r.mutate(token, func(t *Token) error {
		return t.TransferFrom(spender, owner, recipient, amount)
	})
}

// mutate applies fn and persists the token. A failed save rolls the token
// back so callers never observe a change that was not stored.
func (r *Registry) mutate(addr common.Address, fn func(*Token) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[addr]
	if !ok {
		return errors.Wrapf(ErrUnknownToken, "%s", addr.Hex())
	}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	if r.store != nil {
		if err := r.store.SaveToken(t.State()); err != nil {
			t.rollback()
			return errors.Wrapf(err, "save token %s", t.Symbol)
		}
	}
	t.commit()
	return nil
}

func infoOf(t *Token) Info {
	return Info{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: t.TotalSupply(),
	}
}
