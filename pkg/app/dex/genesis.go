package dex

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

// GenesisToken is a token deployed when the node first starts. Supply is in
// whole tokens.
type GenesisToken struct {
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
	Supply   string `mapstructure:"supply"`
}

// DefaultGenesis deploys the three demo tokens with a million units each
func DefaultGenesis() []GenesisToken {
	return []GenesisToken{
		{Name: "Dapp University", Symbol: "DAPP", Decimals: token.DefaultDecimals, Supply: "1000000"},
		{Name: "mETH", Symbol: "mETH", Decimals: token.DefaultDecimals, Supply: "1000000"},
		{Name: "mDAI", Symbol: "mDAI", Decimals: token.DefaultDecimals, Supply: "1000000"},
	}
}

// Genesis deploys every listed token that is not deployed yet and returns
// the address of each symbol. Running it on a restored node is a no-op.
func (a *App) Genesis(deployer common.Address, toks []GenesisToken) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(toks))
	for _, gt := range toks {
		if info, ok := a.tokens.BySymbol(gt.Symbol); ok {
			out[gt.Symbol] = info.Address
			continue
		}
		supply, err := token.ParseUnits(gt.Supply, gt.Decimals)
		if err != nil {
			return nil, errors.Wrapf(err, "genesis %s supply", gt.Symbol)
		}
		addr, err := a.tokens.Deploy(deployer, gt.Name, gt.Symbol, gt.Decimals, supply)
		if err != nil {
			return nil, errors.Wrapf(err, "genesis %s", gt.Symbol)
		}
		out[gt.Symbol] = addr
	}
	return out, nil
}
