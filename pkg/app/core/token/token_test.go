package token

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deployer = common.HexToAddress("0xD0000000000000000000000000000000000000D0")
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	exchange = common.HexToAddress("0xEE00000000000000000000000000000000000000")
)

func newDapp() *Token {
	return NewToken(common.HexToAddress("0x01"), "Dapp University", "DAPP", DefaultDecimals, Tokens("1000000"), deployer)
}

func TestNewTokenAssignsSupplyToDeployer(t *testing.T) {
	tok := newDapp()

	assert.Equal(t, "DAPP", tok.Symbol)
	assert.Equal(t, uint8(18), tok.Decimals)
	assert.Equal(t, Tokens("1000000"), tok.TotalSupply())
	assert.Equal(t, Tokens("1000000"), tok.BalanceOf(deployer))
	assert.True(t, tok.BalanceOf(alice).IsZero())
}

func TestTransfer(t *testing.T) {
	tok := newDapp()

	require.NoError(t, tok.Transfer(deployer, alice, Tokens("100")))
	assert.Equal(t, Tokens("100"), tok.BalanceOf(alice))
	assert.Equal(t, Tokens("999900"), tok.BalanceOf(deployer))

	err := tok.Transfer(alice, bob, Tokens("101"))
	require.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)
	assert.Equal(t, Tokens("100"), tok.BalanceOf(alice))

	err = tok.Transfer(alice, common.Address{}, Tokens("1"))
	require.True(t, errors.Is(err, ErrInvalidRecipient), "got %v", err)
}

func TestApproveAndTransferFrom(t *testing.T) {
	tok := newDapp()
	require.NoError(t, tok.Transfer(deployer, alice, Tokens("100")))

	err := tok.TransferFrom(exchange, alice, exchange, Tokens("10"))
	require.True(t, errors.Is(err, ErrInsufficientAllowance), "got %v", err)

	require.NoError(t, tok.Approve(alice, exchange, Tokens("10")))
	assert.Equal(t, Tokens("10"), tok.Allowance(alice, exchange))

	require.NoError(t, tok.TransferFrom(exchange, alice, exchange, Tokens("10")))
	assert.True(t, tok.Allowance(alice, exchange).IsZero())
	assert.Equal(t, Tokens("10"), tok.BalanceOf(exchange))
	assert.Equal(t, Tokens("90"), tok.BalanceOf(alice))

	err = tok.Approve(alice, common.Address{}, Tokens("1"))
	require.True(t, errors.Is(err, ErrInvalidRecipient))
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	tok := newDapp()
	require.NoError(t, tok.Transfer(deployer, alice, Tokens("5")))
	require.NoError(t, tok.Approve(alice, exchange, Tokens("10")))

	err := tok.TransferFrom(exchange, alice, exchange, Tokens("10"))
	require.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)
	assert.Equal(t, Tokens("10"), tok.Allowance(alice, exchange))
}

func TestRollbackRestoresCells(t *testing.T) {
	tok := newDapp()
	require.NoError(t, tok.Approve(deployer, exchange, Tokens("50")))
	tok.commit()

	require.NoError(t, tok.TransferFrom(exchange, deployer, bob, Tokens("20")))
	tok.rollback()

	assert.Equal(t, Tokens("1000000"), tok.BalanceOf(deployer))
	assert.True(t, tok.BalanceOf(bob).IsZero())
	assert.Equal(t, Tokens("50"), tok.Allowance(deployer, exchange))
}

func TestStateRoundTrip(t *testing.T) {
	tok := newDapp()
	require.NoError(t, tok.Transfer(deployer, alice, Tokens("7.25")))
	require.NoError(t, tok.Approve(alice, exchange, Tokens("3")))

	restored, err := FromState(tok.State())
	require.NoError(t, err)

	assert.Equal(t, tok.Symbol, restored.Symbol)
	assert.Equal(t, tok.TotalSupply(), restored.TotalSupply())
	assert.Equal(t, Tokens("7.25"), restored.BalanceOf(alice))
	assert.Equal(t, Tokens("3"), restored.Allowance(alice, exchange))
}

func TestFromStateRejectsBadAmount(t *testing.T) {
	st := newDapp().State()
	st.Balances[alice] = "not-a-number"
	_, err := FromState(st)
	require.Error(t, err)
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{in: "1", decimals: 18, want: "1000000000000000000"},
		{in: "0.1", decimals: 18, want: "100000000000000000"},
		{in: "1.1", decimals: 18, want: "1100000000000000000"},
		{in: "42", decimals: 0, want: "42"},
		{in: "0.5", decimals: 0, wantErr: true},
		{in: "-1", decimals: 18, wantErr: true},
		{in: "abc", decimals: 18, wantErr: true},
		{in: "1e80", decimals: 18, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Dec())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1", FormatUnits(Tokens("1"), 18))
	assert.Equal(t, "0.1", FormatUnits(Tokens("0.1"), 18))
	assert.Equal(t, "0.9", FormatUnits(Tokens("0.9"), 18))
	assert.Equal(t, "0", FormatUnits(uint256.NewInt(0), 18))
}
