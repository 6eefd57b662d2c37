package crypto

import (
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures for one deployment from any other
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the exchange address
}

func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "Custodex",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// Primary types of the signed exchange actions
const (
	TypeDeposit     = "Deposit"
	TypeWithdraw    = "Withdraw"
	TypeMakeOrder   = "MakeOrder"
	TypeCancelOrder = "CancelOrder"
	TypeFillOrder   = "FillOrder"
	TypeApprove     = "Approve"
	TypeTransfer    = "Transfer"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// actionTypes lists the fields of each action. Every action is signed by
// its owner and carries a nonce and a deadline (unix seconds).
var actionTypes = map[string][]apitypes.Type{
	TypeDeposit: {
		{Name: "owner", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeWithdraw: {
		{Name: "owner", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeMakeOrder: {
		{Name: "owner", Type: "address"},
		{Name: "tokenGet", Type: "address"},
		{Name: "amountGet", Type: "uint256"},
		{Name: "tokenGive", Type: "address"},
		{Name: "amountGive", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeCancelOrder: {
		{Name: "owner", Type: "address"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeFillOrder: {
		{Name: "owner", Type: "address"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeApprove: {
		{Name: "owner", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeTransfer: {
		{Name: "owner", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Fields returns the field names of a primary type in signing order
func Fields(primaryType string) ([]string, bool) {
	types, ok := actionTypes[primaryType]
	if !ok {
		return nil, false
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	return out, true
}

// EIP712Signer hashes, signs and recovers exchange actions
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// TypedData builds the full eth_signTypedData_v4 payload for an action.
// Addresses are hex strings and integers decimal strings.
func (e *EIP712Signer) TypedData(primaryType string, message apitypes.TypedDataMessage) (apitypes.TypedData, error) {
	fields, ok := actionTypes[primaryType]
	if !ok {
		return apitypes.TypedData{}, errors.Newf("unknown action type %q", primaryType)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (e *EIP712Signer) Hash(primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData, err := e.TypedData(primaryType, message)
	if err != nil {
		return nil, err
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hash domain")
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, errors.Wrapf(err, "hash %s", primaryType)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) Sign(signer *Signer, primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Recover returns the address that signed the action
func (e *EIP712Signer) Recover(primaryType string, message apitypes.TypedDataMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders the typed data the way wallets expect it
func (e *EIP712Signer) ToJSON(primaryType string, message apitypes.TypedDataMessage) (string, error) {
	typedData, err := e.TypedData(primaryType, message)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal typed data")
	}
	return string(out), nil
}
