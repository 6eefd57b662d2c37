package transaction

import (
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

var (
	ErrMalformed        = errors.New("malformed request")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("request expired")
	ErrReplay           = errors.New("request already seen")
)

// Action names a signed request. The values double as the wire "type".
type Action string

const (
	ActionDeposit     Action = "deposit"
	ActionWithdraw    Action = "withdraw"
	ActionMakeOrder   Action = "makeOrder"
	ActionCancelOrder Action = "cancelOrder"
	ActionFillOrder   Action = "fillOrder"
	ActionApprove     Action = "approve"
	ActionTransfer    Action = "transfer"
)

var primaryTypes = map[Action]string{
	ActionDeposit:     crypto.TypeDeposit,
	ActionWithdraw:    crypto.TypeWithdraw,
	ActionMakeOrder:   crypto.TypeMakeOrder,
	ActionCancelOrder: crypto.TypeCancelOrder,
	ActionFillOrder:   crypto.TypeFillOrder,
	ActionApprove:     crypto.TypeApprove,
	ActionTransfer:    crypto.TypeTransfer,
}

// PrimaryType is the EIP-712 type signed for the action
func (a Action) PrimaryType() (string, bool) {
	t, ok := primaryTypes[a]
	return t, ok
}

// Payload is the JSON form of every action. Fields an action does not use
// stay empty. Amounts, order ids, nonce and deadline are decimal strings.
type Payload struct {
	Owner      string `json:"owner"`
	Token      string `json:"token,omitempty"`
	Amount     string `json:"amount,omitempty"`
	TokenGet   string `json:"tokenGet,omitempty"`
	AmountGet  string `json:"amountGet,omitempty"`
	TokenGive  string `json:"tokenGive,omitempty"`
	AmountGive string `json:"amountGive,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
	Spender    string `json:"spender,omitempty"`
	To         string `json:"to,omitempty"`
	Nonce      string `json:"nonce"`
	Deadline   string `json:"deadline"`
}

// SignedTransaction is what clients POST to /api/v1/tx
type SignedTransaction struct {
	Type      Action  `json:"type"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"` // 0x-prefixed, 65 bytes
}

func (p Payload) field(name string) string {
	switch name {
	case "owner":
		return p.Owner
	case "token":
		return p.Token
	case "amount":
		return p.Amount
	case "tokenGet":
		return p.TokenGet
	case "amountGet":
		return p.AmountGet
	case "tokenGive":
		return p.TokenGive
	case "amountGive":
		return p.AmountGive
	case "orderId":
		return p.OrderID
	case "spender":
		return p.Spender
	case "to":
		return p.To
	case "nonce":
		return p.Nonce
	case "deadline":
		return p.Deadline
	}
	return ""
}

// Message builds the typed-data message for the action, checking that
// every field the action signs is present and well formed.
func (tx *SignedTransaction) Message() (string, apitypes.TypedDataMessage, error) {
	primary, ok := tx.Type.PrimaryType()
	if !ok {
		return "", nil, errors.Wrapf(ErrMalformed, "unknown transaction type %q", tx.Type)
	}
	fields, _ := crypto.Fields(primary)
	msg := make(apitypes.TypedDataMessage, len(fields))
	for _, name := range fields {
		v := tx.Payload.field(name)
		if v == "" {
			return "", nil, errors.Wrapf(ErrMalformed, "%s: missing %s", tx.Type, name)
		}
		switch name {
		case "owner", "token", "tokenGet", "tokenGive", "spender", "to":
			if !common.IsHexAddress(v) {
				return "", nil, errors.Wrapf(ErrMalformed, "%s: %s is not an address", tx.Type, name)
			}
			v = common.HexToAddress(v).Hex()
		default:
			if _, err := uint256.FromDecimal(v); err != nil {
				return "", nil, errors.Wrapf(ErrMalformed, "%s: %s is not a uint256", tx.Type, name)
			}
		}
		msg[name] = v
	}
	return primary, msg, nil
}

// Request is a verified, decoded transaction
type Request struct {
	Action Action
	Signer common.Address
	Digest common.Hash

	Token      common.Address
	Amount     *uint256.Int
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	OrderID    uint64
	Spender    common.Address
	To         common.Address
	Nonce      *uint256.Int
	Deadline   uint64
}

// decode converts the checked message fields into typed values
func decode(action Action, msg apitypes.TypedDataMessage) (*Request, error) {
	req := &Request{Action: action}
	for name, raw := range msg {
		v := raw.(string)
		switch name {
		case "owner":
			req.Signer = common.HexToAddress(v)
		case "token":
			req.Token = common.HexToAddress(v)
		case "tokenGet":
			req.TokenGet = common.HexToAddress(v)
		case "tokenGive":
			req.TokenGive = common.HexToAddress(v)
		case "spender":
			req.Spender = common.HexToAddress(v)
		case "to":
			req.To = common.HexToAddress(v)
		case "amount":
			req.Amount = uint256.MustFromDecimal(v)
		case "amountGet":
			req.AmountGet = uint256.MustFromDecimal(v)
		case "amountGive":
			req.AmountGive = uint256.MustFromDecimal(v)
		case "nonce":
			req.Nonce = uint256.MustFromDecimal(v)
		case "orderId":
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformed, "orderId %s out of range", v)
			}
			req.OrderID = id
		case "deadline":
			d, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformed, "deadline %s out of range", v)
			}
			req.Deadline = d
		}
	}
	return req, nil
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses a transaction and checks its structure. The signature
// is not checked here; see Verifier.
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "unmarshal transaction"), ErrMalformed)
	}
	if tx.Signature == "" {
		return nil, errors.Wrap(ErrMalformed, "missing signature")
	}
	if _, _, err := tx.Message(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Example:
//   {
//     "type": "makeOrder",
//     "payload": {
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "tokenGet": "0x...", "amountGet": "1000000000000000000",
//       "tokenGive": "0x...", "amountGive": "1000000000000000000",
//       "nonce": "42", "deadline": "1700003600"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
