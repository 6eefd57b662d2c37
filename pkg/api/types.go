package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings of base units.

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo describes the exchange and how far its log has advanced
type ExchangeInfo struct {
	Address    string      `json:"address"`
	FeeAccount string      `json:"feeAccount"`
	FeePercent uint64      `json:"feePercent"`
	OrderCount uint64      `json:"orderCount"`
	LastSeq    uint64      `json:"lastSeq"`
	Digest     string      `json:"digest"`
	Role       string      `json:"role"` // "primary" or "follower"
	Domain     *DomainInfo `json:"domain,omitempty"`
}

// DomainInfo is the EIP-712 domain clients must sign requests against
type DomainInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// BalanceInfo is one custody balance
type BalanceInfo struct {
	Token  string `json:"token"`
	Symbol string `json:"symbol,omitempty"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// OrderInfo is an order with its current status
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	CreatedAt  int64  `json:"createdAt"`
	Status     string `json:"status"` // "open", "cancelled", "filled"
}

// EventsResponse is one page of the event log
type EventsResponse struct {
	Events  []exchange.Event `json:"events"`
	LastSeq uint64           `json:"lastSeq"`
}

// TokenInfo is a deployed token
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

// TokenAmount answers balance and allowance queries on the token ledger
type TokenAmount struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "events", "orders", "account:<address>"
}

// WSMessage carries one committed event to subscribers of Channel
type WSMessage struct {
	Channel string         `json:"channel"`
	Event   exchange.Event `json:"event"`
}

// ==============================
// Conversions
// ==============================

func orderInfo(o exchange.Order, status exchange.OrderStatus) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  o.AmountGet.Dec(),
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: o.AmountGive.Dec(),
		CreatedAt:  o.CreatedAt,
		Status:     status.String(),
	}
}

func tokenInfo(i token.Info) TokenInfo {
	return TokenInfo{
		Address:     i.Address.Hex(),
		Name:        i.Name,
		Symbol:      i.Symbol,
		Decimals:    i.Decimals,
		TotalSupply: i.TotalSupply.Dec(),
	}
}

func domainInfo(d crypto.EIP712Domain) *DomainInfo {
	out := &DomainInfo{
		Name:              d.Name,
		Version:           d.Version,
		VerifyingContract: d.VerifyingContract.Hex(),
	}
	if d.ChainID != nil {
		out.ChainID = d.ChainID.String()
	}
	return out
}

// accountChannel names the per-user websocket channel
func accountChannel(addr common.Address) string {
	return "account:" + addr.Hex()
}
