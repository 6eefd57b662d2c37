package exchange

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const digestDomain = "custodex/state/v1"

// digest is a Keccak-256 over the whole state in a canonical order:
//  1. event count (8 bytes, big-endian)
//  2. non-zero balances sorted by (token, user): token, user, amount (32 bytes)
//  3. orders by id: id, creator, tokenGet, amountGet, tokenGive, amountGive,
//     createdAt, status byte
//
// Two states with equal digests are indistinguishable through the read API.
func (s *state) digest() common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(digestDomain))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(s.events)))
	h.Write(buf[:])

	cells := make([]Balance, 0, len(s.balances))
	for k, v := range s.balances {
		cells = append(cells, Balance{Token: k.token, User: k.user, Amount: v})
	}
	sortBalances(cells)
	for _, c := range cells {
		if c.Amount.IsZero() {
			continue
		}
		amt := c.Amount.Bytes32()
		h.Write(c.Token.Bytes())
		h.Write(c.User.Bytes())
		h.Write(amt[:])
	}

	for _, o := range s.orders {
		binary.BigEndian.PutUint64(buf[:], o.ID)
		h.Write(buf[:])
		h.Write(o.Creator.Bytes())
		h.Write(o.TokenGet.Bytes())
		get := o.AmountGet.Bytes32()
		h.Write(get[:])
		h.Write(o.TokenGive.Bytes())
		give := o.AmountGive.Bytes32()
		h.Write(give[:])
		binary.BigEndian.PutUint64(buf[:], uint64(o.CreatedAt))
		h.Write(buf[:])
		h.Write([]byte{byte(s.status(o.ID))})
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

func sortBalances(bs []Balance) {
	sort.Slice(bs, func(i, j int) bool {
		if c := bytes.Compare(bs[i].Token.Bytes(), bs[j].Token.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(bs[i].User.Bytes(), bs[j].User.Bytes()) < 0
	})
}
