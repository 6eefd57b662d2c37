package storage

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// Key schema
//
//   bal:<token>:<user>  -> custody balance (32-byte big-endian)
//   ord:<id>            -> order (JSON)
//   cxl:<id>            -> cancelled mark (empty value)
//   fil:<id>            -> filled mark (empty value)
//   evt:<seq>           -> event (JSON)
//   tok:<address>       -> token state (JSON)
//   meta:schema         -> schema version
//
// Ids and sequence numbers are zero-padded to 20 digits so prefix scans
// return them in numeric order.
const (
	prefixBalance   = "bal:"
	prefixOrder     = "ord:"
	prefixCancelled = "cxl:"
	prefixFilled    = "fil:"
	prefixEvent     = "evt:"
	prefixToken     = "tok:"
	keySchema       = "meta:schema"
)

func balanceKey(token, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), user.Hex()))
}

func orderKey(id uint64) []byte     { return seqKey(prefixOrder, id) }
func cancelledKey(id uint64) []byte { return seqKey(prefixCancelled, id) }
func filledKey(id uint64) []byte    { return seqKey(prefixFilled, id) }
func eventKey(seq uint64) []byte    { return seqKey(prefixEvent, seq) }

func tokenKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixToken, addr.Hex()))
}

func seqKey(prefix string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, n))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:" -> upper bound "bal;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// balanceKeyFromBytes is the inverse of balanceKey
func balanceKeyFromBytes(key []byte) (token, user common.Address, err error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, errors.Newf("invalid balance key %q", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

// seqFromKey parses the numeric suffix written by seqKey
func seqFromKey(prefix string, key []byte) (uint64, error) {
	var n uint64
	if _, err := fmt.Sscanf(strings.TrimPrefix(string(key), prefix), "%d", &n); err != nil {
		return 0, errors.Wrapf(err, "invalid key %q", key)
	}
	return n, nil
}
