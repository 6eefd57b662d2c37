package transaction

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

// Sign fills in the owner, nonce and deadline of p and signs it as action.
// A zero nonce is replaced by a random one.
func Sign(e *crypto.EIP712Signer, s *crypto.Signer, action Action, p Payload, nonce uint64, deadline time.Time) (*SignedTransaction, error) {
	if nonce == 0 {
		n, err := crypto.GenerateNonce()
		if err != nil {
			return nil, err
		}
		nonce = n
	}
	p.Owner = s.Address().Hex()
	p.Nonce = strconv.FormatUint(nonce, 10)
	p.Deadline = strconv.FormatInt(deadline.Unix(), 10)

	tx := &SignedTransaction{Type: action, Payload: p}
	primary, msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	sig, err := e.Sign(s, primary, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "sign %s", action)
	}
	tx.Signature = hexutil.Encode(sig)
	return tx, nil
}
