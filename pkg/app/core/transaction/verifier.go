package transaction

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/util"
)

const (
	DefaultReplayCacheSize = 100_000
	DefaultMaxTTL          = time.Hour
)

type VerifierOptions struct {
	// ReplayCacheSize bounds how many request digests are remembered.
	ReplayCacheSize int
	// MaxTTL caps how far in the future a deadline may be, so a request
	// is always expired before the cache could have forgotten it under
	// normal load.
	MaxTTL time.Duration
	Clock  util.Clock
}

// Verifier authenticates signed transactions: it recovers the EIP-712
// signer, checks it is the payload owner, enforces the deadline and
// rejects digests it has already accepted.
type Verifier struct {
	signer *crypto.EIP712Signer
	seen   *lru.Cache[common.Hash, struct{}]
	maxTTL time.Duration
	clock  util.Clock
}

func NewVerifier(domain crypto.EIP712Domain, opts VerifierOptions) (*Verifier, error) {
	if opts.ReplayCacheSize <= 0 {
		opts.ReplayCacheSize = DefaultReplayCacheSize
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = DefaultMaxTTL
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	seen, err := lru.New[common.Hash, struct{}](opts.ReplayCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "replay cache")
	}
	return &Verifier{
		signer: crypto.NewEIP712Signer(domain),
		seen:   seen,
		maxTTL: opts.MaxTTL,
		clock:  opts.Clock,
	}, nil
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.signer }

// Verify returns the decoded request. A request is only accepted once.
func (v *Verifier) Verify(tx *SignedTransaction) (*Request, error) {
	primary, msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}
	hash, err := v.signer.Hash(primary, msg)
	if err != nil {
		return nil, errors.Mark(err, ErrMalformed)
	}
	recovered, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidSignature)
	}

	req, err := decode(tx.Type, msg)
	if err != nil {
		return nil, err
	}
	if recovered != req.Signer {
		return nil, errors.Wrapf(ErrInvalidSignature, "signed by %s, owner is %s", recovered.Hex(), req.Signer.Hex())
	}
	req.Digest = common.BytesToHash(hash)

	now := v.clock.Now()
	deadline := time.Unix(int64(req.Deadline), 0)
	if !deadline.After(now) {
		return nil, errors.Wrapf(ErrExpired, "deadline %d passed", req.Deadline)
	}
	if deadline.Sub(now) > v.maxTTL {
		return nil, errors.Wrapf(ErrMalformed, "deadline %d is more than %s ahead", req.Deadline, v.maxTTL)
	}

	if seen, _ := v.seen.ContainsOrAdd(req.Digest, struct{}{}); seen {
		return nil, errors.Wrapf(ErrReplay, "digest %s", req.Digest.Hex())
	}
	return req, nil
}

// decodeSignature decodes a 0x-prefixed hex signature
func decodeSignature(sig string) ([]byte, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode signature"), ErrInvalidSignature)
	}
	if len(b) != 65 {
		return nil, errors.Wrapf(ErrInvalidSignature, "signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
