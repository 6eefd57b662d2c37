package storage

import (
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

const schemaVersion = "1"

func encodeAmount(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func decodeAmount(b []byte) (*uint256.Int, error) {
	if len(b) != 32 {
		return nil, errors.Newf("amount: want 32 bytes, got %d", len(b))
	}
	return new(uint256.Int).SetBytes32(b), nil
}
