package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncoding(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, s.Address())
	assert.Len(t, s.PrivateKeyHex(), 64)
	assert.Len(t, s.PublicKeyHex(), 130) // 04 prefix, uncompressed

	for _, in := range []string{s.PrivateKeyHex(), "0x" + s.PrivateKeyHex()} {
		back, err := FromPrivateKeyHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, s.Address(), back.Address())
	}

	_, err = FromPrivateKeyHex("not-a-key")
	assert.Error(t, err)
}

func TestRecoverAcceptsWalletV(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)
	msg := []byte("withdraw 10 DAPP")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	hash := gethcrypto.Keccak256(msg)

	wallet := append([]byte(nil), sig...)
	wallet[64] += 27

	for name, sig := range map[string][]byte{"raw": sig, "wallet": wallet} {
		t.Run(name, func(t *testing.T) {
			addr, err := RecoverAddress(hash, sig)
			require.NoError(t, err)
			assert.Equal(t, s.Address(), addr)
			assert.True(t, VerifySignature(s.Address(), hash, sig))
		})
	}
	assert.False(t, VerifySignature(common.HexToAddress("0x01"), hash, sig))
}

func TestRejectsMalformedInput(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)
	hash := gethcrypto.Keccak256([]byte("x"))

	_, err = s.Sign([]byte("short"))
	assert.ErrorContains(t, err, "32 bytes")

	tests := []struct {
		name string
		hash []byte
		sig  []byte
	}{
		{"short signature", hash, []byte{1, 2, 3}},
		{"short hash", []byte("short"), make([]byte, 65)},
		{"zero signature", hash, make([]byte, 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecoverAddress(tt.hash, tt.sig)
			assert.Error(t, err)
			assert.False(t, VerifySignature(s.Address(), tt.hash, tt.sig))
		})
	}
}

func TestGenerateNonceVaries(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 16; i++ {
		n, err := GenerateNonce()
		require.NoError(t, err)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 1)
}
