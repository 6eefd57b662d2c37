package main

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/storage"
)

func testConfig(t *testing.T) params.Config {
	t.Helper()
	deployer, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := params.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.LogFile = ""
	cfg.Genesis.DeployerKey = deployer.PrivateKeyHex()
	return cfg
}

func TestExchangeConfigAddress(t *testing.T) {
	cfg := params.Default()
	deployer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	assert.Equal(t, dex.ExchangeAddress(deployer), exchangeConfig(cfg, deployer).Address)

	cfg.Exchange.Address = "0x2222222222222222222222222222222222222222"
	assert.Equal(t, common.HexToAddress(cfg.Exchange.Address), exchangeConfig(cfg, deployer).Address)
	assert.Equal(t, uint64(10), exchangeConfig(cfg, deployer).FeePercent)
}

func TestSeedThenAudit(t *testing.T) {
	cfg := testConfig(t)

	n, err := openNode(cfg, zap.NewNop())
	require.NoError(t, err)
	user2, err := crypto.GenerateKey()
	require.NoError(t, err)
	res, err := dex.Seed(context.Background(), n.app, n.deployer, user2)
	require.NoError(t, err)
	assert.Len(t, res.Open, 20)
	digest := n.app.Exchange().Digest()
	require.NoError(t, n.Close())

	// reopening restores the same state and skips genesis
	n, err = openNode(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, digest, n.app.Exchange().Digest())
	assert.Equal(t, res.Tokens, n.tokens)
	require.NoError(t, n.Close())

	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	require.NoError(t, err)
	defer store.Close()

	rep, err := auditStore(cfg, store)
	require.NoError(t, err)
	assert.Empty(t, rep.problems)
	assert.Equal(t, digest, rep.digest)
	assert.Equal(t, uint64(24), rep.orders)
}

func TestAuditNeedsExchangeAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Genesis.DeployerKey = ""
	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	require.NoError(t, err)
	defer store.Close()

	_, err = auditStore(cfg, store)
	assert.ErrorContains(t, err, "exchange.address")
}
