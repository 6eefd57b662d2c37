package main

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/storage"
)

// node is a primary's app together with the resources it must release
type node struct {
	app      *dex.App
	deployer *crypto.Signer
	tokens   map[string]common.Address
	closers  []func() error
}

func (n *node) Close() error {
	var err error
	for i := len(n.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, n.closers[i]())
	}
	return err
}

func signerFromKey(hexKey, what string, log *zap.SugaredLogger) (*crypto.Signer, error) {
	if hexKey != "" {
		s, err := crypto.FromPrivateKeyHex(hexKey)
		return s, errors.Wrapf(err, "%s key", what)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warnw("ephemeral_key_generated", "role", what, "address", s.Address().Hex())
	return s, nil
}

// exchangeConfig resolves the custody address: configured, or derived from
// the deployer
func exchangeConfig(cfg params.Config, deployer common.Address) exchange.Config {
	addr := dex.ExchangeAddress(deployer)
	if cfg.Exchange.Address != "" {
		addr = common.HexToAddress(cfg.Exchange.Address)
	}
	return exchange.Config{
		Address:    addr,
		FeeAccount: common.HexToAddress(cfg.Exchange.FeeAccount),
		FeePercent: cfg.Exchange.FeePercent,
	}
}

// openNode builds the primary: storage, the app, genesis tokens and the
// file journal
func openNode(cfg params.Config, logger *zap.Logger) (*node, error) {
	log := logger.Sugar()
	deployer, err := signerFromKey(cfg.Genesis.DeployerKey, "deployer", log)
	if err != nil {
		return nil, err
	}
	n := &node{deployer: deployer}

	var store dex.Store
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, ps.Close)
		store = ps
	}

	app, err := dex.New(dex.Options{
		Exchange:  exchangeConfig(cfg, deployer.Address()),
		Domain:    cfg.EIP712Domain(),
		Verifier:  cfg.VerifierOptions(),
		Store:     store,
		QueueSize: cfg.Requests.QueueSize,
		BatchSize: cfg.Requests.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.app = app

	n.tokens, err = app.Genesis(deployer.Address(), cfg.Genesis.Tokens)
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	for sym, addr := range n.tokens {
		log.Infow("token_ready", "symbol", sym, "address", addr.Hex())
	}

	if cfg.Node.JournalPath != "" {
		j, err := storage.NewFileJournal(cfg.Node.JournalPath)
		if err != nil {
			_ = n.Close()
			return nil, err
		}
		n.closers = append(n.closers, j.Close)
		app.AddSink("journal", j)
	}

	log.Infow("node_opened",
		"exchange", app.Exchange().Address().Hex(),
		"fee_account", cfg.Exchange.FeeAccount,
		"fee_percent", cfg.Exchange.FeePercent,
		"data_dir", cfg.Node.DataDir,
		"last_seq", app.Exchange().LastSeq(),
	)
	return n, nil
}
