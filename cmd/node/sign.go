package main

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

var signFlags struct {
	key        string
	action     string
	token      string
	amount     string
	tokenGet   string
	amountGet  string
	tokenGive  string
	amountGive string
	orderID    string
	spender    string
	to         string
	decimals   uint8
	raw        bool
	nonce      uint64
	ttl        time.Duration
	node       string
	submit     bool
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Build and sign an exchange request",
	Long: `sign builds an EIP-712 signed request and prints it as the JSON body of
POST /api/v1/tx. With --node the signing domain is fetched from that node,
and --submit posts the request there. Amounts are whole tokens unless --raw.

  custodex sign --key $KEY --action deposit --token 0x.. --amount 100 --node http://localhost:8080 --submit`,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
	f := signCmd.Flags()
	f.StringVar(&signFlags.key, "key", "", "hex private key of the signer (required)")
	f.StringVar(&signFlags.action, "action", "", "deposit, withdraw, makeOrder, cancelOrder, fillOrder, approve or transfer")
	f.StringVar(&signFlags.token, "token", "", "token address")
	f.StringVar(&signFlags.amount, "amount", "", "amount")
	f.StringVar(&signFlags.tokenGet, "token-get", "", "token the order asks for")
	f.StringVar(&signFlags.amountGet, "amount-get", "", "amount the order asks for")
	f.StringVar(&signFlags.tokenGive, "token-give", "", "token the order offers")
	f.StringVar(&signFlags.amountGive, "amount-give", "", "amount the order offers")
	f.StringVar(&signFlags.orderID, "order-id", "", "order id to cancel or fill")
	f.StringVar(&signFlags.spender, "spender", "", "spender for approve (defaults to the exchange)")
	f.StringVar(&signFlags.to, "to", "", "recipient for transfer")
	f.Uint8Var(&signFlags.decimals, "decimals", token.DefaultDecimals, "token decimals for amount conversion")
	f.BoolVar(&signFlags.raw, "raw", false, "amounts are already in base units")
	f.Uint64Var(&signFlags.nonce, "nonce", 0, "request nonce (0 picks a random one)")
	f.DurationVar(&signFlags.ttl, "ttl", 10*time.Minute, "time until the request expires")
	f.StringVar(&signFlags.node, "node", "", "node API base URL, e.g. http://localhost:8080")
	f.BoolVar(&signFlags.submit, "submit", false, "submit the signed request to --node")
	_ = signCmd.MarkFlagRequired("key")
	_ = signCmd.MarkFlagRequired("action")
}

func runSign(cmd *cobra.Command, args []string) error {
	if signFlags.submit && signFlags.node == "" {
		return errors.New("--submit needs --node")
	}
	signer, err := crypto.FromPrivateKeyHex(signFlags.key)
	if err != nil {
		return errors.Wrap(err, "signing key")
	}
	action := transaction.Action(signFlags.action)
	if _, ok := action.PrimaryType(); !ok {
		return errors.Newf("unknown action %q", signFlags.action)
	}

	ctx := context.Background()
	domain, err := signingDomain(ctx)
	if err != nil {
		return err
	}

	p := transaction.Payload{
		Token:     signFlags.token,
		TokenGet:  signFlags.tokenGet,
		TokenGive: signFlags.tokenGive,
		OrderID:   signFlags.orderID,
		Spender:   signFlags.spender,
		To:        signFlags.to,
	}
	if action == transaction.ActionApprove && p.Spender == "" {
		p.Spender = domain.VerifyingContract.Hex()
	}
	for _, a := range []struct {
		in  string
		out *string
	}{{signFlags.amount, &p.Amount}, {signFlags.amountGet, &p.AmountGet}, {signFlags.amountGive, &p.AmountGive}} {
		if *a.out, err = baseUnits(a.in); err != nil {
			return err
		}
	}

	tx, err := transaction.Sign(crypto.NewEIP712Signer(domain), signer, action, p, signFlags.nonce, time.Now().Add(signFlags.ttl))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if !signFlags.submit {
		return enc.Encode(tx)
	}
	rcpt, err := api.NewClient(signFlags.node).Submit(ctx, tx)
	if err != nil {
		return err
	}
	return enc.Encode(rcpt)
}

func baseUnits(v string) (string, error) {
	if v == "" || signFlags.raw {
		return v, nil
	}
	amt, err := token.ParseUnits(v, signFlags.decimals)
	if err != nil {
		return "", errors.Wrapf(err, "amount %q", v)
	}
	return amt.Dec(), nil
}

// signingDomain asks the node when one is given, else derives the domain
// from the local configuration
func signingDomain(ctx context.Context) (crypto.EIP712Domain, error) {
	if signFlags.node != "" {
		info, err := api.NewClient(signFlags.node).ExchangeInfo(ctx)
		if err != nil {
			return crypto.EIP712Domain{}, err
		}
		if info.Domain == nil {
			return crypto.EIP712Domain{}, errors.Newf("%s is a follower; point --node at the primary", signFlags.node)
		}
		chainID, ok := new(big.Int).SetString(info.Domain.ChainID, 10)
		if !ok {
			return crypto.EIP712Domain{}, errors.Newf("bad chain id %q", info.Domain.ChainID)
		}
		return crypto.EIP712Domain{
			Name:              info.Domain.Name,
			Version:           info.Domain.Version,
			ChainID:           chainID,
			VerifyingContract: common.HexToAddress(info.Domain.VerifyingContract),
		}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return crypto.EIP712Domain{}, err
	}
	var deployer common.Address
	if cfg.Exchange.Address == "" {
		if cfg.Genesis.DeployerKey == "" {
			return crypto.EIP712Domain{}, errors.New("set --node, exchange.address or genesis.deployer_key to know the exchange address")
		}
		s, err := crypto.FromPrivateKeyHex(cfg.Genesis.DeployerKey)
		if err != nil {
			return crypto.EIP712Domain{}, errors.Wrap(err, "deployer key")
		}
		deployer = s.Address()
	}
	d := cfg.EIP712Domain()
	d.VerifyingContract = exchangeConfig(cfg, deployer).Address
	return d, nil
}
