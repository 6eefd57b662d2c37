package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate a fresh node with the demo trading history",
	Long: `seed opens the node's store, deploys the genesis tokens and runs the
demo scenario as signed requests: two funded traders, one cancelled order,
three fills and twenty open orders. The deployer is the first trader.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := util.NewLogger(cfg.Node.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	n, err := openNode(cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if seq := n.app.Exchange().LastSeq(); seq > 0 {
		return errors.Newf("exchange already has %d events; seed a fresh data dir", seq)
	}
	user2, err := signerFromKey(cfg.Seed.User2Key, "user2", logger.Sugar())
	if err != nil {
		return err
	}

	res, err := dex.Seed(context.Background(), n.app, n.deployer, user2)
	if err != nil {
		return err
	}

	ex := n.app.Exchange()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exchange:  %s\n", ex.Address().Hex())
	fmt.Fprintf(out, "User 1:    %s\n", n.deployer.Address().Hex())
	fmt.Fprintf(out, "User 2:    %s\n", user2.Address().Hex())
	for sym, addr := range res.Tokens {
		fmt.Fprintf(out, "Token %-4s %s\n", sym, addr.Hex())
	}
	fmt.Fprintf(out, "Cancelled: %v\n", res.Cancelled)
	fmt.Fprintf(out, "Filled:    %v\n", res.Filled)
	fmt.Fprintf(out, "Open:      %d orders\n", len(res.Open))
	fmt.Fprintf(out, "Events:    %d\n", ex.LastSeq())
	return nil
}
