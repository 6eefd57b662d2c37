package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/storage"
)

const auditPageSize = 1000

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the persisted event log and check it against stored state",
	Long: `audit replays every event in the data dir into a fresh replica and
checks that the replica's digest matches the stored exchange state, that
custody is conserved, and that the exchange holds on the token ledger at
least what it owes its users.`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Node.DataDir == "" {
		return errors.New("audit needs node.data_dir")
	}
	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := auditStore(cfg, store)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Events:    %d\n", rep.events)
	fmt.Fprintf(out, "Orders:    %d\n", rep.orders)
	fmt.Fprintf(out, "Digest:    %s\n", rep.digest.Hex())
	if len(rep.problems) > 0 {
		for _, p := range rep.problems {
			fmt.Fprintf(out, "FAIL: %s\n", p)
		}
		return errors.Newf("audit found %d problems", len(rep.problems))
	}
	fmt.Fprintln(out, "OK")
	return nil
}

type auditReport struct {
	events   uint64
	orders   uint64
	digest   common.Hash
	problems []string
}

func auditStore(cfg params.Config, store *storage.PebbleStore) (*auditReport, error) {
	tokens, err := token.NewRegistry(store, zap.NewNop())
	if err != nil {
		return nil, err
	}

	var deployer common.Address
	if cfg.Exchange.Address == "" && cfg.Genesis.DeployerKey == "" {
		return nil, errors.New("audit needs exchange.address or genesis.deployer_key")
	}
	if cfg.Exchange.Address == "" {
		s, err := signerFromKey(cfg.Genesis.DeployerKey, "deployer", zap.NewNop().Sugar())
		if err != nil {
			return nil, err
		}
		deployer = s.Address()
	}
	xcfg := exchangeConfig(cfg, deployer)

	// The exchange is restored read-only; nothing is applied to it.
	ex, err := exchange.New(xcfg, tokens, store, nil, nil)
	if err != nil {
		return nil, err
	}

	replica := exchange.NewReplica(xcfg)
	for from := uint64(1); ; {
		page, err := store.EventsFrom(from, auditPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		if err := replica.ApplyAll(page); err != nil {
			return nil, errors.Wrapf(err, "replay from %d", from)
		}
		from = page[len(page)-1].Seq + 1
	}

	rep := &auditReport{events: replica.LastSeq(), orders: replica.OrderCount(), digest: replica.Digest()}
	if replica.LastSeq() != ex.LastSeq() {
		rep.problems = append(rep.problems, fmt.Sprintf("log ends at %d, state is at %d", replica.LastSeq(), ex.LastSeq()))
	}
	if replica.Digest() != ex.Digest() {
		rep.problems = append(rep.problems, fmt.Sprintf("replayed digest %s, stored digest %s", replica.Digest().Hex(), ex.Digest().Hex()))
	}
	if !replica.Conserved() {
		rep.problems = append(rep.problems, "replayed custody is not conserved")
	}
	for tok, owed := range ex.Custodied() {
		held := tokens.BalanceOf(tok, xcfg.Address)
		if held.Lt(owed) {
			rep.problems = append(rep.problems, fmt.Sprintf("token %s: exchange holds %s, owes %s", tok.Hex(), held.Dec(), owed.Dec()))
		}
	}
	return rep, nil
}
