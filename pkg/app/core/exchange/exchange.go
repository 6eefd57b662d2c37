package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/util"
)

// Exchange is the custodial ledger and order book.
//
// All mutating operations run under one lock, one at a time, from
// validation through persistence, so readers only ever see committed
// state. Persistence is optional: a nil Store keeps everything in memory.
type Exchange struct {
	view
	cfg    Config
	ledger TokenLedger
	store  Store
	clock  util.Clock
	log    *zap.SugaredLogger
}

// New builds an exchange and restores any state the store already holds
func New(cfg Config, ledger TokenLedger, store Store, clock util.Clock, logger *zap.Logger) (*Exchange, error) {
	if ledger == nil {
		return nil, errors.New("exchange: token ledger is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("exchange: zero exchange address")
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	x := &Exchange{
		view:   view{st: newState()},
		cfg:    cfg,
		ledger: ledger,
		store:  store,
		clock:  clock,
		log:    logger.Sugar(),
	}
	if store != nil {
		snap, err := store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "exchange: load state")
		}
		if snap != nil {
			if err := x.st.restore(snap); err != nil {
				return nil, errors.Wrap(err, "exchange: restore state")
			}
			x.log.Infow("exchange_restored",
				"orders", len(snap.Orders),
				"events", len(snap.Events),
				"digest", x.st.digest().Hex(),
			)
		}
	}
	return x, nil
}

// commit persists cs and then makes it visible. Callers hold x.mu.
func (x *Exchange) commit(cs *ChangeSet) ([]Event, error) {
	if x.store != nil {
		if err := x.store.Commit(cs); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "persist change set"), ErrStorage)
		}
	}
	x.st.apply(cs)
	out := make([]Event, len(cs.Events))
	copy(out, cs.Events)
	return out, nil
}

// now is the logical timestamp stamped on orders and events; never below 1
func (x *Exchange) now() int64 {
	ts := x.clock.Now().Unix()
	if ts < 1 {
		return 1
	}
	return ts
}

func (x *Exchange) Address() common.Address    { return x.cfg.Address }
func (x *Exchange) FeeAccount() common.Address { return x.cfg.FeeAccount }
func (x *Exchange) FeePercent() uint64         { return x.cfg.FeePercent }
func (x *Exchange) Config() Config             { return x.cfg }
