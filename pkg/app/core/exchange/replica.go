package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrSequenceGap = errors.New("event sequence gap")
	ErrDiverged    = errors.New("replica diverged from event log")
)

// Replica rebuilds custody balances and the order store from the event log
// alone. It needs the exchange's fee configuration to route trade fees.
type Replica struct {
	view
	cfg Config
}

func NewReplica(cfg Config) *Replica {
	return &Replica{view: view{st: newState()}, cfg: cfg}
}

func (r *Replica) Config() Config { return r.cfg }

// Apply folds one event into the replica. Events must arrive in seq order;
// an event that disagrees with the replica's state is rejected and leaves
// it untouched.
func (r *Replica) Apply(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if want := r.st.nextSeq(); ev.Seq != want {
		return errors.Wrapf(ErrSequenceGap, "got seq %d, want %d", ev.Seq, want)
	}

	g := r.st.begin()
	switch ev.Kind {
	case EventDeposit, EventWithdraw:
		if ev.Amount == nil || ev.Balance == nil {
			return errors.Wrapf(ErrDiverged, "seq %d: %s without amount", ev.Seq, ev.Kind)
		}
		var ok bool
		if ev.Kind == EventDeposit {
			ok = g.credit(ev.Token, ev.User, ev.Amount)
		} else {
			ok = g.debit(ev.Token, ev.User, ev.Amount)
		}
		if !ok {
			return errors.Wrapf(ErrDiverged, "seq %d: %s of %s does not fit balance", ev.Seq, ev.Kind, ev.Amount.Dec())
		}
		if got := g.balance(ev.Token, ev.User); !got.Eq(ev.Balance) {
			return errors.Wrapf(ErrDiverged, "seq %d: balance %s, event says %s", ev.Seq, got.Dec(), ev.Balance.Dec())
		}

	case EventOrder:
		if ev.Order == nil {
			return errors.Wrapf(ErrDiverged, "seq %d: order event without order", ev.Seq)
		}
		if want := r.st.nextOrderID(); ev.Order.ID != want {
			return errors.Wrapf(ErrDiverged, "seq %d: order id %d, want %d", ev.Seq, ev.Order.ID, want)
		}
		g.cs.Orders = append(g.cs.Orders, ev.Order.clone())

	case EventCancel:
		if err := r.checkOpen(ev); err != nil {
			return err
		}
		g.cs.Cancelled = append(g.cs.Cancelled, ev.Order.ID)

	case EventTrade:
		if err := r.checkOpen(ev); err != nil {
			return err
		}
		o, _ := r.st.order(ev.Order.ID)
		fee, overflow := Fee(o.AmountGet, r.cfg.FeePercent)
		if overflow || (ev.Fee != nil && !fee.Eq(ev.Fee)) {
			return errors.Wrapf(ErrDiverged, "seq %d: fee %s, event says %s", ev.Seq, fee.Dec(), decString(ev.Fee))
		}
		if err := settle(g, o, ev.Taker, r.cfg.FeeAccount, fee); err != nil {
			return errors.Mark(errors.Wrapf(err, "seq %d", ev.Seq), ErrDiverged)
		}
		g.cs.Filled = append(g.cs.Filled, o.ID)

	default:
		return errors.Wrapf(ErrDiverged, "seq %d: unknown event kind %q", ev.Seq, ev.Kind)
	}

	g.cs.Events = append(g.cs.Events, ev)
	r.st.apply(g.changeSet())
	return nil
}

// ApplyAll applies events in order and stops at the first failure
func (r *Replica) ApplyAll(evs []Event) error {
	for _, ev := range evs {
		if err := r.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replica) checkOpen(ev Event) error {
	if ev.Order == nil {
		return errors.Wrapf(ErrDiverged, "seq %d: %s event without order", ev.Seq, ev.Kind)
	}
	if _, err := r.st.lookupOrder(ev.Order.ID); err != nil {
		return errors.Mark(errors.Wrapf(err, "seq %d", ev.Seq), ErrDiverged)
	}
	if err := r.st.requireOpen(ev.Order.ID); err != nil {
		return errors.Mark(errors.Wrapf(err, "seq %d", ev.Seq), ErrDiverged)
	}
	return nil
}

// Conserved reports whether, for every token, custody balances add up to
// deposits minus withdrawals seen in the log.
func (r *Replica) Conserved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	net := make(map[common.Address]*uint256.Int)
	for _, ev := range r.st.events {
		if ev.Kind != EventDeposit && ev.Kind != EventWithdraw {
			continue
		}
		n, ok := net[ev.Token]
		if !ok {
			n = new(uint256.Int)
			net[ev.Token] = n
		}
		if ev.Kind == EventDeposit {
			n.Add(n, ev.Amount)
		} else {
			n.Sub(n, ev.Amount)
		}
	}
	held := r.st.custodied()
	for tok, sum := range held {
		n, ok := net[tok]
		if !ok || !n.Eq(sum) {
			return false
		}
	}
	for tok, n := range net {
		if _, ok := held[tok]; !ok && !n.IsZero() {
			return false
		}
	}
	return true
}
