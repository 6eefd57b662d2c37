package p2p

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

// BackfillPageSize is how many events a follower asks for per request
const BackfillPageSize = 500

// Backfill fetches up to limit events starting at seq from. Followers use it
// to close gaps left by dropped gossip; the CLI wires it to the primary's
// REST API.
type Backfill func(ctx context.Context, from uint64, limit int) ([]exchange.Event, error)

// Follower keeps a Replica in step with the primary's event log
type Follower struct {
	mu       sync.Mutex
	replica  *exchange.Replica
	backfill Backfill
	onApply  func([]exchange.Event)
	log      *zap.SugaredLogger
}

func NewFollower(r *exchange.Replica, backfill Backfill, log *zap.SugaredLogger) *Follower {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Follower{replica: r, backfill: backfill, log: log}
}

// OnApply registers a callback for every applied batch (websocket fan-out)
func (f *Follower) OnApply(fn func([]exchange.Event)) { f.onApply = fn }

func (f *Follower) Replica() *exchange.Replica { return f.replica }

// CatchUp pulls the whole log the replica has not seen yet
func (f *Follower) CatchUp(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catchUp(ctx, 0)
}

// Handle applies one gossip message. Events the replica already holds are
// skipped; a gap is filled through the backfill before the batch applies.
func (f *Follower) Handle(ctx context.Context, data []byte) error {
	_, evs, err := decodeBatch(data)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.replica.LastSeq() + 1
	if evs[0].Seq > next {
		f.log.Infow("gossip_gap", "have", next-1, "got", evs[0].Seq)
		if err := f.catchUp(ctx, evs[0].Seq-1); err != nil {
			return err
		}
		next = f.replica.LastSeq() + 1
	}
	for len(evs) > 0 && evs[0].Seq < next {
		evs = evs[1:]
	}
	return f.apply(evs)
}

// catchUp backfills until the replica reaches seq upTo, or the end of the
// log when upTo is 0. Callers hold f.mu.
func (f *Follower) catchUp(ctx context.Context, upTo uint64) error {
	if f.backfill == nil {
		return errors.Wrapf(exchange.ErrSequenceGap, "no backfill source, replica at %d", f.replica.LastSeq())
	}
	for upTo == 0 || f.replica.LastSeq() < upTo {
		from := f.replica.LastSeq() + 1
		page, err := f.backfill(ctx, from, BackfillPageSize)
		if err != nil {
			return errors.Wrapf(err, "backfill from %d", from)
		}
		if len(page) == 0 {
			if upTo == 0 {
				return nil
			}
			return errors.Wrapf(exchange.ErrSequenceGap, "backfill ended at %d, need %d", f.replica.LastSeq(), upTo)
		}
		if err := f.apply(page); err != nil {
			return err
		}
	}
	return nil
}

func (f *Follower) apply(evs []exchange.Event) error {
	if len(evs) == 0 {
		return nil
	}
	if err := f.replica.ApplyAll(evs); err != nil {
		f.log.Errorw("replica_apply_failed", "from_seq", evs[0].Seq, "err", err)
		return err
	}
	if f.onApply != nil {
		f.onApply(evs)
	}
	return nil
}
