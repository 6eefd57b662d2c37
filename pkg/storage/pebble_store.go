package storage

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
)

// PebbleStore persists the exchange ledger and the token registry in one
// Pebble database. Callers serialize writes (the exchange holds its lock
// across Commit), so the store itself only relies on batch atomicity.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble db at %s", path)
	}
	s := &PebbleStore{db: db}
	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) checkSchema() error {
	val, closer, err := s.db.Get([]byte(keySchema))
	if errors.Is(err, pebble.ErrNotFound) {
		return s.db.Set([]byte(keySchema), []byte(schemaVersion), pebble.Sync)
	}
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	defer closer.Close()
	if string(val) != schemaVersion {
		return errors.Newf("unsupported schema version %q (want %q)", val, schemaVersion)
	}
	return nil
}

// Commit writes a change set in one synced batch
func (s *PebbleStore) Commit(cs *exchange.ChangeSet) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, c := range cs.Balances {
		if err := setBalance(b, c.Token, c.User, c.New); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return errors.Wrapf(err, "marshal order %d", o.ID)
		}
		if err := b.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Cancelled {
		if err := b.Set(cancelledKey(id), nil, nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Filled {
		if err := b.Set(filledKey(id), nil, nil); err != nil {
			return err
		}
	}
	for _, ev := range cs.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			return errors.Wrapf(err, "marshal event %d", ev.Seq)
		}
		if err := b.Set(eventKey(ev.Seq), data, nil); err != nil {
			return err
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "commit batch")
}

// Revert undoes a committed change set: balances go back to their old
// values and everything the set added is deleted.
func (s *PebbleStore) Revert(cs *exchange.ChangeSet) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, c := range cs.Balances {
		if err := setBalance(b, c.Token, c.User, c.Old); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		if err := b.Delete(orderKey(o.ID), nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Cancelled {
		if err := b.Delete(cancelledKey(id), nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Filled {
		if err := b.Delete(filledKey(id), nil); err != nil {
			return err
		}
	}
	for _, ev := range cs.Events {
		if err := b.Delete(eventKey(ev.Seq), nil); err != nil {
			return err
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "commit revert batch")
}

func setBalance(b *pebble.Batch, token, user common.Address, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return b.Delete(balanceKey(token, user), nil)
	}
	return b.Set(balanceKey(token, user), encodeAmount(v), nil)
}

// Load reads the whole ledger back
func (s *PebbleStore) Load() (*exchange.Snapshot, error) {
	snap := &exchange.Snapshot{}

	err := s.scan(prefixBalance, func(k, v []byte) error {
		tok, user, err := balanceKeyFromBytes(k)
		if err != nil {
			return err
		}
		amt, err := decodeAmount(v)
		if err != nil {
			return errors.Wrapf(err, "balance %s", k)
		}
		snap.Balances = append(snap.Balances, exchange.Balance{Token: tok, User: user, Amount: amt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixOrder, func(k, v []byte) error {
		var o exchange.Order
		if err := json.Unmarshal(v, &o); err != nil {
			return errors.Wrapf(err, "order %s", k)
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap.Cancelled, err = s.scanIDs(prefixCancelled); err != nil {
		return nil, err
	}
	if snap.Filled, err = s.scanIDs(prefixFilled); err != nil {
		return nil, err
	}

	snap.Events, err = s.EventsFrom(1, 0)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// EventsFrom reads up to limit events starting at seq from; 0 means all
func (s *PebbleStore) EventsFrom(from uint64, limit int) ([]exchange.Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new iterator")
	}
	defer iter.Close()

	var out []exchange.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var ev exchange.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, errors.Wrapf(err, "event %s", iter.Key())
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *PebbleStore) scan(prefix string, fn func(k, v []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return errors.Wrap(err, "new iterator")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) scanIDs(prefix string) ([]uint64, error) {
	var ids []uint64
	err := s.scan(prefix, func(k, _ []byte) error {
		id, err := seqFromKey(prefix, k)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// SaveToken persists one token's full state
func (s *PebbleStore) SaveToken(st token.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrapf(err, "marshal token %s", st.Symbol)
	}
	return errors.Wrap(s.db.Set(tokenKey(st.Address), data, pebble.Sync), "save token")
}

func (s *PebbleStore) LoadTokens() ([]token.State, error) {
	var out []token.State
	err := s.scan(prefixToken, func(k, v []byte) error {
		var st token.State
		if err := json.Unmarshal(v, &st); err != nil {
			return errors.Wrapf(err, "token %s", k)
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

var (
	_ exchange.Store = (*PebbleStore)(nil)
	_ token.Store    = (*PebbleStore)(nil)
)
