package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Preconditions shared by the mutating operations. They only read state, so
// every check of an operation sees the same snapshot.

func requirePositive(amount *uint256.Int, what string) error {
	if amount == nil || amount.IsZero() {
		return errors.Wrapf(ErrInvalidAmount, "%s must be greater than zero", what)
	}
	return nil
}

func requireCovered(have, need *uint256.Int, sentinel error, token, user common.Address) error {
	if have.Lt(need) {
		return errors.Wrapf(sentinel, "%s holds %s of %s, needs %s", user.Hex(), have.Dec(), token.Hex(), need.Dec())
	}
	return nil
}

// lookupOrder fails with ErrUnknownOrder for ids never assigned (0 included)
func (s *state) lookupOrder(id uint64) (Order, error) {
	o, ok := s.order(id)
	if !ok {
		return Order{}, errors.Wrapf(ErrUnknownOrder, "order %d", id)
	}
	return o, nil
}

func (s *state) requireOpen(id uint64) error {
	if st := s.status(id); st != StatusOpen {
		return errors.Wrapf(ErrAlreadyFinalized, "order %d is %s", id, st)
	}
	return nil
}

func requireCreator(o Order, caller common.Address) error {
	if o.Creator != caller {
		return errors.Wrapf(ErrUnauthorized, "order %d belongs to %s, not %s", o.ID, o.Creator.Hex(), caller.Hex())
	}
	return nil
}
