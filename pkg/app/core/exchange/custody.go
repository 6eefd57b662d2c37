package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit pulls amount of token from user into custody. The user must have
// approved the exchange on the token ledger beforehand.
func (x *Exchange) Deposit(token, user common.Address, amount *uint256.Int) ([]Event, error) {
	if err := requirePositive(amount, "deposit amount"); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	g := x.st.begin()
	if !g.credit(token, user, amount) {
		return nil, errors.Wrapf(ErrInvalidAmount, "deposit of %s overflows balance", amount.Dec())
	}
	g.emit(Event{
		Kind:      EventDeposit,
		Timestamp: x.now(),
		Token:     token,
		User:      user,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   g.balance(token, user),
	})
	cs := g.changeSet()

	if err := x.ledger.TransferFrom(token, x.cfg.Address, user, x.cfg.Address, amount); err != nil {
		x.log.Warnw("deposit_transfer_failed", "token", token.Hex(), "user", user.Hex(), "amount", amount.Dec(), "err", err)
		return nil, errors.Mark(errors.Wrapf(err, "transferFrom %s", user.Hex()), ErrExternalTransferFailed)
	}

	evs, err := x.commit(cs)
	if err != nil {
		// the tokens moved but the credit did not stick; hand them back
		if rerr := x.ledger.Transfer(token, x.cfg.Address, user, amount); rerr != nil {
			x.log.Errorw("deposit_refund_failed", "token", token.Hex(), "user", user.Hex(), "amount", amount.Dec(), "err", rerr)
			return nil, errors.CombineErrors(err, errors.Wrap(rerr, "refund deposit"))
		}
		return nil, err
	}

	x.log.Infow("deposit", "token", token.Hex(), "user", user.Hex(), "amount", amount.Dec(), "balance", evs[0].Balance.Dec())
	return evs, nil
}

// Withdraw pays amount of token out of custody back to user. A withdrawal
// may leave the user's own open orders unfillable; nothing is escrowed.
func (x *Exchange) Withdraw(token, user common.Address, amount *uint256.Int) ([]Event, error) {
	if err := requirePositive(amount, "withdraw amount"); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := requireCovered(x.st.balanceOf(token, user), amount, ErrInsufficientBalance, token, user); err != nil {
		return nil, err
	}

	g := x.st.begin()
	g.debit(token, user, amount)
	g.emit(Event{
		Kind:      EventWithdraw,
		Timestamp: x.now(),
		Token:     token,
		User:      user,
		Amount:    new(uint256.Int).Set(amount),
		Balance:   g.balance(token, user),
	})
	cs := g.changeSet()

	// persist the debit before paying out so a crash can never pay twice
	if x.store != nil {
		if err := x.store.Commit(cs); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "persist change set"), ErrStorage)
		}
	}
	if err := x.ledger.Transfer(token, x.cfg.Address, user, amount); err != nil {
		x.log.Warnw("withdraw_transfer_failed", "token", token.Hex(), "user", user.Hex(), "amount", amount.Dec(), "err", err)
		if x.store != nil {
			if rerr := x.store.Revert(cs); rerr != nil {
				x.log.Errorw("withdraw_revert_failed", "token", token.Hex(), "user", user.Hex(), "err", rerr)
				return nil, errors.CombineErrors(
					errors.Mark(errors.Wrapf(err, "transfer to %s", user.Hex()), ErrExternalTransferFailed),
					errors.Wrap(rerr, "revert withdraw"),
				)
			}
		}
		return nil, errors.Mark(errors.Wrapf(err, "transfer to %s", user.Hex()), ErrExternalTransferFailed)
	}
	x.st.apply(cs)

	x.log.Infow("withdraw", "token", token.Hex(), "user", user.Hex(), "amount", amount.Dec(), "balance", cs.Events[0].Balance.Dec())
	return append([]Event(nil), cs.Events...), nil
}
