package exchange

import "github.com/cockroachdb/errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrExternalTransferFailed = errors.New("external transfer failed")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrAlreadyFinalized       = errors.New("order already finalized")
	ErrStorage                = errors.New("storage failure")

	// ErrInsufficientMakerBalance is raised when the order creator no longer
	// custodies what the order offers. It also matches ErrInsufficientBalance.
	ErrInsufficientMakerBalance = errors.Mark(errors.New("insufficient maker balance"), ErrInsufficientBalance)
)

// Kind classifies exchange errors for transports
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidAmount
	KindInsufficientBalance
	KindExternalTransferFailed
	KindUnknownOrder
	KindUnauthorized
	KindAlreadyFinalized
)

var kindNames = map[Kind]string{
	KindInternal:               "Internal",
	KindInvalidAmount:          "InvalidAmount",
	KindInsufficientBalance:    "InsufficientBalance",
	KindExternalTransferFailed: "ExternalTransferFailed",
	KindUnknownOrder:           "UnknownOrder",
	KindUnauthorized:           "Unauthorized",
	KindAlreadyFinalized:       "AlreadyFinalized",
}

func (k Kind) String() string { return kindNames[k] }

// KindOf returns the kind of err. Errors that carry no exchange sentinel,
// storage failures for instance, are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrExternalTransferFailed):
		return KindExternalTransferFailed
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrUnknownOrder):
		return KindUnknownOrder
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrAlreadyFinalized):
		return KindAlreadyFinalized
	default:
		return KindInternal
	}
}
