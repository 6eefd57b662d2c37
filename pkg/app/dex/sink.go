package dex

import (
	"context"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

// Sink receives every batch of committed events, in sequence order, from
// the writer goroutine. Implementations must not block for long; slow
// transports buffer on their own.
type Sink interface {
	Publish(ctx context.Context, evs []exchange.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, evs []exchange.Event) error

func (f SinkFunc) Publish(ctx context.Context, evs []exchange.Event) error { return f(ctx, evs) }
