package dex

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/app/core/mempool"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

const (
	DefaultQueueSize = 10_000
	DefaultBatchSize = 256
)

var ErrStopped = errors.New("writer stopped")

// Store persists both the exchange and the token ledger
type Store interface {
	exchange.Store
	token.Store
}

type Options struct {
	Exchange  exchange.Config
	Domain    crypto.EIP712Domain
	Verifier  transaction.VerifierOptions
	Store     Store // nil keeps everything in memory
	Clock     util.Clock
	QueueSize int
	BatchSize int
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// ExchangeAddress derives the exchange's custody address from the genesis
// deployer. It uses the last creation nonce so it can never collide with a
// token the same deployer creates.
func ExchangeAddress(deployer common.Address) common.Address {
	return gethcrypto.CreateAddress(deployer, math.MaxUint64)
}

// Receipt is the outcome of an applied request
type Receipt struct {
	Action  transaction.Action `json:"action"`
	Signer  common.Address     `json:"signer"`
	Hash    common.Hash        `json:"hash"`
	OrderID uint64             `json:"orderId,omitempty"`
	Events  []exchange.Event   `json:"events"`
}

type outcome struct {
	receipt *Receipt
	err     error
}

type pending struct {
	req  *transaction.Request
	done chan outcome
}

type namedSink struct {
	name string
	sink Sink
}

// App is one exchange node: the token ledger, the exchange on top of it,
// the request verifier, and the single writer that applies requests in
// admission order.
type App struct {
	tokens   *token.Registry
	ex       *exchange.Exchange
	verifier *transaction.Verifier
	domain   crypto.EIP712Domain
	maxTTL   time.Duration
	clock    util.Clock
	pool     *mempool.Pool[*pending]
	batch    int
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	sinksMu sync.RWMutex
	sinks   []namedSink

	stopped  chan struct{}
	stopOnce sync.Once
}

func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Verifier.Clock == nil {
		opts.Verifier.Clock = opts.Clock
	}
	if opts.Verifier.MaxTTL <= 0 {
		opts.Verifier.MaxTTL = transaction.DefaultMaxTTL
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Domain.Name == "" {
		opts.Domain = crypto.DefaultDomain()
	}
	if opts.Domain.VerifyingContract == (common.Address{}) {
		opts.Domain.VerifyingContract = opts.Exchange.Address
	}
	var store Store = opts.Store
	if store == nil {
		store = storage.NewInMemoryStore()
	}

	tokens, err := token.NewRegistry(store, opts.Logger.Named("token"))
	if err != nil {
		return nil, err
	}
	ex, err := exchange.New(opts.Exchange, tokens, store, opts.Clock, opts.Logger.Named("exchange"))
	if err != nil {
		return nil, err
	}
	verifier, err := transaction.NewVerifier(opts.Domain, opts.Verifier)
	if err != nil {
		return nil, err
	}

	a := &App{
		tokens:   tokens,
		ex:       ex,
		verifier: verifier,
		domain:   opts.Domain,
		maxTTL:   opts.Verifier.MaxTTL,
		clock:    opts.Clock,
		pool:     mempool.New[*pending](opts.QueueSize),
		batch:    opts.BatchSize,
		metrics:  opts.Metrics,
		log:      opts.Logger.Sugar(),
		stopped:  make(chan struct{}),
	}
	a.metrics.LastSeq.Set(float64(ex.LastSeq()))
	return a, nil
}

func (a *App) Exchange() *exchange.Exchange    { return a.ex }
func (a *App) Tokens() *token.Registry         { return a.tokens }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) Domain() crypto.EIP712Domain     { return a.domain }
func (a *App) Metrics() *metrics.Metrics       { return a.metrics }
func (a *App) PendingRequests() int            { return a.pool.Len() }
func (a *App) Clock() util.Clock               { return a.clock }
func (a *App) MaxTTL() time.Duration           { return a.maxTTL }

// AddSink registers a destination for committed events
func (a *App) AddSink(name string, s Sink) {
	a.sinksMu.Lock()
	a.sinks = append(a.sinks, namedSink{name: name, sink: s})
	a.sinksMu.Unlock()
}

// Run is the single writer. It applies queued requests in arrival order
// until ctx is cancelled, then fails whatever is still queued.
func (a *App) Run(ctx context.Context) error {
	defer a.stopOnce.Do(func() { close(a.stopped) })
	a.log.Infow("writer_started", "batch_size", a.batch)

	for {
		select {
		case <-ctx.Done():
			left := a.pool.Select(0)
			for _, p := range left {
				p.done <- outcome{err: errors.Wrap(ErrStopped, "shutting down")}
			}
			a.metrics.QueueDepth.Set(0)
			a.log.Infow("writer_stopped", "dropped", len(left))
			return nil
		case <-a.pool.Ready():
		}

		for _, p := range a.pool.Select(a.batch) {
			r, err := a.Apply(ctx, p.req)
			p.done <- outcome{receipt: r, err: err}
		}
		a.metrics.QueueDepth.Set(float64(a.pool.Len()))
	}
}

// Submit verifies tx, queues it for the writer and waits for the outcome
func (a *App) Submit(ctx context.Context, tx *transaction.SignedTransaction) (*Receipt, error) {
	req, err := a.verify(tx)
	if err != nil {
		return nil, err
	}
	p := &pending{req: req, done: make(chan outcome, 1)}
	if err := a.pool.Push(p); err != nil {
		a.metrics.ObserveRequest(string(req.Action), metrics.ResultRejected, 0)
		return nil, err
	}
	a.metrics.QueueDepth.Set(float64(a.pool.Len()))

	select {
	case o := <-p.done:
		return o.receipt, o.err
	case <-a.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		// the writer may still apply it; the receipt is then only visible
		// through the event log
		return nil, ctx.Err()
	}
}

// Execute verifies and applies tx on the caller's goroutine, bypassing the
// queue. Used by seeding and tooling that own the node exclusively.
func (a *App) Execute(ctx context.Context, tx *transaction.SignedTransaction) (*Receipt, error) {
	req, err := a.verify(tx)
	if err != nil {
		return nil, err
	}
	return a.Apply(ctx, req)
}

func (a *App) verify(tx *transaction.SignedTransaction) (*transaction.Request, error) {
	req, err := a.verifier.Verify(tx)
	if err != nil {
		a.metrics.ObserveRequest(string(tx.Type), metrics.ResultRejected, 0)
		a.log.Debugw("request_rejected", "type", tx.Type, "err", err)
		return nil, err
	}
	return req, nil
}

// Apply dispatches a verified request and publishes the events it committed
func (a *App) Apply(ctx context.Context, req *transaction.Request) (*Receipt, error) {
	start := time.Now()
	rcpt := &Receipt{Action: req.Action, Signer: req.Signer, Hash: req.Digest}

	var err error
	switch req.Action {
	case transaction.ActionDeposit:
		rcpt.Events, err = a.ex.Deposit(req.Token, req.Signer, req.Amount)
	case transaction.ActionWithdraw:
		rcpt.Events, err = a.ex.Withdraw(req.Token, req.Signer, req.Amount)
	case transaction.ActionMakeOrder:
		rcpt.OrderID, rcpt.Events, err = a.ex.MakeOrder(req.Signer, req.TokenGet, req.AmountGet, req.TokenGive, req.AmountGive)
	case transaction.ActionCancelOrder:
		rcpt.OrderID = req.OrderID
		rcpt.Events, err = a.ex.CancelOrder(req.Signer, req.OrderID)
	case transaction.ActionFillOrder:
		rcpt.OrderID = req.OrderID
		rcpt.Events, err = a.ex.FillOrder(req.Signer, req.OrderID)
	case transaction.ActionApprove:
		err = a.tokens.Approve(req.Token, req.Signer, req.Spender, req.Amount)
	case transaction.ActionTransfer:
		err = a.tokens.Transfer(req.Token, req.Signer, req.To, req.Amount)
	default:
		err = errors.Wrapf(transaction.ErrMalformed, "unsupported action %q", req.Action)
	}

	took := time.Since(start)
	if err != nil {
		a.metrics.ObserveRequest(string(req.Action), metrics.ResultFailed, took)
		a.log.Warnw("request_failed", "action", req.Action, "signer", req.Signer.Hex(), "hash", req.Digest.Hex(), "err", err)
		return nil, err
	}
	a.metrics.ObserveRequest(string(req.Action), metrics.ResultOK, took)
	if rcpt.Events == nil {
		rcpt.Events = []exchange.Event{}
	}

	a.publish(ctx, rcpt.Events)
	return rcpt, nil
}

func (a *App) publish(ctx context.Context, evs []exchange.Event) {
	if len(evs) == 0 {
		return
	}
	a.metrics.LastSeq.Set(float64(evs[len(evs)-1].Seq))

	a.sinksMu.RLock()
	sinks := a.sinks
	a.sinksMu.RUnlock()
	for _, s := range sinks {
		err := s.sink.Publish(ctx, evs)
		a.metrics.ObservePublish(s.name, len(evs), err)
		if err != nil {
			a.log.Warnw("publish_failed", "sink", s.name, "from_seq", evs[0].Seq, "count", len(evs), "err", err)
		}
	}
}
