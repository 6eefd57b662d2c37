package p2p

import (
	"context"

	"github.com/cockroachdb/errors"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

const DefaultTopic = "custodex-events"

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

// Gossip carries committed events between nodes over a gossipsub topic.
// The primary publishes; followers subscribe and feed a Replica.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	log   *zap.SugaredLogger
}

func New(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "listen address %q", cfg.ListenAddr)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "libp2p host")
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrap(err, "gossipsub")
	}
	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		_ = h.Close()
		return nil, errors.Wrapf(err, "join %s", cfg.Topic)
	}

	g := &Gossip{h: h, ps: ps, topic: topic, log: cfg.Logger}
	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable addresses including the peer id, suitable for
// another node's bootstrap list
func (g *Gossip) Addrs() []string {
	info := peer.AddrInfo{ID: g.h.ID(), Addrs: g.h.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Publish gossips one committed batch. It implements the node's event sink.
func (g *Gossip) Publish(ctx context.Context, evs []exchange.Event) error {
	data, err := encodeBatch(g.h.ID().String(), evs)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

// Follow subscribes to the topic and hands every batch from another peer to
// f until ctx ends or the replica diverges.
func (g *Gossip) Follow(ctx context.Context, f *Follower) error {
	sub, err := g.topic.Subscribe()
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	defer sub.Cancel()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "next message")
		}
		if msg.GetFrom() == g.h.ID() {
			continue
		}
		if err := f.Handle(ctx, msg.Data); err != nil {
			if errors.Is(err, exchange.ErrDiverged) {
				return err
			}
			g.log.Warnw("gossip_batch_dropped", "from", msg.GetFrom().String(), "err", err)
		}
	}
}

func (g *Gossip) Close() error {
	_ = g.topic.Close()
	return g.h.Close()
}
