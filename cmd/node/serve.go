package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
	"github.com/uhyunpark/custodex/pkg/p2p"
	"github.com/uhyunpark/custodex/pkg/publisher"
	"github.com/uhyunpark/custodex/pkg/util"
)

const progressInterval = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a primary or follower node",
	Long: `serve starts the REST and WebSocket API. A primary also runs the
single writer that applies signed requests and publishes committed events to
the journal, Kafka and gossip. A follower replays gossiped events into a
read-only replica.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Node.Role == params.RoleFollower {
		return serveFollower(ctx, cfg, logger)
	}
	return servePrimary(ctx, cfg, logger)
}

func servePrimary(ctx context.Context, cfg params.Config, logger *zap.Logger) error {
	log := logger.Sugar()
	n, err := openNode(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Errorw("node_close_failed", "err", err)
		}
	}()
	app := n.app

	srv := api.NewServer(api.Config{App: app, Logger: logger, AllowedOrigins: cfg.Node.AllowedOrigins})
	app.AddSink("ws", srv.Hub())

	if cfg.Kafka.Enabled {
		k, err := publisher.NewKafka(publisher.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Logger:       logger.Named("kafka"),
		})
		if err != nil {
			return err
		}
		defer k.Close()
		app.AddSink("kafka", k)
		log.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.P2P.Enabled {
		gs, err := p2p.New(ctx, p2pConfig(cfg, log))
		if err != nil {
			return err
		}
		defer gs.Close()
		app.AddSink("gossip", gs)
		log.Infow("gossip_enabled", "addrs", gs.Addrs())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Run(ctx) })
	g.Go(func() error { return srv.Start(ctx, cfg.Node.APIAddr) })
	g.Go(func() error {
		logProgress(ctx, log, app.Exchange(), func() []interface{} {
			return []interface{}{"pending", app.PendingRequests()}
		})
		return nil
	})

	log.Infow("node_starting", "role", params.RolePrimary, "api_addr", cfg.Node.APIAddr)
	return g.Wait()
}

func serveFollower(ctx context.Context, cfg params.Config, logger *zap.Logger) error {
	log := logger.Sugar()
	replica := exchange.NewReplica(exchangeConfig(cfg, common.Address{}))

	var backfill p2p.Backfill
	if cfg.P2P.PrimaryAPI != "" {
		backfill = api.NewClient(cfg.P2P.PrimaryAPI).Events
	}
	follower := p2p.NewFollower(replica, backfill, log.Named("follower"))

	srv := api.NewServer(api.Config{Reader: replica, Logger: logger, AllowedOrigins: cfg.Node.AllowedOrigins})
	follower.OnApply(func(evs []exchange.Event) {
		_ = srv.Hub().Publish(ctx, evs)
	})

	gs, err := p2p.New(ctx, p2pConfig(cfg, log))
	if err != nil {
		return err
	}
	defer gs.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if backfill != nil {
			if err := follower.CatchUp(ctx); err != nil {
				log.Warnw("initial_catch_up_failed", "err", err)
			}
		}
		return gs.Follow(ctx, follower)
	})
	g.Go(func() error { return srv.Start(ctx, cfg.Node.APIAddr) })
	g.Go(func() error {
		logProgress(ctx, log, replica, func() []interface{} {
			return []interface{}{"conserved", replica.Conserved()}
		})
		return nil
	})

	log.Infow("node_starting", "role", params.RoleFollower, "api_addr", cfg.Node.APIAddr, "primary_api", cfg.P2P.PrimaryAPI)
	return g.Wait()
}

func p2pConfig(cfg params.Config, log *zap.SugaredLogger) p2p.Config {
	return p2p.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Bootstrap:  cfg.P2P.Bootstrap,
		Topic:      cfg.P2P.Topic,
		Logger:     log.Named("p2p"),
	}
}

// logProgress reports how far the log has advanced, but only when it moved
func logProgress(ctx context.Context, log *zap.SugaredLogger, r exchange.Reader, extra func() []interface{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := r.LastSeq()
			if seq == last {
				continue
			}
			kv := []interface{}{"last_seq", seq, "events_since_last_log", seq - last, "orders", r.OrderCount()}
			log.Infow("node_progress", append(kv, extra()...)...)
			last = seq
		}
	}
}
