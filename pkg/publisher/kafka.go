package publisher

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/exchange"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Logger       *zap.Logger
}

// Kafka publishes committed events as JSON, keyed by sequence number. The
// writer is asynchronous: Publish returns once messages are buffered and
// delivery failures are reported through the completion callback.
type Kafka struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: empty topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	k := &Kafka{log: cfg.Logger.Sugar()}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: cfg.BatchTimeout,
		Completion:   k.completed,
	}
	return k, nil
}

func (k *Kafka) Publish(ctx context.Context, evs []exchange.Event) error {
	msgs, err := messages(evs)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *Kafka) completed(msgs []kafka.Message, err error) {
	if err == nil || len(msgs) == 0 {
		return
	}
	k.log.Errorw("kafka_delivery_failed",
		"first_seq", string(msgs[0].Key),
		"count", len(msgs),
		"err", err,
	)
}

// Stats exposes the writer's counters for diagnostics
func (k *Kafka) Stats() kafka.WriterStats { return k.writer.Stats() }

// Close flushes buffered messages
func (k *Kafka) Close() error { return k.writer.Close() }

// messages keys every event by its decimal seq
func messages(evs []exchange.Event) ([]kafka.Message, error) {
	out := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, errors.Wrapf(err, "encode event %d", ev.Seq)
		}
		out = append(out, kafka.Message{
			Key:   []byte(strconv.FormatUint(ev.Seq, 10)),
			Value: b,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(ev.Kind)},
			},
			Time: time.Unix(ev.Timestamp, 0),
		})
	}
	return out, nil
}
