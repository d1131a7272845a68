// Package feed publishes executed trades to Kafka for downstream
// consumers (market data, risk, archival).
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/openclob/tokenex/pkg/exchange"
)

// Publisher writes one JSON message per trade, keyed by symbol so a
// partitioned topic preserves per-pair ordering.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	p := &Publisher{log: log}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		// Async so publishing never blocks the matching path. Delivery
		// failures surface through the completion callback.
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.Errorw("trade_feed_publish_failed", "messages", len(messages), "err", err)
			}
		},
	}
	return p
}

// PublishTrade enqueues one trade. Publishing is best-effort from the
// engine's point of view: the trade is already committed, so a broker
// error is logged, not propagated back into matching.
func (p *Publisher) PublishTrade(t exchange.Trade) {
	value, err := json.Marshal(t)
	if err != nil {
		p.log.Errorw("trade_feed_marshal_failed", "trade", t.ID, "err", err)
		return
	}
	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(t.Symbol),
		Value: value,
	})
	if err != nil {
		p.log.Errorw("trade_feed_enqueue_failed", "trade", t.ID, "err", err)
	}
}

func (p *Publisher) Close() error { return p.writer.Close() }
