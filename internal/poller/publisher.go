package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher announces ended sessions on the topic the Poller consumes, so
// every storefront instance drops the shopper's cart.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(topic string, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}
}

func (p *Publisher) SessionEnded(ctx context.Context, shopperID string) error {
	if shopperID == "" {
		return errors.New("missing shopper_id")
	}
	payload, err := json.Marshal(sessionEvent{Event: eventSessionEnded, ShopperID: shopperID})
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(shopperID), // one partition per shopper keeps events ordered
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventSessionEnded)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
