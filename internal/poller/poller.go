package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic = "storefront-sessions"
	GroupID      = "storefront-cart"

	eventSessionEnded = "session_ended"
	// Source is stamped on the cart removals made by the poller.
	Source = "poller"
)

// CartRemover drops a shopper's persisted cart.
type CartRemover interface {
	RemoveCart(ctx context.Context, shopperID, source string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type sessionEvent struct {
	Event     string `json:"event"`
	ShopperID string `json:"shopper_id"`
}

// Poller empties carts of shoppers whose session ended elsewhere.
type Poller struct {
	carts  CartRemover
	reader messageReader
	log    *zap.Logger
}

func NewPoller(carts CartRemover, log *zap.Logger, topic string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, log)
}

func newPoller(carts CartRemover, reader messageReader, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{carts: carts, reader: reader, log: log}
}

// Run consumes until ctx is done or the reader is closed.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			p.log.Error("error reading message", zap.Error(err))
			continue
		}

		if err := p.handle(ctx, m); err != nil {
			p.log.Warn("skipping session message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var event sessionEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	if event.Event != eventSessionEnded {
		p.log.Debug("ignoring session event", zap.String("event", event.Event))
		return nil
	}
	if event.ShopperID == "" {
		return errors.New("missing shopper_id")
	}

	if err := p.carts.RemoveCart(ctx, event.ShopperID, Source); err != nil {
		return err
	}
	p.log.Info("cart removed after session end", zap.String("shopper_id", event.ShopperID))
	return nil
}
