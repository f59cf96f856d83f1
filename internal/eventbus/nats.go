package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/common/config"
	"github.com/iris-mcp/iris/internal/common/logger"
)

// NATSBus implements Bus over a shared NATS deployment, letting multiple
// Iris instances observe the same pool/permission events.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBus connects to cfg.URL and wires reconnection logging.
func NewNATSBus(cfg config.NATSConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, b.msgHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, b.msgHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("queue subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) msgHandler(handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.Error("failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler(context.Background(), &event); err != nil {
			b.log.Error("event handler failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}
}

func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.log.Warn("error draining NATS connection", zap.Error(err))
		b.conn.Close()
	}
}

func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSubscription) IsValid() bool      { return s.sub.IsValid() }
