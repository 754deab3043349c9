package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/logger"
)

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	Servers        []string
	Name           string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// NATSPublisher publishes JSON events on core NATS subjects
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("nats servers missing")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher initialized", zap.Strings("servers", cfg.Servers))

	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(event.Subject())
	msg.Data = data
	msg.Header.Set("Event-Type", string(event.Type()))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", event.Subject(), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.conn.FlushWithContext(ctx); err != nil {
		logger.Warn("NATS flush failed during close", zap.Error(err))
	}
	p.conn.Close()
	return nil
}
