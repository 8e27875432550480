// Package messaging publishes job lifecycle notifications and pipeline events on a message
// bus. NATS is the default transport, MQTT is available for edge deployments.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/models"
)

// Publisher is a message bus connection owned by the service container.
type Publisher interface {
	models.MessagePublisher
	IsConnected() bool
	Shutdown(ctx context.Context) error
}

// NewPublisher connects the backend selected by NOTIFY_BACKEND.
func NewPublisher(cfg *config.Config) (Publisher, error) {
	switch strings.ToLower(cfg.NotifyBackend) {
	case "", "none":
		return Noop{}, nil
	case "nats":
		return NewService(cfg)
	case "mqtt":
		return NewMQTTPublisher(cfg)
	default:
		return nil, fmt.Errorf("unknown notify backend %q (expected nats, mqtt or none)", cfg.NotifyBackend)
	}
}

// Service publishes JSON messages over NATS.
type Service struct {
	conn *nats.Conn
	cfg  *config.Config
}

func NewService(cfg *config.Config) (*Service, error) {
	opts := []nats.Option{
		nats.Name("kepler-vision-" + cfg.WorkerID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NatsURL, err)
	}

	log.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	return &Service{
		conn: conn,
		cfg:  cfg,
	}, nil
}

func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.conn.Publish(subject, payload)
}

func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	// Try graceful drain within the deadline, fallback to immediate close
	done := make(chan error, 1)
	go func() { done <- s.conn.Drain() }()
	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
			s.conn.Close()
		}
	case <-ctx.Done():
		log.Warn().Msg("NATS drain timed out, closing immediately")
		s.conn.Close()
	}
	return nil
}

// Noop discards every message. It is used when no bus is configured.
type Noop struct{}

func (Noop) Publish(string, interface{}) error { return nil }
func (Noop) IsConnected() bool                 { return false }
func (Noop) Shutdown(context.Context) error    { return nil }
