package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"kepler-vision-go/internal/config"
)

const mqttPublishTimeout = 2 * time.Second

// MQTTPublisher publishes JSON messages to an MQTT broker. Dotted subjects are mapped to
// slash separated topics.
type MQTTPublisher struct {
	client    mqtt.Client
	qos       byte
	broker    string
	connected atomic.Bool
	errors    atomic.Uint64
}

func NewMQTTPublisher(cfg *config.Config) (*MQTTPublisher, error) {
	p := &MQTTPublisher{
		qos:    byte(min(max(cfg.MQTTQoS, 0), 2)),
		broker: cfg.MQTTBroker,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		log.Info().Str("broker", cfg.MQTTBroker).Str("client_id", cfg.MQTTClientID).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT connection lost, will auto-reconnect")
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.NatsConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", cfg.MQTTBroker, err)
	}
	p.connected.Store(true)
	return p, nil
}

// Topic converts a dotted subject to an MQTT topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (p *MQTTPublisher) Publish(subject string, data interface{}) error {
	if !p.connected.Load() {
		p.errors.Add(1)
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := p.client.Publish(Topic(subject), p.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.errors.Add(1)
		return fmt.Errorf("publish to %s timed out", Topic(subject))
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish to %s failed: %w", Topic(subject), err)
	}
	return nil
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load() && p.client.IsConnectionOpen()
}

// Errors returns the number of failed publishes.
func (p *MQTTPublisher) Errors() uint64 {
	return p.errors.Load()
}

func (p *MQTTPublisher) Shutdown(ctx context.Context) error {
	quiesce := uint(250)
	if deadline, ok := ctx.Deadline(); ok {
		quiesce = uint(max(0, min(time.Until(deadline).Milliseconds(), 1000)))
	}
	p.client.Disconnect(quiesce)
	p.connected.Store(false)
	log.Info().Str("broker", p.broker).Msg("MQTT connection closed")
	return nil
}
