package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/config"
)

var newClientFunc = mqtt.NewClient

const publishTimeout = 5 * time.Second

// MQTTPublisher sends events as JSON to <topic>/<identity>.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTTPublisher connects to the configured broker. Reconnects are handled
// by the client after the initial connection succeeds.
func NewMQTTPublisher(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	logger = logger.Named("mqtt")
	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", brokerURL))
	})

	client := newClientFunc(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", brokerURL, token.Error())
	}
	return &MQTTPublisher{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (p *MQTTPublisher) PublishRecognition(ctx context.Context, event Recognition) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := p.topic + "/" + topicSegment(event.Identity)
	token := p.client.Publish(topic, 1, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("recognition published", zap.String("topic", topic), zap.String("request_id", event.RequestID))
	return nil
}

func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func topicSegment(identity string) string {
	if identity == "" {
		return "unknown"
	}
	return topicReplacer.Replace(strings.ToLower(identity))
}
