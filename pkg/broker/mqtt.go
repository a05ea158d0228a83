package broker

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/pkg/config"
)

// MessageHandler processes an inbound MQTT message.
type MessageHandler func(topic string, payload []byte) error

// MQTTClient wraps a paho client with the application's topic root.
type MQTTClient struct {
	client    mqtt.Client
	topicRoot string
	qos       byte
	logger    *zap.Logger
}

// NewMQTT connects to the configured broker. It returns nil without error when no broker is configured.
func NewMQTT(cfg config.RealtimeConfig, logger *zap.Logger) (*MQTTClient, error) {
	if strings.TrimSpace(cfg.MQTTBroker) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	return &MQTTClient{
		client:    client,
		topicRoot: strings.Trim(cfg.MQTTTopicRoot, "/"),
		qos:       cfg.MQTTQoS,
		logger:    logger,
	}, nil
}

// Topic joins parts under the configured root.
func (c *MQTTClient) Topic(parts ...string) string {
	return JoinTopic(c.topicRoot, parts...)
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. Handler errors are logged.
func (c *MQTTClient) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}

// IsConnected reports broker connectivity.
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

// JoinTopic builds a slash separated MQTT topic, skipping empty segments.
func JoinTopic(root string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if root = strings.Trim(root, "/"); root != "" {
		segments = append(segments, root)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, "/")
}
