package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/pkg/broker"
)

// Live update message types.
const (
	MessageChangeRequestUpdated = "change_request.updated"
	MessageShiftUpdated         = "shift.updated"
	MessageNotificationCreated  = "notification.created"
)

// TopicManagers receives every change request update relevant to the manager queue.
const TopicManagers = "managers"

// UserTopic is the personal topic of a user.
func UserTopic(userID string) string { return "user:" + userID }

// ShiftTopic carries updates about one shift.
func ShiftTopic(shiftID string) string { return "shift:" + shiftID }

// LiveMessage is one update published after a committed write.
type LiveMessage struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Published time.Time   `json:"publishedAt"`
}

// Broadcaster publishes live updates. Delivery is best effort; the database stays authoritative.
type Broadcaster interface {
	Publish(ctx context.Context, msgType string, payload interface{}, topics ...string) error
}

// Subscriber streams raw encoded LiveMessages for a set of topics until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, topics ...string) (<-chan []byte, error)
}

func encodeMessages(msgType string, payload interface{}, topics []string) (map[string][]byte, error) {
	now := time.Now().UTC()
	out := make(map[string][]byte, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		raw, err := json.Marshal(LiveMessage{Type: msgType, Topic: topic, Payload: payload, Published: now})
		if err != nil {
			return nil, fmt.Errorf("encode live message: %w", err)
		}
		out[topic] = raw
	}
	return out, nil
}

// LocalHub is an in-process broadcaster used when Redis is disabled.
type LocalHub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	buffer int
}

// NewLocalHub constructs an in-memory hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{subs: make(map[string]map[chan []byte]struct{}), buffer: 32}
}

// Publish delivers to current subscribers, dropping messages for slow readers.
func (h *LocalHub) Publish(_ context.Context, msgType string, payload interface{}, topics ...string) error {
	encoded, err := encodeMessages(msgType, payload, topics)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for topic, raw := range encoded {
		for ch := range h.subs[topic] {
			select {
			case ch <- raw:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a channel for topics; it is closed when ctx ends.
func (h *LocalHub) Subscribe(ctx context.Context, topics ...string) (<-chan []byte, error) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	for _, topic := range topics {
		if h.subs[topic] == nil {
			h.subs[topic] = make(map[chan []byte]struct{})
		}
		h.subs[topic][ch] = struct{}{}
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		for _, topic := range topics {
			delete(h.subs[topic], ch)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

type pubSubStore interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
}

// RedisBroadcaster fans live updates across API instances through Redis pub/sub.
type RedisBroadcaster struct {
	store  pubSubStore
	prefix string
	logger *zap.Logger
}

// NewRedisBroadcaster constructs the broadcaster; channels are named prefix:topic.
func NewRedisBroadcaster(store pubSubStore, prefix string, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{store: store, prefix: strings.TrimSuffix(prefix, ":"), logger: logger}
}

func (b *RedisBroadcaster) channel(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + ":" + topic
}

// Publish sends one message per topic.
func (b *RedisBroadcaster) Publish(ctx context.Context, msgType string, payload interface{}, topics ...string) error {
	encoded, err := encodeMessages(msgType, payload, topics)
	if err != nil {
		return err
	}
	for topic, raw := range encoded {
		if err := b.store.Publish(ctx, b.channel(topic), raw); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe relays Redis messages for topics until ctx ends.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topics ...string) (<-chan []byte, error) {
	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = b.channel(topic)
	}
	sub, err := b.store.Subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.logger.Debug("dropping live message for slow subscriber", zap.String("channel", msg.Channel))
				}
			}
		}
	}()
	return out, nil
}

type mqttPublisher interface {
	Topic(parts ...string) string
	Publish(topic string, payload []byte) error
}

// MQTTBroadcaster mirrors live updates to an MQTT broker for device and kiosk clients.
// Topics map to root/users/<id>, root/shifts/<id> and root/managers.
type MQTTBroadcaster struct {
	client mqttPublisher
}

// NewMQTTBroadcaster constructs the broadcaster.
func NewMQTTBroadcaster(client *broker.MQTTClient) *MQTTBroadcaster {
	return &MQTTBroadcaster{client: client}
}

// Publish sends one MQTT message per topic.
func (b *MQTTBroadcaster) Publish(_ context.Context, msgType string, payload interface{}, topics ...string) error {
	encoded, err := encodeMessages(msgType, payload, topics)
	if err != nil {
		return err
	}
	for topic, raw := range encoded {
		if err := b.client.Publish(b.client.Topic(mqttPath(topic)...), raw); err != nil {
			return err
		}
	}
	return nil
}

func mqttPath(topic string) []string {
	kind, id, found := strings.Cut(topic, ":")
	if !found {
		return []string{kind}
	}
	return []string{kind + "s", id}
}

// MultiBroadcaster publishes to every configured backend and logs individual failures.
type MultiBroadcaster struct {
	targets []Broadcaster
	logger  *zap.Logger
}

// NewMultiBroadcaster skips nil targets.
func NewMultiBroadcaster(logger *zap.Logger, targets ...Broadcaster) *MultiBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Broadcaster, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &MultiBroadcaster{targets: kept, logger: logger}
}

// Publish always returns nil; backend failures are logged.
func (m *MultiBroadcaster) Publish(ctx context.Context, msgType string, payload interface{}, topics ...string) error {
	for _, t := range m.targets {
		if err := t.Publish(ctx, msgType, payload, topics...); err != nil {
			m.logger.Warn("live update publish failed", zap.String("type", msgType), zap.Strings("topics", topics), zap.Error(err))
		}
	}
	return nil
}
