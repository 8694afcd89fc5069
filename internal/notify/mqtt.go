package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// MQTTConfig configures the mqtt channel.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// mqttClient is the subset of mqtt.Client the channel uses.
type mqttClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTChannel publishes one retained QoS 1 message per recipient under
// <prefix>/<recipient>. It connects lazily so a broker that is down at
// startup does not remove the channel.
type MQTTChannel struct {
	prefix string

	mu     sync.Mutex
	client mqttClient
}

func NewMQTTChannel(cfg MQTTConfig) (*MQTTChannel, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: mqtt broker missing", model.ErrConfiguration)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	return newMQTTChannel(mqtt.NewClient(opts), cfg.TopicPrefix), nil
}

func newMQTTChannel(client mqttClient, prefix string) *MQTTChannel {
	if prefix == "" {
		prefix = "deathswitch/release"
	}
	return &MQTTChannel{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

func (c *MQTTChannel) Name() string         { return "mqtt" }
func (c *MQTTChannel) Medium() model.Medium { return model.MediumEmail }

func (c *MQTTChannel) Send(ctx context.Context, to string, msg Message) error {
	payload, err := newEnvelope(to, msg).marshal()
	if err != nil {
		return err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return waitToken(ctx, c.client.Publish(c.topicFor(to), 1, true, payload), "publish")
}

func (c *MQTTChannel) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client.IsConnected() {
		return nil
	}
	return waitToken(ctx, c.client.Connect(), "connect")
}

// topicFor maps an address to a topic segment without MQTT wildcards or
// separators.
func (c *MQTTChannel) topicFor(to string) string {
	seg := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(strings.ToLower(to))
	return c.prefix + "/" + seg
}

func (c *MQTTChannel) Close() error {
	c.client.Disconnect(250)
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token, op string) error {
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("mqtt %s interrupted", op), ctx.Err())
	}
}
