package notify

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel writes one message per recipient, keyed by recipient email,
// to a single topic.
type KafkaChannel struct {
	writer messageWriter
}

func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka channel needs brokers and topic", model.ErrConfiguration)
	}
	return &KafkaChannel{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}}, nil
}

func (c *KafkaChannel) Name() string         { return "kafka" }
func (c *KafkaChannel) Medium() model.Medium { return model.MediumEmail }

func (c *KafkaChannel) Send(ctx context.Context, to string, msg Message) error {
	value, err := newEnvelope(to, msg).marshal()
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to),
		Value: value,
		Headers: []kafka.Header{
			{Key: "release-id", Value: []byte(msg.ReleaseID)},
		},
	})
}

func (c *KafkaChannel) Close() error { return c.writer.Close() }
