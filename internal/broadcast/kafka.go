package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher mirrors every emission into a Kafka topic keyed by room.
// Writes are asynchronous; failures are logged by the writer callback.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "solana-trade-feed"
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed", slog.Int("messages", len(messages)), slog.Any("error", err))
			}
		},
	}
	return newKafkaPublisher(writer, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger, writeTimeout: 5 * time.Second}
}

var _ Broadcaster = (*KafkaPublisher)(nil)

// EmitToRoom implements Broadcaster.
func (p *KafkaPublisher) EmitToRoom(room, event string, payload any) {
	p.publish(room, event, payload)
}

// EmitGlobal implements Broadcaster.
func (p *KafkaPublisher) EmitGlobal(event string, payload any) {
	p.publish(GlobalRoom, event, payload)
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(room, event string, payload any) {
	value, err := encodeFrame(event, payload)
	if err != nil {
		p.logger.Error("encode frame", slog.String("event", event), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(room),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
	})
	if err != nil {
		p.logger.Warn("kafka publish failed", slog.String("room", room), slog.Any("error", err))
	}
}
