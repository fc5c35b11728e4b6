package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("analytics: sink closed")

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "carousel-analytics"

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures NewKafkaWriter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// NewKafkaWriter builds a writer that hashes keys to partitions, so all
// records for one request land on the same partition.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("analytics: at least one kafka broker is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batch,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, nil
}

// KafkaSink publishes records as JSON keyed by request id.
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaSink wraps writer.
func NewKafkaSink(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal analytics record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(r.RequestID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "name", Value: []byte(r.Name)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("kafka publish failed",
			slog.String("request_id", r.RequestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
