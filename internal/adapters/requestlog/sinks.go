// Package requestlog holds the non-database request log sinks: a Kafka
// topic writer, a structured-log writer used when no broker is configured,
// and a fan-out over several sinks.
package requestlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// KafkaSink publishes each entry as JSON, keyed by subject so entries for
// one company stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

var _ ports.RequestLogSink = (*KafkaSink)(nil)

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka request log requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka request log requires a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireOne,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (k *KafkaSink) Append(ctx context.Context, e domain.RequestLogEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.SubjectKey),
		Value: payload,
		Time:  e.Timestamp.UTC(),
	})
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

// LogSink writes entries to a logger at debug level.
type LogSink struct{ Logger *slog.Logger }

func (l LogSink) Append(ctx context.Context, e domain.RequestLogEntry) error {
	l.Logger.DebugContext(ctx, "request",
		"endpoint", e.Endpoint,
		"method", e.Method,
		"subject", e.SubjectKey,
		"status", e.StatusCode,
		"duration_ms", e.DurationMs,
		"cache_hit", e.CacheHit,
	)
	return nil
}

// Fanout appends to every sink and joins their errors.
type Fanout []ports.RequestLogSink

func (f Fanout) Append(ctx context.Context, e domain.RequestLogEntry) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
