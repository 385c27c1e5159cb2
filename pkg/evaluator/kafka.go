package evaluator

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes the JSON report to a topic, keyed by symbol.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Write(ctx context.Context, r *Report) error {
	payload, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := r.Symbol
	if key == "" {
		key = r.RunID
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
