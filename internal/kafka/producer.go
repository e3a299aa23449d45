package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// Producer writes JSON events keyed by entity id. One writer per producer;
// the topic is picked per message so all canteen topics share a connection
// pool.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.LeastBytes{},
	})
	return &Producer{writer: writer}
}

// Publish marshals the payload and writes it to topic keyed by key.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
}

// Close gracefully shuts down the Kafka writer
func (p *Producer) Close() error {
	return p.writer.Close()
}
