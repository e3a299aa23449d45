package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewGatewayResultConsumer creates a consumer for the gateway results topic.
func NewGatewayResultConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start consumes gateway payment results until ctx is cancelled. Malformed
// messages are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, evt models.GatewayResultEvent)) {
	c.log.Info("KAFKA", "gateway result consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("KAFKA", "error reading message: "+err.Error())
			continue
		}

		var evt models.GatewayResultEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.log.Warn("KAFKA", "failed to unmarshal gateway result: "+err.Error())
			continue
		}

		c.log.LogKafka("CONSUME", c.reader.Config().Topic, "received gateway result for order "+evt.OrderID)
		handler(ctx, evt)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
