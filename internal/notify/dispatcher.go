package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-canteen/internal/config"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
)

// EventWriter is the slice of the Kafka producer the dispatcher needs.
type EventWriter interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Dispatcher fans domain events out to Kafka (for downstream services) and
// Redis pub/sub (for the SSE bridge). It is constructed once in main and
// injected into the services; delivery is best-effort and never blocks or
// fails the operation that produced the event.
type Dispatcher struct {
	producer EventWriter
	redis    *redis.Client
	topics   config.TopicConfig
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(producer EventWriter, redisClient *redis.Client, topics config.TopicConfig, log *logger.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		producer: producer,
		redis:    redisClient,
		topics:   topics,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WalletChannel is the Redis pub/sub channel carrying a user's wallet events.
func WalletChannel(userID string) string {
	return fmt.Sprintf("canteen:user:%s:wallet", userID)
}

// OrderChannel is the Redis pub/sub channel carrying an order's status events.
func OrderChannel(orderID string) string {
	return fmt.Sprintf("canteen:order:%s:status", orderID)
}

func (d *Dispatcher) WalletEvent(evt models.WalletEvent) {
	d.dispatch(d.topics.WalletEvents, evt.UserID, WalletChannel(evt.UserID), evt)
}

func (d *Dispatcher) OrderStatusEvent(evt models.OrderStatusEvent) {
	d.dispatch(d.topics.OrderStatus, evt.OrderID, OrderChannel(evt.OrderID), evt)
}

// PaymentRecordedEvent goes to Kafka only; the order channel carries status
// events the SSE bridge knows how to decode.
func (d *Dispatcher) PaymentRecordedEvent(evt models.PaymentRecordedEvent) {
	d.dispatch(d.topics.PaymentRecorded, evt.OrderID, "", evt)
}

func (d *Dispatcher) dispatch(topic, key, channel string, payload any) {
	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
		defer cancel()

		if d.producer != nil {
			if err := d.producer.Publish(ctx, topic, key, payload); err != nil {
				d.log.Error("KAFKA", fmt.Sprintf("failed to publish to %s: %v", topic, err))
			} else {
				d.log.LogKafka("PUBLISH", topic, "event for "+key)
			}
		}

		if d.redis != nil && channel != "" {
			msgBytes, err := json.Marshal(payload)
			if err != nil {
				d.log.Error("NOTIFY", fmt.Sprintf("failed to marshal event for %s: %v", channel, err))
				return
			}
			if err := d.redis.Publish(ctx, channel, msgBytes).Err(); err != nil {
				d.log.Error("NOTIFY", fmt.Sprintf("failed to publish to %s: %v", channel, err))
			}
		}
	}()
}

// Close stops in-flight deliveries. The producer and Redis client are owned
// by the caller and closed separately.
func (d *Dispatcher) Close() {
	d.cancel()
}
