package sse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
)

// Bridge relays events from Redis pub/sub into the in-process emitter so
// SSE clients see updates regardless of which instance performed the write.
type Bridge struct {
	redis   *redis.Client
	emitter *Emitter
	log     *logger.Logger
}

func NewBridge(redisClient *redis.Client, emitter *Emitter, log *logger.Logger) *Bridge {
	return &Bridge{redis: redisClient, emitter: emitter, log: log}
}

// Run subscribes to the canteen event channels and relays until ctx is
// cancelled. Intended to run as a goroutine from main.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.redis.PSubscribe(ctx, "canteen:user:*:wallet", "canteen:order:*:status")
	defer pubsub.Close()

	b.log.Info("SSE", "redis event bridge started")

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) relay(msg *redis.Message) {
	switch msg.Pattern {
	case "canteen:user:*:wallet":
		var evt models.WalletEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.log.Warn("SSE", fmt.Sprintf("failed to unmarshal wallet event on %s: %v", msg.Channel, err))
			return
		}
		b.emitter.EmitWalletEvent(evt)
	case "canteen:order:*:status":
		var evt models.OrderStatusEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.log.Warn("SSE", fmt.Sprintf("failed to unmarshal order event on %s: %v", msg.Channel, err))
			return
		}
		b.emitter.EmitOrderEvent(evt)
	}
}
