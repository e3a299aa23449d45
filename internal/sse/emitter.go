package sse

import (
	"context"
	"sync"

	"ms-canteen/internal/models"
)

// Emitter manages SSE connections and event broadcasting for live wallet
// balances and order status updates.
type Emitter struct {
	// Wallet channel clients map - key: userID, value: slice of client channels
	walletClients     map[string][]chan models.WalletEvent
	walletClientMutex sync.RWMutex

	// Order channel clients map - key: orderID, value: slice of client channels
	orderClients     map[string][]chan models.OrderStatusEvent
	orderClientMutex sync.RWMutex
}

func NewEmitter() *Emitter {
	return &Emitter{
		walletClients: make(map[string][]chan models.WalletEvent),
		orderClients:  make(map[string][]chan models.OrderStatusEvent),
	}
}

// SubscribeToWallet adds a client to a user's wallet events
func (e *Emitter) SubscribeToWallet(ctx context.Context, userID string) chan models.WalletEvent {
	clientChan := make(chan models.WalletEvent, 10)

	e.walletClientMutex.Lock()
	e.walletClients[userID] = append(e.walletClients[userID], clientChan)
	e.walletClientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeWalletClient(userID, clientChan)
	}()

	return clientChan
}

// SubscribeToOrder adds a client to an order's status events
func (e *Emitter) SubscribeToOrder(ctx context.Context, orderID string) chan models.OrderStatusEvent {
	clientChan := make(chan models.OrderStatusEvent, 10)

	e.orderClientMutex.Lock()
	e.orderClients[orderID] = append(e.orderClients[orderID], clientChan)
	e.orderClientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeOrderClient(orderID, clientChan)
	}()

	return clientChan
}

// EmitWalletEvent broadcasts a wallet event to the user's subscribed clients
func (e *Emitter) EmitWalletEvent(evt models.WalletEvent) {
	e.walletClientMutex.RLock()
	clients := e.walletClients[evt.UserID]
	e.walletClientMutex.RUnlock()

	for _, clientChan := range clients {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- evt:
		default:
			// Channel buffer full, skip this client for now
		}
	}
}

// EmitOrderEvent broadcasts an order status event to the order's subscribers
func (e *Emitter) EmitOrderEvent(evt models.OrderStatusEvent) {
	e.orderClientMutex.RLock()
	clients := e.orderClients[evt.OrderID]
	e.orderClientMutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- evt:
		default:
		}
	}
}

// Helper methods to remove clients when they disconnect. The channel is
// deliberately left open: a broadcast snapshots the subscriber slice before
// sending, so a concurrent close would panic the emitting goroutine. The
// unreferenced channel is garbage collected once the handler returns.
func (e *Emitter) removeWalletClient(userID string, clientChan chan models.WalletEvent) {
	e.walletClientMutex.Lock()
	defer e.walletClientMutex.Unlock()

	clients := e.walletClients[userID]
	for i, ch := range clients {
		if ch == clientChan {
			e.walletClients[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	if len(e.walletClients[userID]) == 0 {
		delete(e.walletClients, userID)
	}
}

func (e *Emitter) removeOrderClient(orderID string, clientChan chan models.OrderStatusEvent) {
	e.orderClientMutex.Lock()
	defer e.orderClientMutex.Unlock()

	clients := e.orderClients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.orderClients[orderID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	if len(e.orderClients[orderID]) == 0 {
		delete(e.orderClients, orderID)
	}
}

// WalletClientCount returns how many clients follow a user's wallet
func (e *Emitter) WalletClientCount(userID string) int {
	e.walletClientMutex.RLock()
	defer e.walletClientMutex.RUnlock()
	return len(e.walletClients[userID])
}

// OrderClientCount returns how many clients follow an order
func (e *Emitter) OrderClientCount(orderID string) int {
	e.orderClientMutex.RLock()
	defer e.orderClientMutex.RUnlock()
	return len(e.orderClients[orderID])
}
