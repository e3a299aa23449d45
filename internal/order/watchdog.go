package order

import (
	"sync"
	"time"
)

// Watchdog tracks the client-advisory "processing" flag for in-flight
// gateway payments. If a payment neither succeeds nor fails within the
// timeout the flag is cleared so the UI can recover, but paymentStatus is
// never touched: a late success callback must still land correctly.
// Firing twice, or not at all, changes no persisted state.
type Watchdog struct {
	mu         sync.Mutex
	timeout    time.Duration
	timers     map[string]*time.Timer
	processing map[string]bool
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Watchdog{
		timeout:    timeout,
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
	}
}

// Begin marks the order as processing and arms the timer.
func (w *Watchdog) Begin(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[orderID]; ok {
		timer.Stop()
	}
	w.processing[orderID] = true
	w.timers[orderID] = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.processing, orderID)
		delete(w.timers, orderID)
	})
}

// Resolve cancels the timer once a terminal result arrived. Safe to call
// for an order the watchdog never saw.
func (w *Watchdog) Resolve(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[orderID]; ok {
		timer.Stop()
		delete(w.timers, orderID)
	}
	delete(w.processing, orderID)
}

// Processing reports whether a payment attempt is still awaiting a result.
func (w *Watchdog) Processing(orderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processing[orderID]
}

// Stop tears down all timers, for shutdown.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
		delete(w.processing, id)
	}
}
