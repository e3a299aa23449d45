package order_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ms-canteen/internal/order"
)

func TestWatchdogClearsFlagOnTimeout(t *testing.T) {
	wd := order.NewWatchdog(50 * time.Millisecond)
	defer wd.Stop()

	wd.Begin("ord-1")
	assert.True(t, wd.Processing("ord-1"))

	assert.Eventually(t, func() bool {
		return !wd.Processing("ord-1")
	}, time.Second, 10*time.Millisecond)
}

func TestWatchdogResolveCancelsTimer(t *testing.T) {
	wd := order.NewWatchdog(time.Hour)
	defer wd.Stop()

	wd.Begin("ord-1")
	wd.Resolve("ord-1")
	assert.False(t, wd.Processing("ord-1"))

	// Resolving an order the watchdog never saw is harmless.
	wd.Resolve("ord-unknown")
}

func TestWatchdogBeginRearms(t *testing.T) {
	wd := order.NewWatchdog(time.Hour)
	defer wd.Stop()

	wd.Begin("ord-1")
	wd.Begin("ord-1")
	assert.True(t, wd.Processing("ord-1"))

	wd.Stop()
	assert.False(t, wd.Processing("ord-1"))
}
