package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"ms-canteen/internal/database"
	"ms-canteen/internal/models"
	orderdb "ms-canteen/internal/order/db"

	"github.com/uptrace/bun"
)

// InitStripe initializes the Stripe API with the secret key.
func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

// In-flight guard so concurrent requests for one order don't create
// duplicate payment intents.
var intentLocks = make(map[string]bool)
var intentMutex = &sync.Mutex{}

// CreateGatewayIntent creates (or reuses) a gateway payment intent for an
// unpaid order. The checkout UI that confirms the intent is external; the
// core only initiates and later consumes the client-reported result.
func (s *Service) CreateGatewayIntent(ctx context.Context, orderID string) (*stripe.PaymentIntent, error) {
	intentMutex.Lock()
	if intentLocks[orderID] {
		intentMutex.Unlock()
		s.log.Warn("PAYMENT", fmt.Sprintf("payment intent creation for order %s already in progress", orderID))
		time.Sleep(500 * time.Millisecond)
		return s.CreateGatewayIntent(ctx, orderID)
	}
	intentLocks[orderID] = true
	intentMutex.Unlock()

	defer func() {
		intentMutex.Lock()
		delete(intentLocks, orderID)
		intentMutex.Unlock()
	}()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentStatusUnpaid {
		return nil, fmt.Errorf("%w: cannot start gateway payment on a %s order", ErrInvalidTransition, order.PaymentStatus)
	}

	// Reuse an existing intent if one is still open.
	if order.GatewayPaymentID != "" {
		intent, err := paymentintent.Get(order.GatewayPaymentID, nil)
		if err != nil {
			s.log.Error("PAYMENT", fmt.Sprintf("failed to retrieve payment intent %s: %v", order.GatewayPaymentID, err))
		} else if intent.Status != stripe.PaymentIntentStatusCanceled && intent.Status != stripe.PaymentIntentStatusSucceeded {
			s.log.Info("PAYMENT", fmt.Sprintf("reusing payment intent %s (status %s)", intent.ID, intent.Status))
			return intent, nil
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(order.TotalAmount),
		Currency: stripe.String(string(stripe.CurrencyINR)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_id", orderID)

	intent, err := paymentintent.New(params)
	if err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("failed to create payment intent for order %s: %v", orderID, err))
		return nil, err
	}

	err = database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		current, err := orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}
		if current.PaymentStatus != models.PaymentStatusUnpaid {
			return fmt.Errorf("%w: order %s paid while creating intent", ErrInvalidTransition, orderID)
		}
		current.GatewayPaymentID = intent.ID
		return orderdb.UpdateOrder(ctx, tx, current, current.OrderStatus, current.PaymentStatus)
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			s.log.Error("PAYMENT", fmt.Sprintf("failed to store payment intent id for order %s: %v", orderID, err))
		}
		return nil, err
	}

	s.log.Info("PAYMENT", fmt.Sprintf("created payment intent %s for order %s (%d paise)", intent.ID, orderID, order.TotalAmount))
	return intent, nil
}
