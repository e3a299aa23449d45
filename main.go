package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"ms-canteen/internal/auth"
	"ms-canteen/internal/config"
	"ms-canteen/internal/database"
	"ms-canteen/internal/database/migrations"
	"ms-canteen/internal/kafka"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	"ms-canteen/internal/notify"
	"ms-canteen/internal/order"
	order_api "ms-canteen/internal/order/api"
	"ms-canteen/internal/qrtoken"
	qrtoken_api "ms-canteen/internal/qrtoken/api"
	"ms-canteen/internal/slot"
	slot_api "ms-canteen/internal/slot/api"
	"ms-canteen/internal/sse"
	"ms-canteen/internal/wallet"
	wallet_api "ms-canteen/internal/wallet/api"
)

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Canteen Core initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Initialize(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migration init failed: %v", err))
	}
	if err := runner.RunMigrations(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	logger.Info("DATABASE", "Migrations applied")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	logger.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		requiredTopics := []string{
			cfg.Kafka.Topics.OrderStatus,
			cfg.Kafka.Topics.WalletEvents,
			cfg.Kafka.Topics.PaymentRecorded,
			cfg.Kafka.Topics.GatewayResults,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, events go to Redis pub/sub only")
	}

	var dispatcher *notify.Dispatcher
	if producer != nil {
		dispatcher = notify.NewDispatcher(producer, redisClient, cfg.Kafka.Topics, logger)
	} else {
		dispatcher = notify.NewDispatcher(nil, redisClient, cfg.Kafka.Topics, logger)
	}
	defer dispatcher.Close()

	walletService := wallet.NewService(bunDB, dispatcher, logger, wallet.Options{
		TxRetries:           cfg.Database.TxRetries,
		LowBalanceThreshold: cfg.Wallet.LowBalanceThreshold,
		SessionTTL:          cfg.Token.SessionTTL,
	})
	tokenService := qrtoken.NewService(cfg.Token, walletService, logger)
	slotService := slot.NewService(bunDB, dispatcher, logger, cfg.Database.TxRetries)
	orderService := order.NewService(bunDB, dispatcher, logger, order.Options{
		TxRetries:           cfg.Database.TxRetries,
		GatewayWriteRetries: cfg.Payment.GatewayWriteRetries,
	})

	if cfg.Payment.StripeSecretKey != "" {
		order.InitStripe(cfg.Payment.StripeSecretKey)
		logger.Info("PAYMENT", "Stripe gateway initialized")
	} else {
		logger.Warn("PAYMENT", "STRIPE_SECRET_KEY not set, gateway payments unavailable")
	}

	watchdog := order.NewWatchdog(cfg.Payment.WatchdogTimeout)
	defer watchdog.Stop()

	emitter := sse.NewEmitter()
	bridge := sse.NewBridge(redisClient, emitter, logger)
	go bridge.Run(ctx)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewGatewayResultConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GatewayResults, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go consumer.Start(ctx, func(ctx context.Context, evt models.GatewayResultEvent) {
			if _, err := orderService.RecordGatewayResult(ctx, evt.OrderID, evt.PaymentID, evt.Succeeded, evt.Reason); err != nil {
				logger.Error("PAYMENT", fmt.Sprintf("gateway result for order %s not applied: %v", evt.OrderID, err))
			}
			watchdog.Resolve(evt.OrderID)
		})
	}

	// Replay-registry housekeeping: expired session rows are only dead
	// weight, the single-use guarantee does not depend on this purge.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purged, err := walletService.PurgeExpiredSessions(ctx)
				if err != nil {
					logger.Error("WALLET", fmt.Sprintf("session purge failed: %v", err))
				} else if purged > 0 {
					logger.Info("WALLET", fmt.Sprintf("purged %d expired token sessions", purged))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	walletHandler := &wallet_api.Handler{Wallet: walletService, Tokens: tokenService, Emitter: emitter, Logger: logger}
	tokenHandler := &qrtoken_api.Handler{Tokens: tokenService, Logger: logger}
	slotHandler := &slot_api.Handler{Slots: slotService, Logger: logger}
	orderHandler := &order_api.Handler{Orders: orderService, Watchdog: watchdog, Emitter: emitter, Logger: logger}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		logger.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/wallet", func(r chi.Router) {
				r.With(auth.RequireRole(models.RoleAdmin)).Post("/{userID}/topup", walletHandler.Topup)
				r.Get("/{userID}/balance", walletHandler.Balance)
				r.Get("/{userID}/transactions", walletHandler.Transactions)
				r.Get("/{userID}/events", walletHandler.StreamEvents)
				r.With(auth.RequireRole(models.RoleStaff)).Post("/charge", walletHandler.Charge)
			})
			logger.Info("ROUTER", "Wallet routes registered under /api/wallet")

			r.Route("/token", func(r chi.Router) {
				r.Post("/", tokenHandler.IssueToken)
				r.Get("/qr", tokenHandler.IssueQR)
				r.With(auth.RequireRole(models.RoleStaff)).Post("/validate", tokenHandler.ValidateToken)
			})
			logger.Info("ROUTER", "Token routes registered under /api/token")

			r.Route("/slots", func(r chi.Router) {
				r.Get("/", slotHandler.ListOpen)
				r.Post("/{slotID}/reserve", slotHandler.Reserve)
				r.With(auth.RequireRole(models.RoleAdmin)).Post("/{slotID}/reopen", slotHandler.Reopen)
			})
			logger.Info("ROUTER", "Slot routes registered under /api/slots")

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", orderHandler.ListMyOrders)
				r.With(auth.RequireRole(models.RoleStaff)).Post("/counter", orderHandler.CreateCounterOrder)
				r.Get("/{orderID}", orderHandler.GetOrder)
				r.Get("/{orderID}/events", orderHandler.StreamStatus)
				r.With(auth.RequireRole(models.RoleStaff)).Patch("/{orderID}/status", orderHandler.AdvanceStatus)
				r.Post("/{orderID}/cancel", orderHandler.CancelOrder)
				r.Post("/{orderID}/pay/gateway", orderHandler.StartGatewayPayment)
				r.Post("/{orderID}/pay/gateway/result", orderHandler.RecordGatewayResult)
				r.Get("/{orderID}/pay/processing", orderHandler.PaymentProcessing)
				r.Post("/{orderID}/pay/manual", orderHandler.AssertManualPayment)
				r.With(auth.RequireRole(models.RoleStaff)).Post("/{orderID}/pay/manual/confirm", orderHandler.ConfirmManualPayment)
			})
			logger.Info("ROUTER", "Order routes registered under /api/orders")
		})
	})

	// No WriteTimeout: the SSE endpoints hold their response open.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Canteen Core running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancelApp()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Canteen Core shutdown complete")
	}
}
