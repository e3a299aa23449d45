package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-canteen/internal/database"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	walletdb "ms-canteen/internal/wallet/db"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrUserNotFound       = errors.New("wallet owner not found")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrOrderNotFound      = errors.New("order for debit not found")
	ErrSessionAlreadyUsed = errors.New("payment token session already used")
)

// Publisher receives domain events after a ledger transaction commits.
type Publisher interface {
	WalletEvent(evt models.WalletEvent)
	OrderStatusEvent(evt models.OrderStatusEvent)
}

type Options struct {
	TxRetries           int
	LowBalanceThreshold int64
	SessionTTL          time.Duration
}

// Service owns a user's balance and the append-only history of credits and
// debits. Every mutation runs as one atomic transaction against the store.
type Service struct {
	db   *bun.DB
	pub  Publisher
	log  *logger.Logger
	opts Options
}

func NewService(db *bun.DB, pub Publisher, log *logger.Logger, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Service{db: db, pub: pub, log: log, opts: opts}
}

// Credit adds amount to the user's balance and appends a credit entry with
// before/after snapshots, atomically.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, actorID, note string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		user, err := walletdb.GetUser(ctx, tx, userID)
		if err != nil {
			if walletdb.IsNoRows(err) {
				return ErrUserNotFound
			}
			return err
		}

		before := user.WalletBalance
		after := before + amount
		if err := walletdb.SwapBalance(ctx, tx, userID, before, after); err != nil {
			return err
		}

		entry = &models.LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          models.EntryTypeCredit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   note,
			ActorID:       actorID,
			Channel:       models.ChannelWallet,
			CreatedAt:     time.Now(),
		}
		return walletdb.InsertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogWallet("CREDIT", userID, fmt.Sprintf("credited %d paise, balance %d", amount, entry.BalanceAfter))
	s.publishWallet(models.WalletEvent{
		UserID:     userID,
		Type:       models.EntryTypeCredit,
		Amount:     amount,
		Balance:    entry.BalanceAfter,
		OccurredAt: entry.CreatedAt,
	})
	return entry, nil
}

// Debit withdraws amount and marks the referenced order wallet-paid in the
// same transaction. A debit never succeeds while its order stays unpaid,
// and an order is never marked wallet-paid without a matching debit.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, actorID, orderID string) (*models.LedgerEntry, error) {
	return s.debit(ctx, userID, amount, actorID, orderID, nil)
}

// DebitWithSession is Debit plus single-use enforcement: the used-session
// row is written in the same transaction, so the session is marked used if
// and only if the debit actually happened.
func (s *Service) DebitWithSession(ctx context.Context, userID string, amount int64, adminID, orderID, sessionID string) (*models.LedgerEntry, error) {
	now := time.Now()
	session := &models.UsedTokenSession{
		SessionID: sessionID,
		UserID:    userID,
		AdminID:   adminID,
		Amount:    amount,
		OrderID:   orderID,
		UsedAt:    now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	return s.debit(ctx, userID, amount, adminID, orderID, session)
}

func (s *Service) debit(ctx context.Context, userID string, amount int64, actorID, orderID string, session *models.UsedTokenSession) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		if session != nil {
			inserted, err := walletdb.InsertUsedSession(ctx, tx, session)
			if err != nil {
				return err
			}
			if !inserted {
				return ErrSessionAlreadyUsed
			}
		}

		user, err := walletdb.GetUser(ctx, tx, userID)
		if err != nil {
			if walletdb.IsNoRows(err) {
				return ErrUserNotFound
			}
			return err
		}

		before := user.WalletBalance
		if before < amount {
			return ErrInsufficientFunds
		}
		after := before - amount
		if err := walletdb.SwapBalance(ctx, tx, userID, before, after); err != nil {
			return err
		}

		order, err = walletdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if walletdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}
		if err := walletdb.MarkOrderWalletPaid(ctx, tx, orderID); err != nil {
			return err
		}

		entry = &models.LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           models.EntryTypeDebit,
			Amount:         amount,
			BalanceBefore:  before,
			BalanceAfter:   after,
			Description:    fmt.Sprintf("order %s", orderID),
			RelatedOrderID: orderID,
			ActorID:        actorID,
			Channel:        models.ChannelWallet,
			CreatedAt:      time.Now(),
		}
		return walletdb.InsertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogWallet("DEBIT", userID, fmt.Sprintf("debited %d paise for order %s, balance %d", amount, orderID, entry.BalanceAfter))
	s.publishWallet(models.WalletEvent{
		UserID:     userID,
		Type:       models.EntryTypeDebit,
		Amount:     amount,
		Balance:    entry.BalanceAfter,
		OrderID:    orderID,
		OccurredAt: entry.CreatedAt,
	})
	if entry.BalanceAfter < s.opts.LowBalanceThreshold {
		s.publishWallet(models.WalletEvent{
			UserID:     userID,
			Type:       "low_balance",
			Balance:    entry.BalanceAfter,
			OccurredAt: entry.CreatedAt,
		})
	}
	if s.pub != nil && order != nil {
		s.pub.OrderStatusEvent(models.OrderStatusEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			OrderStatus:   order.OrderStatus,
			PaymentStatus: models.PaymentStatusPaid,
			OccurredAt:    entry.CreatedAt,
		})
	}
	return entry, nil
}

// Balance is a point read of the current balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := walletdb.GetUser(ctx, s.db, userID)
	if err != nil {
		if walletdb.IsNoRows(err) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.WalletBalance, nil
}

// Ledger returns the user's transaction history newest-first.
func (s *Service) Ledger(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	return walletdb.GetEntries(ctx, s.db, userID, limit, offset)
}

// PurgeExpiredSessions clears replay-registry rows whose expiry has passed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return walletdb.DeleteExpiredSessions(ctx, s.db, time.Now())
}

func (s *Service) publishWallet(evt models.WalletEvent) {
	if s.pub != nil {
		s.pub.WalletEvent(evt)
	}
}
