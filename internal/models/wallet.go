package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	EntryTypeCredit = "credit"
	EntryTypeDebit  = "debit"
)

// Payment channels a ledger entry or order can settle through.
const (
	ChannelWallet   = "wallet"
	ChannelCash     = "cash"
	ChannelGateway  = "gateway"
	ChannelManualQR = "manual_qr"
)

// LedgerEntry is an immutable record of one wallet balance change.
// Entries are append-only; for a fixed user, consecutive entries chain:
// entry[n].BalanceAfter == entry[n+1].BalanceBefore.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:wallet_transactions"`

	ID             string    `bun:"id,pk" json:"id"`
	UserID         string    `bun:"user_id,notnull" json:"user_id"`
	Type           string    `bun:"type,notnull" json:"type"`
	Amount         int64     `bun:"amount,notnull" json:"amount"`
	BalanceBefore  int64     `bun:"balance_before,notnull" json:"balance_before"`
	BalanceAfter   int64     `bun:"balance_after,notnull" json:"balance_after"`
	Description    string    `bun:"description" json:"description"`
	RelatedOrderID string    `bun:"related_order_id,nullzero" json:"related_order_id,omitempty"`
	ActorID        string    `bun:"actor_id,notnull" json:"actor_id"`
	Channel        string    `bun:"channel,notnull" json:"channel"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}

// UsedTokenSession marks a payment-grade QR session as consumed. Its
// existence is the replay check; it is written in the same transaction as
// the wallet debit it authorizes.
type UsedTokenSession struct {
	bun.BaseModel `bun:"table:used_qr_sessions"`

	SessionID string    `bun:"session_id,pk" json:"session_id"`
	UserID    string    `bun:"user_id,notnull" json:"user_id"`
	AdminID   string    `bun:"admin_id,notnull" json:"admin_id"`
	Amount    int64     `bun:"amount,notnull" json:"amount"`
	OrderID   string    `bun:"order_id,notnull" json:"order_id"`
	UsedAt    time.Time `bun:"used_at,notnull" json:"used_at"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
}
