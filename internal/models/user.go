package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleStudent = "student"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email" json:"email"`
	Role      string    `bun:"role,notnull" json:"role"`
	// WalletBalance is in paise. Created implicitly at zero on first wallet
	// use; mutated only by the wallet ledger.
	WalletBalance int64     `bun:"wallet_balance,notnull,default:0" json:"wallet_balance"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
