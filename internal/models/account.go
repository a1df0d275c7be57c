package models

import (
	"database/sql"
	"time"
)

// Account holds the materialized Tickle balance for a user. The
// tickle_transactions ledger is authoritative; balance and version are
// maintained together inside the same SQL transaction as every ledger append.
type Account struct {
	ID              string         `json:"id" db:"id"`
	DisplayName     string         `json:"displayName" db:"display_name"`
	TickleBalance   int64          `json:"tickleBalance" db:"tickle_balance"`
	PayoutAccountID sql.NullString `json:"-" db:"payout_account_id"`
	Version         int            `json:"-" db:"version"` // for optimistic locking
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}
