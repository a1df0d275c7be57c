package models

import (
	"database/sql"
	"time"
)

// Transaction reasons recorded on ledger rows.
const (
	ReasonGift     = "GIFT"
	ReasonBoost    = "BOOST"
	ReasonPurchase = "PURCHASE"
	ReasonGrant    = "GRANT"
)

// TickleTransaction is one append-only ledger row. Rows are never updated or
// deleted; sender is null for purchases (value minted against an external
// payment), song is null for direct account-to-account gifts. ExternalRef is
// unique when present and carries the payment provider's event reference for
// purchase idempotency.
type TickleTransaction struct {
	ID          string         `json:"id" db:"id"`
	SenderID    sql.NullString `json:"senderId" db:"sender_id"`
	ReceiverID  string         `json:"receiverId" db:"receiver_id"`
	SongID      sql.NullString `json:"songId" db:"song_id"`
	Amount      int64          `json:"amount" db:"amount"`
	Reason      string         `json:"reason" db:"reason"`
	ExternalRef sql.NullString `json:"externalRef,omitempty" db:"external_ref"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
}
