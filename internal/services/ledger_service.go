package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tickletunes/backend/internal/config"
	"github.com/tickletunes/backend/internal/models"
)

// TickleLedger owns every balance mutation. The tickle_transactions table is
// the authoritative record; account balances are materialized values updated
// in the same SQL transaction as each ledger append, guarded by row locks and
// an optimistic version check.
type TickleLedger struct {
	db  *sql.DB
	cfg *config.RewardsConfig
}

func NewTickleLedger(db *sql.DB, cfg *config.RewardsConfig) *TickleLedger {
	return &TickleLedger{db: db, cfg: cfg}
}

// TransferRequest describes one balance-to-balance transfer. SongID is empty
// for direct account gifts.
type TransferRequest struct {
	SenderID   string
	ReceiverID string
	SongID     string
	Amount     int64
	Reason     string
}

// Transfer atomically debits the sender, credits the receiver, appends the
// ledger row, and bumps the target song's score. A rejected transfer leaves
// every balance and the log untouched.
func (l *TickleLedger) Transfer(req TransferRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("transfer amount must be positive, got %d", req.Amount)
	}
	if req.SenderID == req.ReceiverID {
		return "", ErrSelfTransfer
	}

	tx, err := l.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	txID := uuid.NewString()
	if err := l.TransferTx(tx, txID, req); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return txID, nil
}

// TransferTx executes the transfer inside an existing SQL transaction.
func (l *TickleLedger) TransferTx(tx *sql.Tx, txID string, req TransferRequest) error {
	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := req.SenderID, req.ReceiverID
	if req.SenderID > req.ReceiverID {
		firstLock, secondLock = req.ReceiverID, req.SenderID
	}

	sender, err := l.lockAccount(tx, firstLock)
	if err != nil {
		return err
	}

	receiver, err := l.lockAccount(tx, secondLock)
	if err != nil {
		return err
	}

	// Determine which locked account is sender/receiver
	if firstLock != req.SenderID {
		sender, receiver = receiver, sender
	}

	if sender.TickleBalance < req.Amount {
		return &InsufficientFundsError{
			AccountID: sender.ID,
			Available: sender.TickleBalance,
			Requested: req.Amount,
		}
	}

	if err := l.appendTransaction(tx, txID, req); err != nil {
		return err
	}

	if err := l.updateAccountBalance(tx, sender.ID, sender.TickleBalance-req.Amount, sender.Version); err != nil {
		return err
	}

	if err := l.updateAccountBalance(tx, receiver.ID, receiver.TickleBalance+req.Amount, receiver.Version); err != nil {
		return err
	}

	if req.SongID != "" {
		if err := l.bumpSongScore(tx, req.SongID, req.Amount, req.Reason); err != nil {
			return err
		}
	}

	return nil
}

// CreditPurchase mints Tickles against a confirmed external payment. The
// unique index on external_ref is the idempotency guard: a redelivered event
// fails the insert and reports duplicate=true with no balance change, even
// under concurrent delivery.
func (l *TickleLedger) CreditPurchase(accountID string, amount int64, externalRef string) (string, bool, error) {
	if amount <= 0 {
		return "", false, fmt.Errorf("purchase amount must be positive, got %d", amount)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	account, err := l.lockAccount(tx, accountID)
	if err != nil {
		return "", false, err
	}

	txID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO tickle_transactions (id, sender_id, receiver_id, song_id, amount, reason, external_ref, created_at)
		VALUES ($1, NULL, $2, NULL, $3, $4, $5, $6)`,
		txID, accountID, amount, models.ReasonPurchase, externalRef, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return "", true, nil
		}
		return "", false, err
	}

	if err := l.updateAccountBalance(tx, account.ID, account.TickleBalance+amount, account.Version); err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return txID, false, nil
}

// GrantTx records the signup grant as a ledger row inside the caller's
// transaction, so audit sums reconcile from the ledger alone. The caller
// creates the account row with the grant already applied.
func (l *TickleLedger) GrantTx(tx *sql.Tx, accountID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := tx.Exec(`
		INSERT INTO tickle_transactions (id, sender_id, receiver_id, song_id, amount, reason, external_ref, created_at)
		VALUES ($1, NULL, $2, NULL, $3, $4, NULL, $5)`,
		uuid.NewString(), accountID, amount, models.ReasonGrant, time.Now())
	return err
}

// Balance returns the materialized balance.
func (l *TickleLedger) Balance(accountID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(`SELECT tickle_balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// AuditBalance recomputes the balance from the ledger: received minus sent,
// grants and purchases included. A mismatch with Balance indicates drift in
// the materialized value.
func (l *TickleLedger) AuditBalance(accountID string) (int64, error) {
	var audited int64
	err := l.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN receiver_id = $1 THEN amount ELSE -amount END), 0)
		FROM tickle_transactions
		WHERE receiver_id = $1 OR sender_id = $1`, accountID).Scan(&audited)
	return audited, err
}

func (l *TickleLedger) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, tickle_balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.TickleBalance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (l *TickleLedger) appendTransaction(tx *sql.Tx, txID string, req TransferRequest) error {
	songID := sql.NullString{String: req.SongID, Valid: req.SongID != ""}
	_, err := tx.Exec(`
		INSERT INTO tickle_transactions (id, sender_id, receiver_id, song_id, amount, reason, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)`,
		txID, req.SenderID, req.ReceiverID, songID, req.Amount, req.Reason, time.Now())
	return err
}

func (l *TickleLedger) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET tickle_balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrConcurrentModification)
	}

	return nil
}

// bumpSongScore keeps the score's tickle term current between aggregator
// passes. The aggregator recomputes the same term from the ledger sum, so the
// incremental bump and the periodic recompute agree.
func (l *TickleLedger) bumpSongScore(tx *sql.Tx, songID string, amount int64, reason string) error {
	boostIncrement := 0
	if reason == models.ReasonBoost {
		boostIncrement = 1
	}

	result, err := tx.Exec(`
		UPDATE songs
		SET score = score + $1, boost_count = boost_count + $2
		WHERE id = $3`,
		amount*l.cfg.TransferScoreMultiplier, boostIncrement, songID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSongNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
