package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/tickletunes/backend/internal/config"
)

func testRewardsConfig() *config.RewardsConfig {
	return config.LoadRewardsConfig()
}

func TestTickleLedger_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewTickleLedger(db, testRewardsConfig())

	t.Run("successful boost with score bump", func(t *testing.T) {
		senderID := "acct-a"
		receiverID := "acct-b"
		songID := "song-1"
		amount := int64(5)

		mock.ExpectBegin()

		// Sender locks first (lower ID)
		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs(senderID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow(senderID, 10, 1, time.Now()))

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs(receiverID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow(receiverID, 2, 3, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WithArgs(sqlmock.AnyArg(), senderID, receiverID, songID, amount, "BOOST", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(5), sqlmock.AnyArg(), senderID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(7), sqlmock.AnyArg(), receiverID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// score += amount * 10, boost_count += 1
		mock.ExpectExec("UPDATE songs").
			WithArgs(int64(50), 1, songID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		txID, err := ledger.Transfer(TransferRequest{
			SenderID:   senderID,
			ReceiverID: receiverID,
			SongID:     songID,
			Amount:     amount,
			Reason:     "BOOST",
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, txID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gift with exact balance drains to zero", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 1, 1, time.Now()))

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-b", 0, 1, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-a", "acct-b", nil, int64(1), "GIFT", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(0), sqlmock.AnyArg(), "acct-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(1), sqlmock.AnyArg(), "acct-b", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-b",
			Amount:     1,
			Reason:     "GIFT",
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves no mutation", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 4, 1, time.Now()))

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-b", 0, 1, time.Now()))

		mock.ExpectRollback()

		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-b",
			Amount:     5,
			Reason:     "BOOST",
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		var detail *InsufficientFundsError
		assert.ErrorAs(t, err, &detail)
		assert.Equal(t, int64(4), detail.Available)
		assert.Equal(t, int64(5), detail.Requested)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer rejected before any statement", func(t *testing.T) {
		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-a",
			Amount:     1,
			Reason:     "GIFT",
		})
		assert.ErrorIs(t, err, ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-b",
			Amount:     0,
			Reason:     "GIFT",
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown receiver", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 10, 1, time.Now()))

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-z").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}))

		mock.ExpectRollback()

		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-z",
			Amount:     1,
			Reason:     "GIFT",
		})
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure is retryable", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 10, 1, time.Now()))

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-b", 0, 1, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(9), sqlmock.AnyArg(), "acct-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 0)) // lost the race

		mock.ExpectRollback()

		_, err := ledger.Transfer(TransferRequest{
			SenderID:   "acct-a",
			ReceiverID: "acct-b",
			Amount:     1,
			Reason:     "GIFT",
		})
		assert.ErrorIs(t, err, ErrConcurrentModification)
		assert.True(t, IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTickleLedger_CreditPurchase(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewTickleLedger(db, testRewardsConfig())

	t.Run("first delivery credits once", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 0, 1, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-a", int64(25), "PURCHASE", "evt_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(25), sqlmock.AnyArg(), "acct-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		txID, duplicate, err := ledger.CreditPurchase("acct-a", 25, "evt_1")
		assert.NoError(t, err)
		assert.False(t, duplicate)
		assert.NotEmpty(t, txID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivered event is a no-op", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 25, 2, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WithArgs(sqlmock.AnyArg(), "acct-a", int64(25), "PURCHASE", "evt_1", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})

		mock.ExpectRollback()

		_, duplicate, err := ledger.CreditPurchase("acct-a", 25, "evt_1")
		assert.NoError(t, err)
		assert.True(t, duplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-z").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}))

		mock.ExpectRollback()

		_, _, err := ledger.CreditPurchase("acct-z", 25, "evt_2")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure surfaces for retry", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, tickle_balance, version, updated_at").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "tickle_balance", "version", "updated_at"}).
				AddRow("acct-a", 0, 1, time.Now()))

		mock.ExpectExec("INSERT INTO tickle_transactions").
			WillReturnError(errors.New("connection reset"))

		mock.ExpectRollback()

		_, duplicate, err := ledger.CreditPurchase("acct-a", 25, "evt_3")
		assert.Error(t, err)
		assert.False(t, duplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTickleLedger_AuditBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewTickleLedger(db, testRewardsConfig())

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("acct-a").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(35))

	audited, err := ledger.AuditBalance("acct-a")
	assert.NoError(t, err)
	assert.Equal(t, int64(35), audited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickleLedger_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewTickleLedger(db, testRewardsConfig())

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT tickle_balance FROM accounts").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"tickle_balance"}).AddRow(12))

		balance, err := ledger.Balance("acct-a")
		assert.NoError(t, err)
		assert.Equal(t, int64(12), balance)
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery("SELECT tickle_balance FROM accounts").
			WithArgs("acct-z").
			WillReturnRows(sqlmock.NewRows([]string{"tickle_balance"}))

		_, err := ledger.Balance("acct-z")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}
