package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tickletunes/backend/internal/config"
	"github.com/tickletunes/backend/internal/models"
)

// TickleService exposes the reward-transfer operations: 1-Tickle gifts,
// client-sized boosts, balance enquiries, and ledger history.
type TickleService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *TickleLedger
	validator *ValidationHelper
	cfg       *config.RewardsConfig
}

func NewTickleService(db *sql.DB, redisClient *redis.Client, ledger *TickleLedger, cfg *config.RewardsConfig) *TickleService {
	return &TickleService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// GiftRequest targets either a song (Tickle goes to its owner) or an account.
type GiftRequest struct {
	SongID     string `json:"songId" validate:"required_without=ReceiverID,omitempty,uuid4"`
	ReceiverID string `json:"receiverId" validate:"required_without=SongID"`
}

type BoostRequest struct {
	SongID string `json:"songId" validate:"required,uuid4"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=200"`
}

// SendGift handles a fixed 1-Tickle gift
// @Summary Send a Tickle
// @Description Send a single Tickle to a song's artist or directly to an account
// @Tags tickles
// @Accept json
// @Produce json
// @Param request body GiftRequest true "Gift target"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tickles/send [post]
func (ts *TickleService) SendGift(w http.ResponseWriter, r *http.Request) {
	senderID, ok := r.Context().Value("userID").(string)
	if !ok || senderID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req GiftRequest
	if !ts.decodeBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	receiverID, songID, err := ts.resolveTarget(req.SongID, req.ReceiverID)
	if err != nil {
		ts.writeLedgerError(w, "", err)
		return
	}

	txID, err := ts.ledger.Transfer(TransferRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		SongID:     songID,
		Amount:     1,
		Reason:     models.ReasonGift,
	})
	if err != nil {
		ts.writeLedgerError(w, senderID, err)
		return
	}

	log.Printf("[TICKLE] Gift sent: tx=%s sender=%s receiver=%s song=%s", txID, senderID, receiverID, songID)
	ts.invalidateChartCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"transactionId": txID,
	})
}

// Boost handles a self-funded visibility boost
// @Summary Boost a song
// @Description Spend Tickles to boost a song's score; amount is client-chosen
// @Tags tickles
// @Accept json
// @Produce json
// @Param request body BoostRequest true "Boost details"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tickles/boost [post]
func (ts *TickleService) Boost(w http.ResponseWriter, r *http.Request) {
	senderID, ok := r.Context().Value("userID").(string)
	if !ok || senderID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req BoostRequest
	if !ts.decodeBody(w, r, &req) {
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount > ts.cfg.MaxBoostAmount {
		SendErrorResponse(w, "Boost amount exceeds limit", http.StatusBadRequest, nil)
		return
	}

	receiverID, songID, err := ts.resolveTarget(req.SongID, "")
	if err != nil {
		ts.writeLedgerError(w, "", err)
		return
	}

	txID, err := ts.ledger.Transfer(TransferRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		SongID:     songID,
		Amount:     req.Amount,
		Reason:     models.ReasonBoost,
	})
	if err != nil {
		ts.writeLedgerError(w, senderID, err)
		return
	}

	log.Printf("[TICKLE] Boost sent: tx=%s sender=%s song=%s amount=%d", txID, senderID, songID, req.Amount)
	ts.invalidateChartCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"transactionId": txID,
		"amount":        req.Amount,
	})
}

// GetBalance returns the caller's Tickle balance
// @Summary Get Tickle balance
// @Description Return the materialized balance plus the ledger-derived audit value
// @Tags tickles
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /tickles/balance [get]
func (ts *TickleService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := ts.ledger.Balance(accountID)
	if err != nil {
		ts.writeLedgerError(w, accountID, err)
		return
	}

	audited, err := ts.ledger.AuditBalance(accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	if balance != audited {
		log.Printf("[TICKLE] Balance drift for account %s: materialized=%d ledger=%d", accountID, balance, audited)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId":     accountID,
		"tickleBalance": balance,
		"ledgerBalance": audited,
	})
}

// ListTransactions returns the caller's ledger history
// @Summary List Tickle transactions
// @Description Return recent ledger rows where the caller is sender or receiver
// @Tags tickles
// @Produce json
// @Param limit query int false "Number of rows to return (default: 20, max: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /tickles/transactions [get]
func (ts *TickleService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	transactions, err := ts.fetchTransactions(accountID, limit)
	if err != nil {
		log.Printf("[TICKLE] Failed to fetch transactions for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

func (ts *TickleService) fetchTransactions(accountID string, limit int) ([]models.TickleTransaction, error) {
	rows, err := ts.db.Query(`
		SELECT id, sender_id, receiver_id, song_id, amount, reason, external_ref, created_at
		FROM tickle_transactions
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.TickleTransaction{}
	for rows.Next() {
		var tx models.TickleTransaction
		if err := rows.Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.SongID,
			&tx.Amount, &tx.Reason, &tx.ExternalRef, &tx.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// resolveTarget maps a song target to its owning account. Draft songs cannot
// receive Tickles.
func (ts *TickleService) resolveTarget(songID, receiverID string) (string, string, error) {
	if songID == "" {
		return receiverID, "", nil
	}

	var ownerID string
	var draft bool
	err := ts.db.QueryRow(`SELECT account_id, draft FROM songs WHERE id = $1`, songID).Scan(&ownerID, &draft)
	if err == sql.ErrNoRows {
		return "", "", ErrSongNotFound
	}
	if err != nil {
		return "", "", err
	}
	if draft {
		return "", "", ErrSongNotFound
	}
	return ownerID, songID, nil
}

func (ts *TickleService) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func (ts *TickleService) writeLedgerError(w http.ResponseWriter, accountID string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient Tickles", http.StatusBadRequest, nil)
	case errors.Is(err, ErrSelfTransfer):
		SendErrorResponse(w, "Cannot send to yourself", http.StatusBadRequest, nil)
	case errors.Is(err, ErrSongNotFound):
		SendErrorResponse(w, "Song not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrConcurrentModification):
		SendErrorResponse(w, "Temporary conflict, please retry", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[TICKLE] Ledger failure for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
	}
}

func (ts *TickleService) invalidateChartCache(ctx context.Context) {
	if ts.redis == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ts.redis.Del(cacheCtx, chartCacheKey).Err(); err != nil {
		log.Printf("[TICKLE] Chart cache invalidation failed: %v", err)
	}
}
