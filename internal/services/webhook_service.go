package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PaymentWebhookService reconciles the payment provider's signed events with
// Tickle credits. The provider delivers at-least-once; the ledger's unique
// external reference guarantees each event credits exactly once.
type PaymentWebhookService struct {
	ledger    *TickleLedger
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

const signatureHeader = "X-Payment-Signature"

func NewPaymentWebhookService(ledger *TickleLedger, secret string) *PaymentWebhookService {
	return &PaymentWebhookService{
		ledger:    ledger,
		secret:    []byte(secret),
		tolerance: 5 * time.Minute,
		now:       time.Now,
	}
}

type purchaseEvent struct {
	ExternalRef string `json:"externalRef"`
	AccountID   string `json:"accountId"`
	Amount      int64  `json:"amount"`
}

// HandlePurchase processes a payment-completed webhook
// @Summary Payment provider webhook
// @Description Credit a Tickle purchase once per unique external reference
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/payments [post]
func (ws *PaymentWebhookService) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	maxBytes := 65_536 // webhook payloads are small
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBytes)))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	// Signature first: an unauthenticated caller learns nothing about whether
	// the payload would otherwise parse.
	if err := ws.verifySignature(r.Header.Get(signatureHeader), body); err != nil {
		log.Printf("[WEBHOOK] Signature rejected from %s: %v", r.RemoteAddr, err)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var event purchaseEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&event); err != nil {
		log.Printf("[WEBHOOK] Malformed payload: %v", err)
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	if event.ExternalRef == "" || event.AccountID == "" || event.Amount <= 0 {
		log.Printf("[WEBHOOK] Malformed payload: ref=%q account=%q amount=%d",
			event.ExternalRef, event.AccountID, event.Amount)
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	txID, duplicate, err := ws.ledger.CreditPurchase(event.AccountID, event.Amount, event.ExternalRef)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Printf("[WEBHOOK] Unknown account for ref %s: %s", event.ExternalRef, event.AccountID)
			SendErrorResponse(w, "Account not found", http.StatusBadRequest, nil)
			return
		}
		// Surface as retryable so the provider's delivery retry re-attempts.
		log.Printf("[WEBHOOK] Storage failure for ref %s: %v", event.ExternalRef, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	if duplicate {
		log.Printf("[WEBHOOK] Duplicate delivery for ref %s, no credit applied", event.ExternalRef)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"received":  true,
			"duplicate": true,
		})
		return
	}

	log.Printf("[WEBHOOK] Purchase credited: ref=%s account=%s amount=%d tx=%s",
		event.ExternalRef, event.AccountID, event.Amount, txID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"received": true,
	})
}

// verifySignature checks the "t=<unix>,v1=<hex>" header: an HMAC-SHA256 over
// "<t>.<body>" with the shared secret, rejected outside the tolerance window.
func (ws *PaymentWebhookService) verifySignature(header string, body []byte) error {
	if len(ws.secret) == 0 {
		return errors.New("webhook secret not configured")
	}
	if header == "" {
		return ErrInvalidSignature
	}

	var timestamp int64
	var provided string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			provided = v
		}
	}

	if timestamp == 0 || provided == "" {
		return ErrInvalidSignature
	}

	age := ws.now().Sub(time.Unix(timestamp, 0))
	if age > ws.tolerance || age < -ws.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	h := hmac.New(sha256.New, ws.secret)
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return ErrInvalidSignature
	}
	expectedBytes, _ := hex.DecodeString(expected)
	if !hmac.Equal(providedBytes, expectedBytes) {
		return ErrInvalidSignature
	}
	return nil
}
