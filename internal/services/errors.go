package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reward ledger. Handlers map these to HTTP statuses;
// use errors.Is to classify.
var (
	// ErrInsufficientFunds is returned when a debit would take a balance negative.
	ErrInsufficientFunds = errors.New("insufficient tickle balance")

	// ErrSelfTransfer is returned when sender and receiver are the same account.
	ErrSelfTransfer = errors.New("cannot send tickles to yourself")

	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSongNotFound is returned when a referenced song does not exist.
	ErrSongNotFound = errors.New("song not found")

	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrConcurrentModification is returned when the optimistic balance update
	// loses a race. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// InsufficientFundsError carries the shortfall details for user-facing messages.
type InsufficientFundsError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient tickle balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// IsClientError reports whether the error is a rejected operation rather than
// a storage failure. Rejected operations leave no partial state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSongNotFound)
}

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
