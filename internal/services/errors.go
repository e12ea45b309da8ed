package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLedgerLock          = errors.New("user ledger locked")
	ErrOfferSyncLock       = errors.New("offer sync already running")
	ErrNonCompletionStatus = errors.New("non-completion status")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserExists          = errors.New("username or email already registered")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPayoutState         = errors.New("payout not in expected state")
	ErrUnsupportedMethod   = errors.New("unsupported payout method")
)

// ValidationError carries every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ConflictError reports an operation already in flight.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// RailError wraps a failure of an external provider. Its message is safe to
// show; the cause is kept for logs.
type RailError struct {
	Op  string
	Err error
}

func (e *RailError) Error() string {
	return fmt.Sprintf("%s failed", e.Op)
}

func (e *RailError) Unwrap() error {
	return e.Err
}
