package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// UpgradeErrorType categorizes upgrade failures. Each type maps to a fixed
// retryable/non-retryable verdict; unknown errors default to non-retryable.
type UpgradeErrorType string

const (
	ErrTypeAlreadyInProgress       UpgradeErrorType = "already_in_progress"
	ErrTypeInvalidState            UpgradeErrorType = "invalid_state"
	ErrTypeBurnVerificationFailed  UpgradeErrorType = "burn_verification_failed"
	ErrTypeMintTransactionFailed   UpgradeErrorType = "mint_transaction_failed"
	ErrTypeMintConfirmationTimeout UpgradeErrorType = "mint_confirmation_timeout"
	ErrTypeInsufficientFunds       UpgradeErrorType = "insufficient_funds"
	ErrTypeNetworkError            UpgradeErrorType = "network_error"
	ErrTypeRPCError                UpgradeErrorType = "rpc_error"
	ErrTypeRateLimitExceeded       UpgradeErrorType = "rate_limit_exceeded"
	ErrTypeQualificationFailed     UpgradeErrorType = "qualification_failed"
	ErrTypeCapacityExceeded        UpgradeErrorType = "capacity_exceeded"
)

// UpgradeError is the single domain error type. Retryable describes the
// category, not the remaining budget; the orchestrator combines both.
type UpgradeError struct {
	Type             UpgradeErrorType
	Message          string
	UpgradeRequestID string
	Retryable        bool
	Err              error
}

func (e *UpgradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *UpgradeError) Unwrap() error {
	return e.Err
}

// NewUpgradeError builds a typed upgrade error.
func NewUpgradeError(t UpgradeErrorType, message string, retryable bool) *UpgradeError {
	return &UpgradeError{Type: t, Message: message, Retryable: retryable}
}

// AsUpgradeError unwraps err into an *UpgradeError if one is in the chain.
func AsUpgradeError(err error) (*UpgradeError, bool) {
	var ue *UpgradeError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

var retryableErrorTypes = map[UpgradeErrorType]bool{
	ErrTypeNetworkError:            true,
	ErrTypeMintConfirmationTimeout: true,
	ErrTypeRPCError:                true,
	ErrTypeRateLimitExceeded:       true,
	ErrTypeBurnVerificationFailed:  true,
}

// IsErrorTypeRetryable reports the fixed verdict for an error category.
func IsErrorTypeRetryable(t UpgradeErrorType) bool {
	return retryableErrorTypes[t]
}

// ClassifyError maps an arbitrary error from the mint phase to a category.
// Typed errors keep their category; everything else is matched on shape, and
// anything unrecognized is treated as a permanent mint failure so a broken
// collaborator cannot loop forever.
func ClassifyError(err error) UpgradeErrorType {
	if ue, ok := AsUpgradeError(err); ok {
		return ue.Type
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeMintConfirmationTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTypeMintConfirmationTimeout
		}
		return ErrTypeNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient sol"):
		return ErrTypeInsufficientFunds
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrTypeMintConfirmationTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrTypeRateLimitExceeded
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return ErrTypeNetworkError
	case strings.Contains(msg, "rpc"):
		return ErrTypeRPCError
	}

	return ErrTypeMintTransactionFailed
}
