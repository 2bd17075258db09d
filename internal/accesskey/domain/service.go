package domain

import (
	"context"
	"errors"
)

// InvalidReason distinguishes why a key failed validation or consumption.
// Callers branch on these for user messaging, so they are results,
// not errors.
type InvalidReason string

const (
	ReasonNotFound    InvalidReason = "not_found"
	ReasonAlreadyUsed InvalidReason = "already_used"
	ReasonRevoked     InvalidReason = "revoked"
	ReasonExpired     InvalidReason = "expired"
)

type Service interface {
	// Issue creates an access key for a payment, idempotent on PaymentID.
	// The bool reports whether a new key was issued (false on replay).
	Issue(ctx context.Context, req IssueRequest) (*AccessKey, bool, error)
	// Validate classifies the key without consuming it. Check order:
	// not_found, already_used, revoked, expired (lazily persisted), valid.
	Validate(ctx context.Context, token string) (ValidationResult, error)
	// Consume transitions an active unexpired key to used exactly once.
	Consume(ctx context.Context, token string) (ConsumeResult, error)
	// Revoke administratively terminates a key.
	Revoke(ctx context.Context, token string) error
	// RevokeByPaymentID deactivates the key tied to a refunded or
	// cancelled payment; false when no key exists for it.
	RevokeByPaymentID(ctx context.Context, paymentID string) (bool, error)
}

type IssueRequest struct {
	PaymentID      string
	OwnerEmail     string
	OwnerName      string
	PaymentMethod  PaymentMethod
	SubscriptionID *string
}

type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Reason InvalidReason `json:"reason,omitempty"`
	Key    *AccessKey    `json:"access_key,omitempty"`
}

type ConsumeResult struct {
	Success bool          `json:"success"`
	Reason  InvalidReason `json:"reason,omitempty"`
	Key     *AccessKey    `json:"access_key,omitempty"`
}

var (
	ErrInvalidPayment = errors.New("invalid_payment")
	ErrInvalidOwner   = errors.New("invalid_owner")
	ErrInvalidMethod  = errors.New("invalid_payment_method")
	ErrNotFound       = errors.New("not_found")
)
