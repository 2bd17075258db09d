package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository is the durable store for access keys. Every mutation is a
// compare-and-set keyed by the relevant unique field so concurrent
// deliveries of the same logical event converge to one outcome.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *AccessKey) error
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*AccessKey, error)
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*AccessKey, error)
	// FindBySubscriptionID returns the newest key for a subscription;
	// older keys for the same subscription are terminal history.
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*AccessKey, error)
	// FindActiveOrUsedBySubscriptionID returns the subscription's live
	// key. At most one exists per subscription.
	FindActiveOrUsedBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*AccessKey, error)

	// MarkUsed succeeds only for a currently active, unexpired key.
	MarkUsed(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error)
	// MarkExpired succeeds only for a currently active key.
	MarkExpired(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error)
	// MarkRevoked succeeds only for a currently active key. A used key
	// already delivered its value and keeps used_at; expired and revoked
	// keys are already terminal.
	MarkRevoked(ctx context.Context, db *gorm.DB, token string, at time.Time) (bool, error)
	// RevokeByPaymentID revokes the active key tied to a payment.
	RevokeByPaymentID(ctx context.Context, db *gorm.DB, paymentID string, at time.Time) (bool, error)
	// Renew forces the newest key for a subscription back to active with
	// a new expiry, clearing any prior use. Exactly one row changes.
	Renew(ctx context.Context, db *gorm.DB, subscriptionID string, expiresAt, at time.Time) (bool, error)
}
