// Package domain defines the billing webhook contract: the event
// envelope, the audit/dedupe record, and ingest outcomes.
package domain

import (
	"context"
	"errors"
	"time"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventPaymentApproved     = "payment.approved"
	EventPaymentCompleted    = "payment.completed"
	EventPaymentRefunded     = "payment.refunded"
	EventPaymentCancelled    = "payment.cancelled"
	EventPaymentFailed       = "payment.failed"
	EventSubscriptionCreated = "subscription_created"
	EventSubscriptionRenewed = "subscription_renewed"
)

// Envelope is the provider's webhook body.
type Envelope struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	ID             string   `json:"id"`
	Amount         float64  `json:"amount"`
	Currency       string   `json:"currency"`
	Customer       Customer `json:"customer"`
	PaymentMethod  string   `json:"payment_method"`
	SubscriptionID string   `json:"subscription_id"`
	PaidAt         string   `json:"paidAt"`
	CreatedAt      string   `json:"created_at"`
}

type Customer struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	DocNumber string `json:"docNumber"`
}

// EventRecord retains every accepted delivery for audit and dedupes
// payment events. DedupeKey is nil for subscription events, which
// legitimately recur each billing period.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventType   string         `json:"event_type" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_dedupe,priority:1"`
	DedupeKey   *string        `json:"dedupe_key,omitempty" gorm:"column:dedupe_key;type:text;uniqueIndex:ux_webhook_events_dedupe,priority:2"`
	Payload     datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "webhook_events" }

// Outcome summarizes what an accepted delivery did.
type Outcome string

const (
	OutcomeIssued    Outcome = "issued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRenewed   Outcome = "renewed"
	OutcomeRevoked   Outcome = "revoked"
	OutcomeIgnored   Outcome = "ignored"
)

type IngestResult struct {
	Outcome Outcome                    `json:"outcome"`
	Key     *accesskeydomain.AccessKey `json:"access_key,omitempty"`
}

type Service interface {
	// Ingest handles one raw webhook delivery. callerID identifies the
	// caller for rate limiting.
	Ingest(ctx context.Context, payload []byte, signatureHeader, callerID string) (IngestResult, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrRateLimited      = errors.New("rate_limited")
	ErrInvalidPayload   = errors.New("invalid_payload")
)
