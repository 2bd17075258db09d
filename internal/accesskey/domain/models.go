// Package domain contains the persistence model and contracts for access keys.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// KeyStatus represents lifecycle states for an access key.
// used, expired and revoked are terminal.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusUsed    KeyStatus = "used"
	KeyStatusExpired KeyStatus = "expired"
	KeyStatusRevoked KeyStatus = "revoked"
)

// PaymentMethod enumerates the billing provider's settlement methods.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodBoleto     PaymentMethod = "boleto"
)

// ParsePaymentMethod normalizes the provider's payment_method value.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "credit_card", "creditcard", "credit-card", "card":
		return PaymentMethodCreditCard, true
	case "debit_card", "debitcard", "debit-card":
		return PaymentMethodDebitCard, true
	case "pix":
		return PaymentMethodPix, true
	case "boleto":
		return PaymentMethodBoleto, true
	default:
		return "", false
	}
}

// RecurringCapable reports whether the method can back a subscription.
func (m PaymentMethod) RecurringCapable() bool {
	return m == PaymentMethodCreditCard || m == PaymentMethodDebitCard
}

// AccessKey grants time-bound product access, issued per successful payment.
// Expired, used and revoked keys are retained for audit.
type AccessKey struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	Token          string        `json:"token" gorm:"type:text;not null;uniqueIndex:ux_access_keys_token"`
	OwnerID        string        `json:"owner_id" gorm:"column:owner_id;type:text;not null;index"`
	OwnerEmail     string        `json:"owner_email" gorm:"type:text;not null"`
	OwnerName      string        `json:"owner_name" gorm:"type:text;not null"`
	PaymentID      string        `json:"payment_id" gorm:"column:payment_id;type:text;not null;uniqueIndex:ux_access_keys_payment_id"`
	PaymentMethod  PaymentMethod `json:"payment_method" gorm:"type:text;not null"`
	Status         KeyStatus     `json:"status" gorm:"type:text;not null;index"`
	IsRecurring    bool          `json:"is_recurring" gorm:"not null;default:false"`
	SubscriptionID *string       `json:"subscription_id,omitempty" gorm:"column:subscription_id;type:text;index;uniqueIndex:ux_access_keys_subscription_live,where:status = 'active' or status = 'used'"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	ExpiresAt      time.Time     `json:"expires_at" gorm:"not null"`
	UsedAt         *time.Time    `json:"used_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (AccessKey) TableName() string { return "access_keys" }

// OwnerIDFromEmail derives the stable owner join key from the billing email.
func OwnerIDFromEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
