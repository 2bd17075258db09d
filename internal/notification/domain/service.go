// Package domain defines the notification contract. Delivery is
// best-effort and decoupled from credential durability: a failed or
// dropped notification never fails the operation that produced it.
package domain

import "time"

type IntentKind string

const (
	IntentKindKeyIssued  IntentKind = "key_issued"
	IntentKindKeyRenewed IntentKind = "key_renewed"
)

// Intent is a queued request to notify a key owner.
type Intent struct {
	Kind       IntentKind
	OwnerEmail string
	OwnerName  string
	Token      string
	ExpiresAt  time.Time
}

type Dispatcher interface {
	// Enqueue never blocks; when the queue is full the intent is
	// dropped and logged.
	Enqueue(intent Intent)
}
