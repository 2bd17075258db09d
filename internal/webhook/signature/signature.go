// Package signature authenticates billing webhook payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid_signature")

// Verifier recomputes the provider signature over the raw payload with
// the shared secret and compares in constant time.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return ErrInvalidSignature
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return ErrInvalidSignature
	}
	// Some providers prefix the hex digest with the algorithm name.
	header = strings.TrimPrefix(header, "sha256=")

	supplied, err := hex.DecodeString(header)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(supplied, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
