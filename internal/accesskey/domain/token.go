package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TokenGenerator produces globally unique, human-typeable key tokens.
// Tokens are ULIDs: a monotonically increasing time component plus a
// random component, rendered as uppercase Crockford base32.
type TokenGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *TokenGenerator) Generate(now time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now.UTC()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
