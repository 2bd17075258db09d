// Package clock abstracts time access so expiry and renewal logic stay
// deterministic under test.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

// Module wires the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
