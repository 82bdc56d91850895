// Package clock abstracts time and ID generation so business logic is
// deterministic in tests.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the actual current time in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	New() string
}

// UUIDv7 produces time-ordered UUIDs. Falls back to v4 if the v7
// generator fails.
type UUIDv7 struct{}

func (UUIDv7) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
