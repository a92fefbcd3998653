// Package idgen generates identifiers for lock ownership and room events.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a monotonic ULID. Used as the owner token of a provisioning lock so that
// only the holder can release it.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewEventID returns a random id for a published room event.
func NewEventID() string {
	return uuid.NewString()
}
