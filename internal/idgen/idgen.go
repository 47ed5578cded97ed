// Package idgen centralizes identifier generation so entity IDs stay
// consistent across stores, jobs, and wire payloads.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a lexically sortable ID for primary entities
// (sessions, branches, messages, interventions).
func NewULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewUUID returns a random UUID for secondary or ephemeral identifiers
// (idempotency keys, job IDs, websocket connection IDs).
func NewUUID() string {
	return uuid.NewString()
}

// IdempotencyKey is a convenience alias kept distinct from NewUUID callers
// so call sites document intent even though the underlying generator is
// the same.
func IdempotencyKey() string {
	return uuid.NewString()
}
