// Package ids generates the identifiers used across the engine. Instance IDs
// are ULIDs so that listings sort by launch time; event and flow IDs are
// random UUIDs because nothing orders by them.
package ids

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

// NewInstanceID returns a time-sortable ULID encoded as a 26-character string.
func NewInstanceID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewEventID returns a random UUID for a lifecycle event.
func NewEventID() string {
	return uuid.NewString()
}

// NewFlowID returns a random UUID for flows declared without an explicit ID.
func NewFlowID() string {
	return uuid.NewString()
}
