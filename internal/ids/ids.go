// Package ids issues the engine's identifiers: random UUIDs for
// organization and user rows, lexicographically sortable ULIDs for
// audit rows. The monotonic entropy source needs a lock; keep NewULID
// out of hot paths that do not want serialization.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string based on the current UTC time.
func NewULID() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewUUID returns a random version 4 UUID string.
func NewUUID() string {
	return uuid.NewString()
}
