// Package ids produces the identifiers syncflow stamps on broker messages:
// message UUIDs and correlation ids are ULIDs so they sort by creation time.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a monotonic ULID for the current instant.
func CreateULID() string {
	return NewAt(time.Now())
}

// NewAt returns a monotonic ULID for the given instant.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the creation instant from a ULID string.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
