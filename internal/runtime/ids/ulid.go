// Package ids issues the time-ordered identifiers of exchange passes and bus
// envelopes.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID greater than every ULID this process issued before.
func New() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// CreateULID returns New in its 26-character string form.
func CreateULID() string {
	return New().String()
}

// Time reports when id was issued, to the millisecond.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}
