package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a sortable identifier for cases, stages, documents, notes and
// audit rows. Rows created in the same millisecond keep insertion order.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewIdentity returns the id of an authenticated identity. Profiles share it.
func NewIdentity() string {
	return uuid.NewString()
}

// ValidIdentity reports whether s parses as an identity id.
func ValidIdentity(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// Valid reports whether s is a well-formed ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.TrimSpace(s))
	return err == nil
}
