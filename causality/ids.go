// Package causality provides the identifier and sequencing primitives
// threaded through every event the kernel emits: session, turn, and span
// IDs, wall-clock timestamps, and a per-session monotonic sequence number.
package causality

import (
	"time"

	"github.com/google/uuid"
)

// SessionID, TurnID, and SpanID are string newtypes so a caller can't pass
// a turn ID where a span ID is expected without the compiler noticing.
type (
	SessionID string
	TurnID    string
	SpanID    string
)

// NewSessionID generates a new opaque session identifier.
func NewSessionID() SessionID {
	return SessionID("sess-" + uuid.Must(uuid.NewV7()).String())
}

// NewTurnID generates a new opaque turn identifier.
func NewTurnID() TurnID {
	return TurnID("turn-" + uuid.Must(uuid.NewV7()).String())
}

// NewSpanID generates a new opaque span identifier.
func NewSpanID() SpanID {
	return SpanID("span-" + uuid.Must(uuid.NewV7()).String())
}

// Clock abstracts wall-clock time so callers can inject a fixed clock in
// tests instead of asserting against live timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Now returns the current UTC time from the default SystemClock. It is
// formatted as ISO-8601 only when written into an Envelope's fields.
// Sessions stamp their events with their own configured Clock instead.
func Now() time.Time {
	return SystemClock{}.Now()
}
