package connectoragents

import (
	"time"

	"github.com/google/uuid"
)

// NewAgentID generates a globally unique, time-sortable UUIDv7 identifier
// for an agent or scheduler.
func NewAgentID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewProvenanceUUID generates the fresh UUID shared by every downstream
// copy produced by a single Port.Send call (spec invariant P1).
func NewProvenanceUUID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NowUnixMS returns the current wall-clock time in Unix milliseconds, used
// to stamp envelopes at enqueue time.
func NowUnixMS() int64 {
	return time.Now().UnixMilli()
}
