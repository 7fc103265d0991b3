package ledger

import (
	"encoding/json"
	"time"
)

// IdempotencyStatus enumerates reservation lifecycle values.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// OpCreateEntry is the operation type under which entry postings reserve
// their idempotency keys.
const OpCreateEntry = "ledger.create_entry"

// IdempotencyRecord tracks at-most-once execution of one operation.
type IdempotencyRecord struct {
	ID            int64
	OperationType string
	Key           string
	Status        IdempotencyStatus
	Result        json.RawMessage
	LastError     string
	ReservedAt    time.Time
	CompletedAt   *time.Time
	FailedAt      *time.Time
}

// Reservation is the outcome of a reserve attempt. When AlreadyCompleted is
// set, Result holds the stored snapshot and the caller must skip all side
// effects.
type Reservation struct {
	AlreadyCompleted bool
	Result           json.RawMessage
}
