package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrConcurrentOperation indicates another execution with the same
	// idempotency key is in flight. Callers may retry.
	ErrConcurrentOperation = errors.New("ledger: operation already in flight for this idempotency key")
	// ErrEntryNotFound indicates a missing entry.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrNoLines indicates an entry was posted with zero lines.
	ErrNoLines = errors.New("ledger: entry requires at least one line")
)

// SourceLinkageError reports an origin that is not allowlisted or whose
// referenced record does not exist.
type SourceLinkageError struct {
	Module string
	Kind   string
	ID     int64
	Reason string
}

func (e *SourceLinkageError) Error() string {
	return fmt.Sprintf("ledger: source linkage rejected for (%s, %s, %d): %s", e.Module, e.Kind, e.ID, e.Reason)
}

// RequestValidationError reports a request-level field that is missing or
// malformed, before any line is looked at.
type RequestValidationError struct {
	Field  string
	Reason string
}

func (e *RequestValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid request: %s %s", e.Field, e.Reason)
}

// LineValidationError reports a line violating the debit-xor-credit rule or
// the precision limit.
type LineValidationError struct {
	Index  int
	Reason string
}

func (e *LineValidationError) Error() string {
	return fmt.Sprintf("ledger: line %d invalid: %s", e.Index, e.Reason)
}

// UnbalancedEntryError carries the mismatched totals.
type UnbalancedEntryError struct {
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("ledger: entry does not balance: debit %s != credit %s", e.TotalDebit.StringFixed(2), e.TotalCredit.StringFixed(2))
}

// InternalConsistencyError reports a failed post-write re-check. It signals a
// bug in the orchestrator, never bad caller input.
type InternalConsistencyError struct {
	EntryID int64
	Detail  string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("ledger: internal consistency check failed for entry %d: %s", e.EntryID, e.Detail)
}
