package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus enumerates ledger entry lifecycle values.
type EntryStatus string

// EntryStatusPosted is the only status an entry can hold. Entries are
// immutable once written; corrections are new offsetting entries.
const EntryStatusPosted EntryStatus = "POSTED"

// Entry is one posted journal entry in the general ledger.
type Entry struct {
	ID             int64           `json:"id"`
	Number         int64           `json:"number"`
	SourceModule   string          `json:"source_module"`
	SourceKind     string          `json:"source_kind"`
	SourceID       int64           `json:"source_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         EntryStatus     `json:"status"`
	Total          decimal.Decimal `json:"total"`
	Description    string          `json:"description"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []Line          `json:"lines"`
}

// Line stores a debit or credit amount against an account. Exactly one of
// Debit/Credit is positive; the other is zero.
type Line struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// LineInput describes one requested ledger line before posting.
type LineInput struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// CreateEntryInput groups the fields required to post an entry.
type CreateEntryInput struct {
	SourceModule   string      `json:"source_module" validate:"required"`
	SourceKind     string      `json:"source_kind" validate:"required"`
	SourceID       int64       `json:"source_id" validate:"gt=0"`
	Lines          []LineInput `json:"lines" validate:"dive"`
	IdempotencyKey string      `json:"idempotency_key" validate:"required"`
	Actor          string      `json:"actor" validate:"required"`
	Description    string      `json:"description"`
}

// EntryFilter narrows read-only entry queries for report tooling.
type EntryFilter struct {
	Actor        string
	SourceModule string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}
