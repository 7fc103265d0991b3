package ledger

import "context"

// Gateway is the single entry point for ledger postings. Business subsystems
// depend on this interface; the storage-backed Service and the in-memory
// test wiring both satisfy it.
type Gateway interface {
	// CreateEntry posts one balanced journal entry, at most once per
	// idempotency key. A repeat call with a completed key returns the
	// original entry without re-executing side effects.
	CreateEntry(ctx context.Context, in CreateEntryInput) (Entry, error)
	// GetEntry returns one committed entry with its lines.
	GetEntry(ctx context.Context, id int64) (Entry, error)
	// ListEntries returns committed entries for report tooling. Uncommitted
	// intermediate state is never observable here.
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}
