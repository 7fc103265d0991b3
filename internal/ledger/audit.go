package ledger

import (
	"encoding/json"
	"time"
)

// Audit actions recorded by the gateway.
const (
	AuditActionEntryPosted   = "ledger.entry.posted"
	AuditActionEntryRejected = "ledger.entry.rejected"
)

// AuditRecord is one immutable row of the gateway's append-only trail. One
// record is written per terminal outcome, success or failure.
type AuditRecord struct {
	ID            int64           `json:"id"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entity_id"`
	Action        string          `json:"action"`
	Actor         string          `json:"actor"`
	SourceService string          `json:"source_service"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Context       map[string]any  `json:"context,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
