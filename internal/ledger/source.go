package ledger

import "context"

// SourceLookup probes for the existence of an originating record. The table
// argument comes from the allowlist entry, never from caller input.
type SourceLookup interface {
	SourceExists(ctx context.Context, table string, id int64) (bool, error)
}

// SourceValidator checks a posting's declared origin against the allowlist
// and then against storage.
type SourceValidator struct {
	allowlist *SourceAllowlist
	lookup    SourceLookup
}

// NewSourceValidator constructs a validator around an immutable allowlist.
func NewSourceValidator(allowlist *SourceAllowlist, lookup SourceLookup) *SourceValidator {
	return &SourceValidator{allowlist: allowlist, lookup: lookup}
}

// Validate rejects origins outside the allowlist before touching storage;
// only allowlisted origins reach the existence probe.
func (v *SourceValidator) Validate(ctx context.Context, module, kind string, id int64) error {
	if module == "" || kind == "" {
		return &SourceLinkageError{Module: module, Kind: kind, ID: id, Reason: "module and kind are required"}
	}
	if id <= 0 {
		return &SourceLinkageError{Module: module, Kind: kind, ID: id, Reason: "entity id must be positive"}
	}
	src, ok := v.allowlist.Lookup(module, kind)
	if !ok {
		return &SourceLinkageError{Module: module, Kind: kind, ID: id, Reason: "origin not allowlisted"}
	}
	exists, err := v.lookup.SourceExists(ctx, src.Table, id)
	if err != nil {
		return err
	}
	if !exists {
		return &SourceLinkageError{Module: module, Kind: kind, ID: id, Reason: "referenced record does not exist"}
	}
	return nil
}
