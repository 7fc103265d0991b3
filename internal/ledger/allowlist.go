package ledger

import (
	"fmt"
	"strings"
)

// AllowedSource names one permitted posting origin and the table backing its
// existence check.
type AllowedSource struct {
	Module string
	Kind   string
	Table  string
}

// SourceAllowlist is the immutable set of permitted (module, kind) pairs.
// It is built once at process start and never mutated afterwards.
type SourceAllowlist struct {
	entries map[string]AllowedSource
}

func allowlistKey(module, kind string) string {
	return module + "/" + kind
}

// NewSourceAllowlist builds an allowlist from explicit entries.
func NewSourceAllowlist(sources []AllowedSource) *SourceAllowlist {
	entries := make(map[string]AllowedSource, len(sources))
	for _, s := range sources {
		entries[allowlistKey(s.Module, s.Kind)] = s
	}
	return &SourceAllowlist{entries: entries}
}

// ParseSourceAllowlist parses the configuration form
// "module:kind:table,module:kind:table,...".
func ParseSourceAllowlist(raw string) (*SourceAllowlist, error) {
	var sources []AllowedSource
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("ledger: malformed allowlist entry %q, want module:kind:table", part)
		}
		src := AllowedSource{Module: fields[0], Kind: fields[1], Table: fields[2]}
		if src.Module == "" || src.Kind == "" || src.Table == "" {
			return nil, fmt.Errorf("ledger: allowlist entry %q has empty field", part)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("ledger: allowlist is empty")
	}
	return NewSourceAllowlist(sources), nil
}

// Lookup reports whether (module, kind) is permitted and returns its entry.
func (a *SourceAllowlist) Lookup(module, kind string) (AllowedSource, bool) {
	if a == nil {
		return AllowedSource{}, false
	}
	src, ok := a.entries[allowlistKey(module, kind)]
	return src, ok
}

// Len returns the number of permitted origins.
func (a *SourceAllowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}
