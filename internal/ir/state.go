package ir

// FormatVersion is the state document format this build reads and writes.
// Documents carrying any other version are rejected, never guessed at.
const FormatVersion = 1

// State is the persisted document: every applied record plus the
// provider lock set that produced them.
type State struct {
	FormatVersion int                   `json:"format_version"`
	Lineage       string                `json:"lineage"`
	Serial        int                   `json:"serial"`
	Resources     []*Record             `json:"resources"`
	ProviderLocks map[string]*LockEntry `json:"provider_locks,omitempty"`
	Outputs       map[string]any        `json:"outputs,omitempty"`
}

// Record is the last-applied snapshot of one address. Its Serial increases
// by one on every successful write; writers must present the serial they
// read or the write is rejected.
type Record struct {
	Address         string         `json:"address"`
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Provider        string         `json:"provider"`
	ProviderVersion string         `json:"provider_version,omitempty"`
	Serial          int            `json:"serial"`
	Attributes      map[string]any `json:"attributes"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	PreventDestroy  bool           `json:"prevent_destroy,omitempty"`
}

// LockEntry pins one provider to an exact resolved version.
type LockEntry struct {
	Version   string   `json:"version"`
	Checksums []string `json:"checksums,omitempty"`
}

// RecordMap indexes the state's records by address.
func (s *State) RecordMap() map[string]*Record {
	m := make(map[string]*Record, len(s.Resources))
	for _, rec := range s.Resources {
		m[rec.Address] = rec
	}
	return m
}
