package deployment

import (
	"slices"
	"sync"
)

// =============================================================================
// Run Ledger
// =============================================================================

// EntryKind identifies the runtime resource a ledger entry refers to.
type EntryKind string

const (
	EntryNetwork   EntryKind = "network"
	EntryVolume    EntryKind = "volume"
	EntryContainer EntryKind = "container"
)

// LedgerEntry records one resource created by a run. Service is set for
// containers only.
type LedgerEntry struct {
	Kind    EntryKind
	ID      string
	Name    string
	Service string
}

// Ledger is the append-only record of resources a run created. Resources
// that already existed and were accepted are never recorded, so rollback only
// removes what the run itself made. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []LedgerEntry
}

// Record appends an entry.
func (l *Ledger) Record(e LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the entries in creation order.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Reverse returns a copy of the entries newest first, the order rollback
// removes them in.
func (l *Ledger) Reverse() []LedgerEntry {
	out := l.Entries()
	slices.Reverse(out)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
