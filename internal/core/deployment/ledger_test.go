package deployment

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReverseOrder(t *testing.T) {
	var l Ledger
	l.Record(LedgerEntry{Kind: EntryNetwork, ID: "n1", Name: "shop_default"})
	l.Record(LedgerEntry{Kind: EntryVolume, ID: "shop_data", Name: "shop_data"})
	l.Record(LedgerEntry{Kind: EntryContainer, ID: "c1", Name: "shop_db", Service: "db"})

	rev := l.Reverse()
	require.Len(t, rev, 3)
	assert.Equal(t, EntryContainer, rev[0].Kind)
	assert.Equal(t, EntryVolume, rev[1].Kind)
	assert.Equal(t, EntryNetwork, rev[2].Kind)

	// Reverse must not reorder the ledger itself.
	assert.Equal(t, EntryNetwork, l.Entries()[0].Kind)
}

func TestLedger_EntriesIsACopy(t *testing.T) {
	var l Ledger
	l.Record(LedgerEntry{Kind: EntryContainer, ID: "c1"})

	entries := l.Entries()
	entries[0].ID = "mutated"
	assert.Equal(t, "c1", l.Entries()[0].ID)
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	var l Ledger
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Record(LedgerEntry{Kind: EntryContainer, ID: fmt.Sprintf("c%d", i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}
