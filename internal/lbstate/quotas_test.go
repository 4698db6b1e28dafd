package lbstate

import (
	"testing"
	"time"
)

func TestQuotaForCreatesOnFirstAccess(t *testing.T) {
	table := NewQuotaTable(5, 100*1024, 16*1024)
	now := time.Now()

	q1 := table.QuotaFor("1.2.3.4", now)
	q2 := table.QuotaFor("1.2.3.4", now.Add(time.Second))

	if q1 != q2 {
		t.Fatalf("QuotaFor should return the same record for the same IP")
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

func TestQuotaForDistinctIPs(t *testing.T) {
	table := NewQuotaTable(5, 100*1024, 16*1024)
	now := time.Now()

	table.QuotaFor("1.1.1.1", now)
	table.QuotaFor("2.2.2.2", now)

	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
}

func TestCleanupEvictsStaleQuotas(t *testing.T) {
	table := NewQuotaTable(5, 100*1024, 16*1024)
	base := time.Now()

	table.QuotaFor("stale", base)
	table.QuotaFor("fresh", base)

	// Touch "fresh" again just before the sweep.
	table.QuotaFor("fresh", base.Add(6*time.Minute))

	evicted := table.Cleanup(base.Add(6 * time.Minute))
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

func TestCleanupKeepsRecentQuotas(t *testing.T) {
	table := NewQuotaTable(5, 100*1024, 16*1024)
	now := time.Now()
	table.QuotaFor("a", now)

	evicted := table.Cleanup(now.Add(time.Minute))
	if evicted != 0 || table.Len() != 1 {
		t.Fatalf("evicted=%d len=%d, want 0/1", evicted, table.Len())
	}
}
