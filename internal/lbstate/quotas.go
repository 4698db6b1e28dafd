package lbstate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maxrios/mcs/internal/ratelimit"
)

// quotaTTL is how long a quota record survives without traffic before
// QuotaTable's cleanup task evicts it.
const quotaTTL = 5 * time.Minute

// Quota is the per-source-IP rate and bandwidth state.
type Quota struct {
	ConnectionLimiter *rate.Limiter
	BandwidthLimiter  *rate.Limiter

	mu         sync.Mutex
	lastSeenMs int64
}

func (q *Quota) touch(now time.Time) {
	q.mu.Lock()
	q.lastSeenMs = now.UnixMilli()
	q.mu.Unlock()
}

func (q *Quota) idleSince(now time.Time) time.Duration {
	q.mu.Lock()
	last := q.lastSeenMs
	q.mu.Unlock()
	return now.Sub(time.UnixMilli(last))
}

// QuotaTable is the LB's per-IP quota registry.
type QuotaTable struct {
	connPerSec  int
	bwBytesSec  int
	burstBytes  int

	mu     sync.Mutex
	quotas map[string]*Quota
}

// NewQuotaTable builds an empty table; new quotas are created with the
// given connection-rate and bandwidth limits.
func NewQuotaTable(connPerSec, bwBytesSec, burstBytes int) *QuotaTable {
	return &QuotaTable{
		connPerSec: connPerSec,
		bwBytesSec: bwBytesSec,
		burstBytes: burstBytes,
		quotas:     make(map[string]*Quota),
	}
}

// QuotaFor returns the quota record for ip, creating it on first access,
// and stamps its last-seen time to now.
func (t *QuotaTable) QuotaFor(ip string, now time.Time) *Quota {
	t.mu.Lock()
	q, ok := t.quotas[ip]
	if !ok {
		q = &Quota{
			ConnectionLimiter: ratelimit.NewConnectionLimiter(t.connPerSec),
			BandwidthLimiter:  ratelimit.NewBandwidthLimiter(t.bwBytesSec, t.burstBytes),
		}
		t.quotas[ip] = q
	}
	t.mu.Unlock()
	q.touch(now)
	return q
}

// Cleanup evicts quota records whose last-seen time is at least 5
// minutes before now. Intended to run every 60s from a background task.
func (t *QuotaTable) Cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for ip, q := range t.quotas {
		if q.idleSince(now) >= quotaTTL {
			delete(t.quotas, ip)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked quotas (for tests/metrics).
func (t *QuotaTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.quotas)
}
