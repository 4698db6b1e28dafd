// Package lb implements the load balancer's four concurrent tasks: the
// TLS-terminating acceptor/handler pipeline, backend discovery, backend
// health checks, and quota-table cleanup.
package lb

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/lbstate"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/metrics"
	"github.com/maxrios/mcs/internal/ratelimit"
)

const (
	discoveryInterval    = 5 * time.Second
	healthInterval       = 3 * time.Second
	quotaCleanupInterval = 60 * time.Second
	healthDialTimeout    = 500 * time.Millisecond
	nodeFreshnessWindow  = 5 * time.Second
)

// Balancer wires the LB's shared state to the directory and holds the
// TLS configuration the acceptor terminates with.
type Balancer struct {
	Backends *lbstate.BackendSet
	Quotas   *lbstate.QuotaTable
	Dir      directory.Directory
	TLS      *tls.Config
}

// New builds a Balancer over the given state and directory.
func New(dir directory.Directory, tlsConf *tls.Config, connPerSec, bwBps, burstBytes int) *Balancer {
	return &Balancer{
		Backends: lbstate.NewBackendSet(),
		Quotas:   lbstate.NewQuotaTable(connPerSec, bwBps, burstBytes),
		Dir:      dir,
		TLS:      tlsConf,
	}
}

// Serve runs the acceptor loop against ln until ctx is canceled.
func (b *Balancer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logging.L().Error("accept failed", "err", err)
				return err
			}
		}
		go b.acceptOne(ctx, conn)
	}
}

// acceptOne implements the acceptor loop's per-connection steps: quota
// check, TLS handshake, bandwidth wrap, then handoff to handle.
func (b *Balancer) acceptOne(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	q := b.Quotas.QuotaFor(host, time.Now())
	if !q.ConnectionLimiter.Allow() {
		metrics.LBRejectedConnections.WithLabelValues(metrics.RejectQuotaExceeded).Inc()
		conn.Close()
		return
	}

	tlsConn := tls.Server(conn, b.TLS)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		metrics.LBRejectedConnections.WithLabelValues(metrics.RejectTLSHandshake).Inc()
		logging.L().Warn("tls handshake failed", "conn_id", connID, "peer", host, "err", err)
		tlsConn.Close()
		return
	}

	stream := ratelimit.New(tlsConn, q.BandwidthLimiter)
	metrics.LBAcceptedConnections.Inc()
	b.handle(ctx, connID, stream)
}

// handle picks a backend, dials it, and splices bytes bidirectionally
// until either side ends, always releasing the backend's connection
// count even on cancellation.
func (b *Balancer) handle(ctx context.Context, connID string, client net.Conn) {
	defer client.Close()

	addr, ok := b.Backends.PickBackend()
	if !ok {
		metrics.LBRejectedConnections.WithLabelValues(metrics.RejectNoBackend).Inc()
		return
	}

	backendConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.LBRejectedConnections.WithLabelValues(metrics.RejectDialFailed).Inc()
		logging.L().Warn("backend dial failed", "conn_id", connID, "backend", addr, "err", err)
		return
	}
	defer backendConn.Close()

	b.Backends.Inc(addr)
	defer b.Backends.Dec(addr)
	metrics.LBActiveConnections.Inc()
	defer metrics.LBActiveConnections.Dec()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(backendConn, client)
		if c, ok := backendConn.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, backendConn)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// RunDiscovery polls the directory's live node registry every 5s and
// reconciles it against the current backend set.
func (b *Balancer) RunDiscovery(ctx context.Context) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reconcileBackends(ctx)
		}
	}
}

func (b *Balancer) reconcileBackends(ctx context.Context) {
	minScore := time.Now().Add(-nodeFreshnessWindow).Unix()
	live, err := b.Dir.LiveNodes(ctx, minScore)
	if err != nil {
		logging.L().Warn("discovery: live_nodes failed", "err", err)
		return
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, addr := range live {
		liveSet[addr] = struct{}{}
		b.Backends.Add(addr)
	}
	for _, addr := range b.Backends.Addrs() {
		if _, ok := liveSet[addr]; !ok {
			b.Backends.Remove(addr)
		}
	}
}

// RunHealthChecks TCP-dials every known backend every 3s with a 500ms
// timeout and updates its health flag accordingly.
func (b *Balancer) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkBackends()
		}
	}
}

func (b *Balancer) checkBackends() {
	healthy := 0
	for _, addr := range b.Backends.Addrs() {
		conn, err := net.DialTimeout("tcp", addr, healthDialTimeout)
		ok := err == nil
		if ok {
			conn.Close()
			healthy++
		}
		b.Backends.SetHealth(addr, ok)
		active := 0
		if snap, found := b.Backends.Get(addr); found {
			active = int(snap.ActiveConnections)
		}
		metrics.LBBackendActiveConnections.WithLabelValues(addr).Set(float64(active))
	}
	metrics.LBHealthyBackends.Set(float64(healthy))
}

// RunQuotaCleanup evicts stale per-IP quota records every 60s.
func (b *Balancer) RunQuotaCleanup(ctx context.Context) {
	ticker := time.NewTicker(quotaCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := b.Quotas.Cleanup(time.Now())
			if evicted > 0 {
				logging.L().Info("quota cleanup evicted stale records", "count", evicted)
			}
		}
	}
}
