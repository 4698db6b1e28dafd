// Package ratelimit implements the LB's per-IP token-bucket quotas: a
// connection-rate limiter and a bandwidth-limited net.Conn wrapper.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// NewConnectionLimiter returns a token bucket allowing connPerSec new
// connections per second per IP, with a burst of connPerSec (spec: 5 new
// connections/sec/IP).
func NewConnectionLimiter(connPerSec int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(connPerSec), connPerSec)
}

// NewBandwidthLimiter returns a token bucket allowing bytesPerSec bytes/sec
// with the given burst (spec: 100 KiB/s, 16 KiB burst).
func NewBandwidthLimiter(bytesPerSec, burstBytes int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes)
}

// Stream wraps a net.Conn, throttling Read throughput against a shared
// bandwidth limiter. Writes pass through unchanged.
//
// Accounting is post-hoc: after each successful Read of k>0 bytes, k
// tokens are requested from the limiter. If the limiter can't grant them
// immediately, the computed delay is applied before the *next* Read
// returns, not the current one — so a single Read that exceeds the
// refill rate is still delivered whole, and throttling only clamps
// throughput across successive reads. A Read that starts while a
// previous suspension is pending waits for it first.
type Stream struct {
	net.Conn
	limiter *rate.Limiter

	mu      sync.Mutex
	pending time.Duration
}

// New wraps conn with bandwidth throttling driven by limiter. limiter is
// shared by reference across every stream for the same source IP.
func New(conn net.Conn, limiter *rate.Limiter) *Stream {
	return &Stream{Conn: conn, limiter: limiter}
}

func (s *Stream) waitPending() {
	s.mu.Lock()
	delay := s.pending
	s.pending = 0
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

// Read reads from the underlying connection, applying any throttling
// delay computed from the previous Read before issuing this one.
func (s *Stream) Read(p []byte) (int, error) {
	s.waitPending()

	n, err := s.Conn.Read(p)
	if n > 0 {
		reservation := s.limiter.ReserveN(time.Now(), n)
		if reservation.OK() {
			s.mu.Lock()
			s.pending = reservation.DelayFrom(time.Now())
			s.mu.Unlock()
		} else {
			// n exceeds what the limiter could ever grant in one
			// reservation (e.g. a read larger than the burst size).
			// Deliver it without penalty rather than blocking forever;
			// the next read still accounts for whatever the limiter
			// can track.
			reservation.Cancel()
		}
	}
	return n, err
}

// Write passes through unchanged.
func (s *Stream) Write(p []byte) (int, error) {
	return s.Conn.Write(p)
}
