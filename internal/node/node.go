// Package node implements the chat server's self-registration in the
// directory's node registry, which the load balancer's discovery loop
// reads to find live backends.
package node

import (
	"context"
	"time"

	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/logging"
)

// reregisterInterval is comfortably inside the 5s freshness window the
// LB's discovery loop uses to decide a node is live.
const reregisterInterval = 3 * time.Second

// Service re-registers this chat server's address in the directory.
type Service struct {
	dir      directory.Directory
	addr     string
	interval time.Duration
}

// New builds a node Service advertising addr.
func New(d directory.Directory, addr string) *Service {
	return &Service{dir: d, addr: addr, interval: reregisterInterval}
}

// reregisterIntervalForTest overrides the re-registration period so
// tests don't wait out the real 3s interval.
func (s *Service) reregisterIntervalForTest(d time.Duration) {
	s.interval = d
}

// Register performs the initial registration on startup.
func (s *Service) Register(ctx context.Context) error {
	return s.dir.RegisterNode(ctx, s.addr)
}

// Run registers once, then re-registers on reregisterInterval until ctx
// is canceled. Intended to run as a long-lived background task.
func (s *Service) Run(ctx context.Context) {
	if err := s.Register(ctx); err != nil {
		logging.L().Error("initial node registration failed", "addr", s.addr, "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Register(ctx); err != nil {
				logging.L().Warn("node re-registration failed", "addr", s.addr, "err", err)
			}
		}
	}
}
